package kinematic

// This package includes the scalar kinematic helpers shared by the server
// simulation step and the client-side motion predictor.

import (
	"math"
)

// FinalVelocity returns the final velocity of an object given its initial velocity, time, and acceleration.
func FinalVelocity(initialVelocity float64, time float64, acceleration float64) float64 {
	return initialVelocity + acceleration*time
}

// Accelerate moves speed toward max at the given rate, clamped at max.
func Accelerate(speed, max, rate, deltaTime float64) float64 {
	speed = FinalVelocity(speed, deltaTime, rate)
	if speed > max {
		return max
	}
	return speed
}

// Decelerate moves speed toward zero at the given rate, clamped at zero.
func Decelerate(speed, rate, deltaTime float64) float64 {
	speed = FinalVelocity(speed, deltaTime, -rate)
	if speed < 0 {
		return 0
	}
	return speed
}

// Distance returns the euclidean distance between two points.
func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}
