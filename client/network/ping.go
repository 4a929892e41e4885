package network

import (
	"sort"
	"sync"
)

const maxRecentRTTs = 10

// PingTracker keeps the most recent round-trip times and exposes an
// outlier-filtered average.
type PingTracker struct {
	mu         sync.Mutex
	recentRTTs []int64
}

func NewPingTracker() *PingTracker {
	return &PingTracker{}
}

// Record adds a round-trip time sample in milliseconds.
func (t *PingTracker) Record(rtt int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recentRTTs = append(t.recentRTTs, rtt)
	for len(t.recentRTTs) > maxRecentRTTs {
		t.recentRTTs = t.recentRTTs[1:]
	}
}

// Samples returns a copy of the retained RTT samples, oldest first.
func (t *PingTracker) Samples() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	samples := make([]int64, len(t.recentRTTs))
	copy(samples, t.recentRTTs)
	return samples
}

// Average returns the mean of the retained samples after dropping
// outliers.
func (t *PingTracker) Average() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	sampleRTTs := removeOutlierRTTs(t.recentRTTs)
	if len(sampleRTTs) == 0 {
		return 0
	}
	ping := 0.0
	for _, p := range sampleRTTs {
		ping += float64(p)
	}
	return ping / float64(len(sampleRTTs))
}

// removeOutlierRTTs removes outlier RTTs from the recent RTTs.
// An outlier RTT is defined as an RTT that is greater than 2 times the
// median RTT and is also greater than 20ms.
func removeOutlierRTTs(recentRTTs []int64) []int64 {
	result := make([]int64, 0)
	medianRTT := medianRTT(recentRTTs)
	for i := 0; i < len(recentRTTs); i++ {
		if recentRTTs[i] > 2*medianRTT && recentRTTs[i] > 20 {
			continue
		}
		result = append(result, recentRTTs[i])
	}
	return result
}

// medianRTT returns the median RTT from a slice of RTTs.
func medianRTT(recentRTTs []int64) int64 {
	if len(recentRTTs) == 0 {
		return 0
	}
	sortedRTTs := make([]int64, len(recentRTTs))
	copy(sortedRTTs, recentRTTs)
	sort.Slice(sortedRTTs, func(i, j int) bool {
		return sortedRTTs[i] < sortedRTTs[j]
	})
	if len(sortedRTTs)%2 == 0 {
		return (sortedRTTs[len(sortedRTTs)/2-1] + sortedRTTs[len(sortedRTTs)/2]) / 2
	}
	return sortedRTTs[len(sortedRTTs)/2]
}
