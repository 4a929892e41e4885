package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warfront/client/network"
	"warfront/client/session"
	"warfront/pkg/log"
	"warfront/pkg/messages"
	"warfront/pkg/queue"
	"warfront/pkg/version"
)

// A headless client for exercising a server: it connects, joins a room,
// and reports lifecycle transitions. Useful for smoke-testing deployments
// and for filling lobbies during development.
func main() {
	serverURL := flag.String("url", "ws://localhost:8888", "WebSocket server URL")
	joinCode := flag.String("join-code", "", "Room id to join directly")
	mapType := flag.String("map-type", "", "Preferred map type for quick join")
	botCount := flag.Int("bots", 0, "Create a custom game with this many bots instead of joining")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)

	log.Info("Starting client version %s", version.Get())

	// Server messages are queued off the transport goroutine and drained
	// on the update loop so all session state changes happen on one
	// goroutine.
	serverMessageQueue := queue.NewInMemoryQueue(1000)
	manager := network.NewConnectionManager(network.NewConnectionManagerOptions{
		ClientVersion: version.Get(),
		UserAgent:     "warfront-headless",
		MessageHandler: func(msg *messages.Message) {
			if err := serverMessageQueue.Enqueue(msg); err != nil {
				log.Error("Failed to enqueue server message: %v", err)
			}
		},
	})
	sess := session.NewSession(session.NewSessionOptions{
		Connection: manager,
	})

	joined := false
	manager.Subscribe(func(state network.State) {
		log.Info("Connection: %s %s", state.Phase, state.Reason)
		switch state.Phase {
		case network.PhaseReady:
			if joined {
				// Reconnected mid-session: ask for a state resync.
				if err := sess.RequestGameState(); err != nil {
					log.Error("Failed to request game state: %v", err)
				}
				return
			}
			joined = true
			go func() {
				var err error
				switch {
				case *joinCode != "":
					err = sess.JoinByCode(*joinCode)
				case *botCount > 0:
					err = sess.CreateCustomGame(*mapType, *botCount, "normal")
				default:
					err = sess.QuickJoin(*mapType, false)
				}
				if err != nil {
					log.Error("Failed to join: %v", err)
				}
			}()
		case network.PhaseFailed:
			log.Error("Connection failed: %s (%s)", state.Reason, state.Details)
			os.Exit(1)
		}
	})

	sess.Gate().Subscribe(func(view session.View) {
		log.Info("View: %s", view)
	})

	manager.Connect(*serverURL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Fixed-step update loop standing in for a render loop.
	updateInterval := 50 * time.Millisecond
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sigChan:
			log.Info("Shutting down")
			manager.Cancel()
			return
		case <-ticker.C:
			pending, err := serverMessageQueue.ReadAllMessages()
			if err != nil {
				log.Error("Failed to read server messages: %v", err)
				continue
			}
			for _, item := range pending {
				msg, ok := item.(*messages.Message)
				if !ok {
					log.Error("Unexpected item in server message queue: %T", item)
					continue
				}
				sess.HandleMessage(msg)
			}
			sess.Update(updateInterval.Seconds(), 1/updateInterval.Seconds())
		}
	}
}
