package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"warfront/pkg/api"
	gametypes "warfront/pkg/game/types"
	"warfront/pkg/log"
	"warfront/pkg/network"
	"warfront/pkg/repositories"
	"warfront/pkg/rooms"
	"warfront/pkg/version"
	"warfront/pkg/workers"
)

func main() {
	wsPort := flag.Int("ws-port", 8888, "WebSocket port to listen on")
	apiPort := flag.Int("api-port", 8889, "HTTP API port to listen on")
	motd := flag.String("motd", "", "Message of the day sent in the server greeting")
	logLevel := flag.String("log-level", "info", "Log level")
	sqlitePath := flag.String("sqlite-path", "warfront.db", "Path to the SQLite database file (used when DATABASE_URL is not set)")
	certFile := flag.String("cert-file", "", "Path to a TLS certificate file")
	keyFile := flag.String("key-file", "", "Path to a TLS key file")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting server version %s", version.Get())
	ctx := context.Background()

	var repository repositories.Repository
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		repository, err = repositories.NewPostgresRepository(ctx, connStr)
	} else {
		repository, err = repositories.NewSQLiteRepository(ctx, *sqlitePath)
	}
	if err != nil {
		panic(fmt.Sprintf("Failed to create repository: %v", err))
	}
	defer repository.Close(ctx)

	resultChanSize := 100
	resultChan := make(chan gametypes.MatchResult, resultChanSize)

	registry := rooms.NewRegistry(ctx, rooms.NewRegistryOptions{
		ResultChan: resultChan,
	})

	saveWorker := workers.NewSaveMatchResultWorker(workers.NewSaveMatchResultWorkerOptions{
		Repository: repository,
		ResultChan: resultChan,
	})
	go saveWorker.Start(ctx)

	clientManager := network.NewClientManager()
	dispatcher := rooms.NewDispatcher(rooms.NewDispatcherOptions{
		Registry:      registry,
		ClientManager: clientManager,
	})

	var wsTLS *network.TLSConfig
	var apiTLS *api.TLSConfig
	if *certFile != "" && *keyFile != "" {
		wsTLS = &network.TLSConfig{CertFile: *certFile, KeyFile: *keyFile}
		apiTLS = &api.TLSConfig{CertFile: *certFile, KeyFile: *keyFile}
	}

	apiServer := api.NewAPIServer(api.NewAPIServerOptions{
		Port:       *apiPort,
		TLS:        apiTLS,
		Registry:   registry,
		Repository: repository,
	})
	go apiServer.Start()

	wsServer := network.NewWSServer(network.NewWSServerOptions{
		Port:              *wsPort,
		TLS:               wsTLS,
		MOTD:              *motd,
		ClientManager:     clientManager,
		MessageHandler:    dispatcher.HandleMessage,
		DisconnectHandler: dispatcher.HandleDisconnect,
	})
	wsServer.Start(ctx)
}
