package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/tesfam/bingo-engine/configs"
	"github.com/tesfam/bingo-engine/internal/archive"
	"github.com/tesfam/bingo-engine/internal/broker"
	"github.com/tesfam/bingo-engine/internal/comm"
	"github.com/tesfam/bingo-engine/internal/db"
	"github.com/tesfam/bingo-engine/internal/engine"
	"github.com/tesfam/bingo-engine/internal/handlers"
	"github.com/tesfam/bingo-engine/internal/ledger"
	nats "github.com/tesfam/bingo-engine/internal/nats"
)

const SERVICE_NAME = "game"

var instanceId string

func init() {
	instanceId = "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ledger: durable pg store when configured, in-process otherwise
	var lg ledger.Ledger
	if os.Getenv("POSTGRES_URL") != "" {
		dbpool, err := db.Connect()
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer db.ClosePool()
		log.Printf("pg connection established successfully")

		pgLedger := ledger.NewPostgres(dbpool)
		if err := pgLedger.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure ledger schema: %v", err)
		}
		lg = pgLedger
	} else {
		log.Warn("POSTGRES_URL not set, using in-memory ledger")
		lg = ledger.NewMemory()
	}

	// finished-session archive is optional
	var archiver engine.Archiver
	if os.Getenv("MONGODB_URI") != "" {
		store, err := archive.Connect(ctx, 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to connect session archive: %v", err)
		}
		archiver = store
		log.Printf("mongo session archive ready")
	}

	// Connect to NATS
	n, err := nats.Connect()
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(1)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	// init message broker and session registry; the broker doubles as
	// the engine's notifier for room broadcasts
	b := broker.NewBroker(n.Conn)
	registry := engine.NewRegistry(lg, b, archiver, engine.Config{
		MinPlayers:   envInt("MIN_PLAYERS", 2),
		CallInterval: time.Duration(envInt("CALL_INTERVAL_SECONDS", 5)) * time.Second,
	})
	b.Registry = registry
	b.Ledger = lg

	// subscribe to socket gateway commands
	sub, err := b.SubscribeSocketService(comm.SubjectSocket)
	if err != nil {
		log.Errorf("Error: unable to subscribe to %s %v", comm.SubjectSocket, err)
		os.Exit(1)
	}

	// auto-start eligible rooms and reap settled finished ones
	go registry.RunSweeper(ctx,
		5*time.Second,
		time.Duration(envInt("ROOM_START_AGE_SECONDS", 30))*time.Second,
		time.Duration(envInt("ROOM_RETENTION_SECONDS", 300))*time.Second,
	)

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(envInt("RATE_LIMIT", 100), 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(registry)
	h.InitAuth()
	h.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + os.Getenv("GAME_SERVICE_PORT"),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	sub.Unsubscribe()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("Invalid %s value: %v", key, err)
	}
	return n
}
