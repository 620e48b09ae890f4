// Package main is the entry point of the application
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beer-chess/game-server/internal/auth"
	"github.com/beer-chess/game-server/pkg/config"
	"github.com/beer-chess/game-server/pkg/events"
	"github.com/beer-chess/game-server/pkg/registry"
	"github.com/beer-chess/game-server/pkg/server"
)

// janitorInterval is how often the registry sweeps finished games and
// expired restore proofs.
const janitorInterval = time.Minute

// application encapsulates global dependencies
type application struct {
	Auth      *auth.APIKeyAuth
	Logger    *zap.Logger
	Config    *config.Config
	Publisher *events.Publisher
	Registry  *registry.Registry
	Hub       *server.Hub
	Server    *http.Server
	Upgrader  websocket.Upgrader

	StartTime time.Time
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.String("port", "", "server port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if *debug {
		cfg.Debug = true
	}
	if *port != "" {
		cfg.Port = *port
	}

	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	gate, err := auth.NewGate(cfg.ProofKeyBytes())
	if err != nil {
		logger.Fatal("proof gate error", zap.Error(err))
	}

	publisher := events.NewPublisher()

	reg := registry.New(registry.Options{
		Gate:          gate,
		Publisher:     publisher,
		Logger:        logger,
		Wall:          clockwork.NewRealClock(),
		EvictionGrace: cfg.EvictionGrace,
		ProofTTL:      cfg.ProofTTL,
	})
	reg.StartJanitor(janitorInterval)

	hub := server.NewHub(reg, gate, publisher, logger)

	app := &application{
		Auth:      auth.NewAPIKeyAuth(cfg.APIKeys),
		Logger:    logger,
		Config:    cfg,
		Publisher: publisher,
		Registry:  reg,
		Hub:       hub,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowedOrigin == "" {
					return true
				}
				return r.Header.Get("Origin") == cfg.AllowedOrigin
			},
		},
		StartTime: time.Now(),
	}

	go app.Hub.Run()

	if err := app.serve(); err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	if app.Hub != nil {
		app.Hub.Shutdown()
	}
	if app.Registry != nil {
		app.Registry.Stop()
	}

	app.Logger.Info("All components shut down successfully")
}
