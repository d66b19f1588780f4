package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"CareChat/internal/assistant"
	"CareChat/internal/config"
	"CareChat/internal/files"
	"CareChat/internal/health"
	"CareChat/internal/repl"
	"CareChat/internal/server"
	"CareChat/internal/store"
	"CareChat/internal/telemetry"
)

func main() {
	var (
		configPath string
		serve      bool
		addr       string
		endpoint   string
		model      string
		dbPath     string
		userID     string
		token      string
		tokens     string
		debug      bool
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.BoolVar(&serve, "serve", false, "Run the HTTP API instead of the interactive chat")
	flag.StringVar(&addr, "addr", "", "Listen address for -serve (overrides config)")
	flag.StringVar(&endpoint, "endpoint", "", "Completions endpoint URL (overrides config)")
	flag.StringVar(&model, "model", "", "Completion model (overrides config)")
	flag.StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	flag.StringVar(&userID, "user", "local", "User id for the interactive chat")
	flag.StringVar(&token, "token", "", "Session token for the interactive chat")
	flag.StringVar(&tokens, "tokens", "", "Comma-separated token:user pairs accepted by -serve")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if endpoint != "" {
		cfg.CompletionsURL = endpoint
	}
	if model != "" {
		cfg.Model = model
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	cfg.Debug = cfg.Debug || debug

	logger, err := telemetry.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}

	uploads, err := files.NewDiskStore(cfg.UploadDir, cfg.UploadURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare upload directory: %v\n", err)
		os.Exit(1)
	}

	if serve {
		verifier := parseTokens(tokens)
		srv := server.New(server.Options{
			Config:   cfg,
			Store:    db,
			Records:  db,
			Uploads:  uploads,
			Verifier: verifier,
			Logger:   logger,
			Tracer:   tracer,
			Meter:    meter,
		})
		logger.Info("starting API server", "addr", cfg.ListenAddr)
		if err := srv.Router().Run(cfg.ListenAddr); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	mgr := assistant.NewManager(assistant.Options{
		Store:          db,
		Contexts:       health.Loader{Records: db},
		Notifier:       repl.Notifier{Out: os.Stdout},
		Logger:         logger,
		Tracer:         tracer,
		Meter:          meter,
		CompletionsURL: cfg.CompletionsURL,
		Model:          cfg.Model,
		PublicKey:      cfg.PublicKey,
		UserID:         userID,
		Token:          token,
	})

	if err := repl.New(mgr, logger, os.Stdin, os.Stdout).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseTokens turns "token:user,token:user" into a static verifier.
func parseTokens(pairs string) server.StaticVerifier {
	verifier := server.StaticVerifier{}
	if pairs == "" {
		pairs = os.Getenv("CARECHAT_TOKENS")
	}
	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		verifier[token] = user
	}
	return verifier
}
