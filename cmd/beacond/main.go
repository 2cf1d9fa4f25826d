// Beacon Daemon - the autonomous agent signal service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/beaconmesh/beacon/internal/api"
	"github.com/beaconmesh/beacon/internal/config"
	"github.com/beaconmesh/beacon/internal/emitter"
	"github.com/beaconmesh/beacon/internal/hub"
	"github.com/beaconmesh/beacon/internal/ledger"
	"github.com/beaconmesh/beacon/internal/logging"
	"github.com/beaconmesh/beacon/internal/proactive"
	"github.com/beaconmesh/beacon/internal/scanner"
	"github.com/beaconmesh/beacon/internal/secrets"
	"github.com/beaconmesh/beacon/internal/storage"
	"github.com/beaconmesh/beacon/internal/tracker"
)

var (
	configPath   string
	dataDir      string
	port         int
	tickSeconds  int
	logLevel     string
	noPassphrase bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "beacond",
		Short: "Beacon Daemon - autonomous opportunity scanning and signal delivery",
		RunE:  runDaemon,
	}

	defaults := config.Default()

	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", defaults.DataDir, "Data directory")
	rootCmd.Flags().IntVar(&port, "port", defaults.Server.Port, "HTTP server port")
	rootCmd.Flags().IntVar(&tickSeconds, "tick-interval", defaults.Engine.TickIntervalSeconds, "Scheduler tick interval in seconds")
	rootCmd.Flags().StringVar(&logLevel, "log-level", defaults.LogLevel, "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.Flags().BoolVar(&noPassphrase, "no-passphrase", false, "Run without a master passphrase (callback secrets disabled)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("tick-interval") {
		cfg.Engine.TickIntervalSeconds = tickSeconds
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	// Open database
	db, err := storage.Open(storage.Config{Path: cfg.DatabasePath()})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Unlock the secret cipher
	cipher, err := unlockCipher(cfg)
	if err != nil {
		return err
	}

	// Stores
	settings := storage.NewSettingsStore(db)
	scanLog := storage.NewScanLogStore(db)
	flags := storage.NewFlagStore(db)
	messages := storage.NewMessageStore(db)
	credits := ledger.NewStore(db.Conn())

	// Signal delivery: websocket hub plus optional HTTP callbacks
	wsHub := hub.New()
	em := emitter.New(wsHub, cipher)

	// Control loop
	engine := proactive.NewEngine(proactive.Config{
		TickInterval:       cfg.Engine.TickInterval(),
		MaxConcurrentScans: cfg.Engine.MaxConcurrentScans,
	}, proactive.Deps{
		Settings: settings,
		ScanLog:  scanLog,
		Flags:    flags,
		Credits:  credits,
		Scanner:  scanner.Compose(messages, messages, nil),
		Tracker:  tracker.New(messages),
		Emitter:  em,
	})
	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// API server
	server := api.New(api.Config{
		Port:     cfg.Server.Port,
		Engine:   engine,
		Settings: settings,
		ScanLog:  scanLog,
		Flags:    flags,
		Messages: messages,
		Credits:  credits,
		Emitter:  em,
		Hub:      wsHub,
	})

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logging.Info("shutting down")
		engine.Stop()
		wsHub.Close()
		if cipher != nil {
			cipher.Wipe()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	logging.Info("beacond listening on http://localhost:%d", cfg.Server.Port)
	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// unlockCipher derives the sealing key from the master passphrase. The salt
// is generated on first run and persists in the data dir; losing it makes
// every sealed callback secret unrecoverable.
func unlockCipher(cfg *config.Config) (*secrets.Cipher, error) {
	if noPassphrase {
		logging.Warn("running without a passphrase; callback secrets are disabled")
		return nil, nil
	}

	passphrase := os.Getenv("BEACON_PASSPHRASE")
	if passphrase == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Master passphrase: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		passphrase = string(raw)
	}
	if passphrase == "" {
		logging.Warn("no passphrase provided; callback secrets are disabled")
		return nil, nil
	}

	salt, err := loadOrCreateSalt(cfg.SaltPath())
	if err != nil {
		return nil, err
	}
	cipher, err := secrets.NewCipher(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	return cipher, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != secrets.SaltSize {
			return nil, fmt.Errorf("corrupt salt file %s", path)
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	salt, err = secrets.NewSalt()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("failed to persist salt: %w", err)
	}
	return salt, nil
}
