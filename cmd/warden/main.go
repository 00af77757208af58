// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden runs the operator-gated bridge as a local harness: commands
// arrive on stdin, notices print to stdout, and the managed channel is
// the in-process memory transport. The real control and managed
// transports are external collaborators wired in at integration time;
// the harness exercises the full access, session, and interception
// stack without them.
//
// Input forms:
//
//	<sender> /command [args]    control-channel command, e.g. "42 /link 555"
//	<number>                    answer the oldest pending prompt
//	!qr <account> <payload>     simulate a QR challenge
//	!code <account> <code>      simulate a pairing code
//	!connect <account>          simulate the connection opening
//	!close <account>            simulate the connection closing
//	!msg <account> <dest> <body> simulate an outgoing message
//
// Configuration comes from --config or the WARDEN_CONFIG environment
// variable; see lib/config for the file shape.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/chatwarden/warden/access"
	"github.com/chatwarden/warden/bridge"
	"github.com/chatwarden/warden/control"
	"github.com/chatwarden/warden/intercept"
	"github.com/chatwarden/warden/lib/clock"
	"github.com/chatwarden/warden/lib/config"
	"github.com/chatwarden/warden/lib/sealed"
	"github.com/chatwarden/warden/sessions"
	"github.com/chatwarden/warden/store"
	"github.com/chatwarden/warden/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		stateDir    string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("warden", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to warden.yaml (default: $WARDEN_CONFIG)")
	flagSet.StringVar(&stateDir, "state-dir", "", "override the configured state directory")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("warden %s\n", versionString())
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	keypair, err := loadOrCreateKeypair(filepath.Join(cfg.StateDir, "identity.key"))
	if err != nil {
		return err
	}

	dataStore, err := store.Open(cfg.StateDir, store.Options{
		Keypair:              keypair,
		DeletedMessagesLimit: cfg.DeletedMessagesLimit,
	})
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	clk := clock.Real()
	channel := newConsole(os.Stdout, cfg.StateDir)
	connector := transport.NewMemoryConnector()

	accessControl := &access.Access{
		Store:         dataStore,
		Notifier:      channel,
		Clock:         clk,
		AdminID:       cfg.AdminID,
		PasskeyLength: cfg.PasskeyLength,
		PasskeyTTL:    cfg.PasskeyTTL,
		LogActivity:   cfg.LogOperatorActivity,
		Logger:        logger,
	}
	interceptor := &intercept.Interceptor{
		Store:       dataStore,
		Notifier:    channel,
		Clock:       clk,
		AutoDelete:  cfg.AutoDelete,
		LogCaptures: cfg.LogDeletedMessages,
		Logger:      logger,
	}
	manager := &sessions.Manager{
		Store:            dataStore,
		Connector:        connector,
		Notifier:         channel,
		Interceptor:      interceptor,
		Clock:            clk,
		RecoveryInterval: cfg.RecoveryInterval,
		Logger:           logger,
	}
	router := &bridge.Bridge{
		Access:               accessControl,
		Sessions:             manager,
		Interceptor:          interceptor,
		Store:                dataStore,
		Notifier:             channel,
		Prompter:             channel,
		NotifyAccessAttempts: cfg.NotifyAdminOnAccessAttempt,
		Logger:               logger,
	}

	go manager.Run(ctx)
	if cfg.PasskeyTTL > 0 {
		go prunePasskeys(ctx, accessControl, clk, cfg)
	}

	commands := make(chan control.Command)
	go readInput(ctx, os.Stdin, channel, connector, commands, logger)

	logger.Info("warden running",
		"state_dir", cfg.StateDir,
		"admin", cfg.AdminID,
		"auto_delete", cfg.AutoDelete)

	router.Run(ctx, commands)
	return nil
}

// loadOrCreateKeypair reads the age private key from path, generating
// and persisting one on first boot. The file holds only the private
// half; the public key is derived on load.
func loadOrCreateKeypair(path string) (*sealed.Keypair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return sealed.KeypairFromPrivateKey(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading keypair: %w", err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(keypair.PrivateKey+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing keypair: %w", err)
	}
	return keypair, nil
}

func prunePasskeys(ctx context.Context, accessControl *access.Access, clk clock.Clock, cfg *config.Config) {
	ticker := clk.NewTicker(cfg.PasskeyTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := accessControl.PruneExpiredPasskeys(); err != nil {
				slog.Error("pruning passkeys failed", "error", err)
			}
		}
	}
}

// readInput parses stdin lines into commands, prompt answers, and
// harness directives, closing the command channel on EOF.
func readInput(ctx context.Context, in *os.File, channel *console, connector *transport.MemoryConnector, commands chan<- control.Command, logger *slog.Logger) {
	defer close(commands)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if number, err := strconv.Atoi(line); err == nil {
			if !channel.answer(number) {
				fmt.Println("No pending prompt.")
			}
			continue
		}

		if strings.HasPrefix(line, "!") {
			simulate(line, connector)
			continue
		}

		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 2 || !strings.HasPrefix(fields[1], "/") {
			fmt.Println("Expected: <sender> /command [args]")
			continue
		}
		command := control.Command{Sender: fields[0], Name: fields[1]}
		if len(fields) == 3 {
			command.Args = fields[2]
		}

		select {
		case commands <- command:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("reading stdin failed", "error", err)
	}
}

// simulate drives the memory transport from a "!" directive, standing
// in for the managed-channel protocol.
func simulate(line string, connector *transport.MemoryConnector) {
	fields := strings.SplitN(line, " ", 4)
	if len(fields) < 2 {
		fmt.Println("Expected: !<event> <account> [args]")
		return
	}
	conn := connector.Conn(fields[1])
	if conn == nil {
		fmt.Printf("No connection for account %s.\n", fields[1])
		return
	}

	switch fields[0] {
	case "!qr":
		if len(fields) < 3 {
			fmt.Println("Expected: !qr <account> <payload>")
			return
		}
		conn.EmitQR(fields[2])
	case "!code":
		if len(fields) < 3 {
			fmt.Println("Expected: !code <account> <code>")
			return
		}
		conn.EmitPairingCode(fields[2])
	case "!connect":
		conn.EmitConnected()
	case "!close":
		conn.EmitClosed()
	case "!msg":
		if len(fields) < 4 {
			fmt.Println("Expected: !msg <account> <destination> <body>")
			return
		}
		body := fields[3]
		conn.EmitOutgoing(fmt.Sprintf("sim-%d", time.Now().UnixNano()), fields[2], &body)
	default:
		fmt.Printf("Unknown directive %s.\n", fields[0])
	}
}

func versionString() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}
