package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codedeck/deckd/internal/config"
	"github.com/codedeck/deckd/internal/gateway"
	"github.com/codedeck/deckd/internal/metrics"
	"github.com/codedeck/deckd/internal/protocol"
	"github.com/codedeck/deckd/internal/session"
	"github.com/codedeck/deckd/internal/state"
	"github.com/codedeck/deckd/internal/watcher"
)

// Version information
const Version = "0.1.0"

func main() {
	// Check for subcommands first
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			runStatusCommand(os.Args[2:])
			return
		case "version":
			runVersionCommand()
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	// Default: run as daemon
	runDaemon()
}

func printHelp() {
	fmt.Println(`deckd - session hub daemon for the code deck dashboard

Usage:
  deckd [command] [options]

Commands:
  (none)       Run as daemon (default)
  status       Query a running daemon
  version      Show version information
  help         Show this help

Daemon Options:
  -config string  Path to config file (default "~/.deckd/config.yaml")

Subcommand Options:
  -json         Output in JSON format
  -config       Path to config file`)
}

func runVersionCommand() {
	fmt.Printf("deckd version %s\n", Version)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "deckd.yaml"
	}
	return filepath.Join(home, ".deckd", "config.yaml")
}

func runStatusCommand(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", defaultConfigPath(), "Path to config file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	token := cfg.Server.Token
	if token == "" {
		token, err = state.LoadOrCreateToken(cfg.Storage.StateDir)
		if err != nil {
			log.Fatalf("Failed to load token: %v", err)
		}
	}

	payload, err := queryStatus(cfg.Server.Listen, token)
	if err != nil {
		log.Fatalf("Failed to query daemon at %s: %v", cfg.Server.Listen, err)
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(payload)
		return
	}

	fmt.Printf("Daemon Status\n")
	fmt.Printf("=============\n")
	fmt.Printf("Status:          %s\n", payload.Status)
	fmt.Printf("Version:         %s\n", payload.Version)
	fmt.Printf("Active Project:  %s\n", payload.ActiveProject)
	fmt.Printf("Sessions:        %d\n", payload.Sessions)
	if payload.LastError != "" {
		fmt.Printf("Last Error:      %s\n", payload.LastError)
	}
	if len(payload.RecentProjects) > 0 {
		fmt.Printf("\nRecent Projects:\n")
		for _, p := range payload.RecentProjects {
			fmt.Printf("  %s\n", p)
		}
	}
}

// queryStatus dials the daemon's own WebSocket and asks for a status update.
func queryStatus(listen, token string) (*protocol.StatusPayload, error) {
	u := url.URL{Scheme: "ws", Host: listen, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req, _ := json.Marshal(protocol.Inbound{Type: protocol.TypeStatus, Token: token})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(5 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, err
		}
		switch msg.Type {
		case protocol.TypeStatusUp:
			var payload protocol.StatusPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return nil, err
			}
			return &payload, nil
		case protocol.TypeError:
			var payload protocol.ErrorPayload
			_ = json.Unmarshal(msg.Payload, &payload)
			return nil, fmt.Errorf("%s: %s", payload.Code, payload.Message)
		}
	}
	return nil, fmt.Errorf("no status reply")
}

func runDaemon() {
	configPath := flag.String("config", defaultConfigPath(), "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := state.Open(cfg.Storage.StateDir)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	if err := store.SetStatus(state.StatusStarting, ""); err != nil {
		log.Fatalf("Failed to persist state: %v", err)
	}

	token := cfg.Server.Token
	if token == "" {
		token, err = state.LoadOrCreateToken(cfg.Storage.StateDir)
		if err != nil {
			log.Fatalf("Failed to load token: %v", err)
		}
	}

	m := metrics.New()

	registry := session.NewRegistry(session.Options{
		Shell:                cfg.Terminal.Shell,
		EnvExtra:             cfg.Terminal.EnvAllow,
		BufferLines:          cfg.Terminal.BufferLines,
		ReadyTimeout:         time.Duration(cfg.Terminal.ReadyTimeoutMs) * time.Millisecond,
		GracefulTimeout:      time.Duration(cfg.Terminal.GracefulTimeoutMs) * time.Millisecond,
		AgentCommand:         cfg.Agent.Command,
		AgentArgs:            cfg.Agent.Args,
		AgentGracefulTimeout: time.Duration(cfg.Agent.GracefulTimeoutMs) * time.Millisecond,
		Metrics:              m,
		OnSessionExit: func(path string, code int) {
			if err := store.RecordExit(path, code); err != nil {
				log.Printf("Failed to persist exit event: %v", err)
			}
		},
	})

	server := gateway.New(gateway.Config{Token: token, Version: Version}, registry, store, m, nil)

	var fw *watcher.Watcher
	if cfg.Watch.Enabled == nil || *cfg.Watch.Enabled {
		fw, err = watcher.New(time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, server.NotifyFilesUpdate)
		if err != nil {
			log.Printf("File watching disabled: %v", err)
		} else {
			server.SetWatcher(fw)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWS)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{Addr: cfg.Server.Listen, Handler: mux}
	go func() {
		log.Printf("deckd %s listening on %s", Version, cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			store.SetStatus(state.StatusError, err.Error())
			log.Fatalf("Server error: %v", err)
		}
	}()

	if err := store.SetStatus(state.StatusReady, ""); err != nil {
		log.Printf("Failed to persist state: %v", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	server.CloseAll()
	registry.CloseAll()
	if fw != nil {
		fw.Shutdown()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	store.SetStatus(state.StatusIdle, "")
}
