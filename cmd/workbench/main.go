package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"workbench/internal/archive"
	"workbench/internal/backend"
	"workbench/internal/config"
	"workbench/internal/fallback"
	"workbench/internal/hitl"
	"workbench/internal/repl"
	"workbench/internal/store"
	"workbench/internal/stream"
	"workbench/internal/tui"
	"workbench/internal/turn"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

func main() {
	var (
		configPath string
		backendURL string
		plain      bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.StringVar(&backendURL, "backend", "", "Backend base URL override")
	flag.BoolVar(&plain, "plain", false, "Force the plain-terminal REPL instead of the TUI")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}

	timeout := time.Duration(cfg.Backend.TimeoutMS) * time.Millisecond

	var collaborators []store.Collaborator
	collaborators = append(collaborators, backend.NewClient(cfg.Backend.BaseURL, timeout))
	var arc *archive.Archive
	if cfg.Archive.Enabled {
		arc, err = archive.Open(cfg.Archive.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open archive failed, continuing without history: %v\n", err)
			arc = nil
		} else {
			defer arc.Close()
			collaborators = append(collaborators, arc)
		}
	}

	st := store.New(collaborators...)
	if arc != nil {
		hydrate(st, arc)
	}
	transport := stream.NewTransport(cfg.Backend.BaseURL, timeout)
	simulator := fallback.New(fallback.TimerScheduler{}, time.Duration(cfg.Fallback.IntervalMS)*time.Millisecond)

	applied := make(chan string, 256)
	runner := turn.NewRunner(transport, simulator, st, turn.Options{
		AgentKind:   cfg.Agent.Kind,
		UserID:      cfg.Agent.UserID,
		IdleTimeout: time.Duration(cfg.Turn.IdleTimeoutMS) * time.Millisecond,
		OnApply: func(messageID string) {
			select {
			case applied <- messageID:
			default:
				// Repaints are best-effort; the UI always re-reads the store.
			}
		},
	})
	dispatcher := hitl.NewDispatcher(st, hitl.NewLockRegistry(), runner.RunAction)

	interactive := term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
	if interactive && !plain {
		if err := tui.Run(st, runner, dispatcher, cfg.Agent.Kind, applied); err != nil {
			fmt.Fprintf(os.Stderr, "tui failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	historyPath := filepath.Join(filepath.Dir(cfg.Archive.Path), "repl.history")
	inputReader, inputErr := newLineInput(historyPath)
	if inputErr != nil {
		fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", inputErr)
	}
	defer inputReader.Close()

	fmt.Printf("workbench started, backend: %s agent=%s\n", cfg.Backend.BaseURL, cfg.Agent.Kind)

	loop := repl.NewLoop(st, runner, dispatcher, cfg.Agent.Kind, applied, os.Stdout)
	if err := loop.Run(context.Background(), inputReader); err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return
		}
		fmt.Fprintf(os.Stderr, "repl failed: %v\n", err)
		os.Exit(1)
	}
}

// hydrate republishes archived sessions and messages into the in-memory
// store, so past conversations survive a restart. Best-effort: a broken
// archive just leaves the store empty.
func hydrate(st *store.Store, arc *archive.Archive) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessions, err := arc.ListSessions(ctx)
	if err != nil {
		return
	}
	for _, sess := range sessions {
		st.AdoptSession(sess)
		messages, err := arc.LoadMessages(ctx, sess.ID)
		if err != nil {
			continue
		}
		for _, msg := range messages {
			st.AdoptMessage(msg)
		}
	}
}
