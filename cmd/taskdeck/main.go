// ABOUTME: Entry point for the taskdeck CLI
// ABOUTME: Local-first task tracking with durable storage, backup snapshots and sessions

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/taskdeck/taskdeck/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _            _       _           _
| |_ __ _ ___| | ____| | ___  ___| | __
| __/ _' / __| |/ / _' |/ _ \/ __| |/ /
| || (_| \__ \   < (_| |  __/ (__|   <
 \__\__,_|___/_|\_\__,_|\___|\___|_|\_\
`

// getConfigPath returns the path to the taskdeck config file.
// Priority: TASKDECK_CONFIG env var > ~/.taskdeck/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TASKDECK_CONFIG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getDataPath(), "config.yaml")
}

// getDataPath returns the taskdeck data directory.
// Priority: TASKDECK_HOME env var > ~/.taskdeck
func getDataPath() string {
	if envPath := os.Getenv("TASKDECK_HOME"); envPath != "" {
		return envPath
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".taskdeck" // fallback
	}
	return filepath.Join(homeDir, ".taskdeck")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = runInit()
	case "register":
		err = runRegister(ctx, args)
	case "login":
		err = runLogin(ctx, args)
	case "logout":
		err = runLogout(ctx)
	case "whoami":
		err = runWhoami(ctx)
	case "tasks":
		err = runTasks(ctx, args)
	case "add":
		err = runAdd(ctx, args)
	case "done":
		err = runDone(ctx, args)
	case "backup":
		err = runBackup(ctx)
	case "restore":
		err = runRestore(ctx)
	case "export":
		err = runExport(ctx, args)
	case "version", "-v", "--version":
		fmt.Printf("taskdeck %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: taskdeck <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  init                    Create the config file and data directory")
	fmt.Println("  register                Create an account and log in")
	fmt.Println("  login                   Log in with email and password")
	fmt.Println("  logout                  Log out and clear the local session")
	fmt.Println("  whoami                  Show the logged-in user")
	fmt.Println("  tasks                   List your tasks")
	fmt.Println("  add <title>             Add a task")
	fmt.Println("  done <task-id>          Mark a task completed")
	fmt.Println("  backup                  Write a snapshot to the backup store")
	fmt.Println("  restore                 Restore the database from the latest snapshot")
	fmt.Println("  export                  Print the full database as JSON")
	fmt.Println()
	yellow.Println("Flags:")
	fmt.Println("  tasks  [--status S] [--priority P] [--project ID]")
	fmt.Println("  add    <title> [--priority P] [--project ID] [--category ID]")
	fmt.Println("  export [--out FILE]")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  TASKDECK_HOME            Data directory (default: ~/.taskdeck)")
	fmt.Println("  TASKDECK_CONFIG          Config file path (default: $TASKDECK_HOME/config.yaml)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  taskdeck init")
	fmt.Println("  taskdeck register --name 'Ada' --email ada@example.com")
	fmt.Println("  taskdeck add 'Write the launch notes' --priority HIGH")
	fmt.Println("  taskdeck tasks --status TODO")
	fmt.Println()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
