// ABOUTME: Application wiring and subcommand implementations for the taskdeck CLI
// ABOUTME: Builds the store coordinator, credential strategy and session manager from config

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/taskdeck/taskdeck/internal/cache"
	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/credential"
	"github.com/taskdeck/taskdeck/internal/kv"
	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/tracker"
)

// app holds the wired components behind every subcommand.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *store.Coordinator
	manager    *session.Manager
	selection  *credential.Selection
	tasks      *tracker.TaskRepo
	projects   *tracker.ProjectRepo
	categories *tracker.CategoryRepo
	listCache  *cache.Cache
}

// newApp loads configuration and wires the full stack. A missing config file
// falls back to defaults under the data directory; run `taskdeck init` to
// create one with a stable signing secret.
func newApp(ctx context.Context) (*app, error) {
	configPath := getConfigPath()

	var cfg *config.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = config.Default(getDataPath())
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	secret := []byte(cfg.Auth.Secret)
	if len(secret) == 0 {
		// Sessions signed with a throwaway secret die with the process.
		secret = make([]byte, 32)
		rand.Read(secret)
		logger.Warn("no auth secret configured, sessions will not survive restarts", "hint", "run taskdeck init")
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		listCache: cache.New(cfg.Cache.TTL, cfg.Cache.MaxEntries),
	}

	backupStore, err := kv.NewFileStore(cfg.Backup.Path, cfg.Backup.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("opening backup store: %w", err)
	}
	sessionStore, err := kv.NewFileStore(cfg.Session.Path, 0)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	switch cfg.Target {
	case "", "auto", "native":
		a.db = store.NewCoordinator(store.CoordinatorOptions{
			OpenBackend: func() (store.Backend, error) {
				return store.OpenEmbeddedStore(cfg.Database.Path)
			},
			BackupStore: backupStore,
			Logger:      logger,
		})
	case "web":
		a.db = store.NewCoordinator(store.CoordinatorOptions{
			OpenBackend: func() (store.Backend, error) {
				return store.NewEphemeralKVStore(kv.NewMemoryStore(0)), nil
			},
			BackupStore: backupStore,
			Logger:      logger,
		})
	case "remote":
		// No local store; task commands are unavailable.
	}

	a.selection = credential.Select(ctx, credential.SelectOptions{
		Mode:          cfg.Target,
		DB:            a.db,
		Sessions:      sessionStore,
		Issuer:        credential.NewTokenIssuer(secret, cfg.Auth.TokenTTL),
		RemoteBaseURL: cfg.Remote.BaseURL,
	})

	a.manager = session.NewManager(session.ManagerOptions{
		Sessions:  sessionStore,
		Selection: a.selection,
		DB:        a.db,
		Logger:    logger,
	})

	if a.db != nil {
		a.tasks = tracker.NewTaskRepo(a.db)
		a.projects = tracker.NewProjectRepo(a.db)
		a.categories = tracker.NewCategoryRepo(a.db)
	}

	return a, nil
}

func (a *app) close() {
	a.listCache.Close()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("closing store", "error", err)
		}
	}
}

// requireAuth runs the authoritative session check.
func (a *app) requireAuth(ctx context.Context) (*credential.User, error) {
	if !a.manager.IsAuthenticatedAndExists(ctx) {
		return nil, fmt.Errorf("not logged in (run taskdeck login)")
	}
	user := a.manager.CurrentUser()
	if user == nil {
		return nil, fmt.Errorf("not logged in (run taskdeck login)")
	}
	return user, nil
}

// requireLocalStore guards the task commands on the remote target.
func (a *app) requireLocalStore() error {
	if a.db == nil {
		return fmt.Errorf("this command needs a local store (target is %q)", a.cfg.Target)
	}
	return nil
}

func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()

	green := color.New(color.FgGreen)

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating auth secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configContent := fmt.Sprintf(`# taskdeck configuration
# Generated by taskdeck init

target: "auto"

database:
  path: "%s"

backup:
  path: "%s"

session:
  path: "%s"

auth:
  secret: "%s"
  token_ttl: "24h"
  revalidation_interval: "60s"

cache:
  ttl: "30s"
  max_entries: 256

logging:
  level: "info"
  format: "text"
`,
		filepath.Join(dataPath, "taskdeck.db"),
		filepath.Join(dataPath, "backup.json"),
		filepath.Join(dataPath, "session.json"),
		secret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green.Printf("  ✓ Created config: %s\n", configPath)
	green.Printf("  ✓ Data directory: %s\n", dataPath)
	fmt.Println()
	fmt.Println("Next: taskdeck register --name 'Your Name' --email you@example.com")
	return nil
}

func runRegister(ctx context.Context, args []string) error {
	name, args, err := stringFlag(args, "--name", "-n")
	if err != nil {
		return err
	}
	email, args, err := stringFlag(args, "--email", "-e")
	if err != nil {
		return err
	}
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if name == "" || email == "" {
		return fmt.Errorf("--name and --email are required")
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.manager.Register(ctx, credential.Registration{Name: name, Email: email, Password: password})
	if err != nil {
		return err
	}

	color.Green("Registered and logged in as %s <%s>\n", user.Name, user.Email)
	return nil
}

func runLogin(ctx context.Context, args []string) error {
	email, args, err := stringFlag(args, "--email", "-e")
	if err != nil {
		return err
	}
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if email == "" {
		return fmt.Errorf("--email is required")
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.manager.Login(ctx, email, password)
	if err != nil {
		return err
	}

	color.Green("Logged in as %s <%s>\n", user.Name, user.Email)
	return nil
}

func runLogout(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.manager.Logout(ctx)
	fmt.Println("Logged out.")
	return nil
}

func runWhoami(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.requireAuth(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	cyan.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintf(w, "ID\t%s\n", user.ID)
	fmt.Fprintf(w, "Name\t%s\n", user.Name)
	fmt.Fprintf(w, "Email\t%s\n", user.Email)
	fmt.Fprintf(w, "Roles\t%s\n", strings.Join(user.Roles, ", "))
	fmt.Fprintf(w, "Strategy\t%s\n", a.selection.Provider.Name())
	return w.Flush()
}

func runTasks(ctx context.Context, args []string) error {
	status, args, err := stringFlag(args, "--status", "-s")
	if err != nil {
		return err
	}
	priority, args, err := stringFlag(args, "--priority", "-p")
	if err != nil {
		return err
	}
	projectID, args, err := stringFlag(args, "--project", "")
	if err != nil {
		return err
	}
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireLocalStore(); err != nil {
		return err
	}
	user, err := a.requireAuth(ctx)
	if err != nil {
		return err
	}

	filter := tracker.TaskFilter{
		Status:    tracker.TaskStatus(strings.ToUpper(status)),
		Priority:  tracker.Priority(strings.ToUpper(priority)),
		ProjectID: projectID,
	}

	cacheKey := fmt.Sprintf("tasks:%s:%s:%s:%s", user.ID, filter.Status, filter.Priority, filter.ProjectID)
	var tasks []*tracker.Task
	if cached, ok := a.listCache.Get(cacheKey); ok {
		tasks = cached.([]*tracker.Task)
	} else {
		tasks, err = a.tasks.ListByUser(ctx, user.ID, filter)
		if err != nil {
			return err
		}
		a.listCache.Set(cacheKey, tasks)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	cyan := color.New(color.FgCyan)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	cyan.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTITLE\tDUE")
	for _, task := range tasks {
		due := ""
		if task.DueAt != nil {
			due = task.DueAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(task.ID), task.Status, task.Priority, task.Title, due)
	}
	return w.Flush()
}

func runAdd(ctx context.Context, args []string) error {
	priority, args, err := stringFlag(args, "--priority", "-p")
	if err != nil {
		return err
	}
	projectID, args, err := stringFlag(args, "--project", "")
	if err != nil {
		return err
	}
	categoryID, args, err := stringFlag(args, "--category", "")
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: taskdeck add <title> [--priority P]")
	}
	title := strings.Join(args, " ")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireLocalStore(); err != nil {
		return err
	}
	user, err := a.requireAuth(ctx)
	if err != nil {
		return err
	}

	task, err := a.tasks.Create(ctx, tracker.NewTask{
		Title:      title,
		Priority:   tracker.Priority(strings.ToUpper(priority)),
		UserID:     user.ID,
		ProjectID:  projectID,
		CategoryID: categoryID,
	})
	if err != nil {
		return err
	}
	a.listCache.InvalidatePrefix("tasks:" + user.ID)

	color.Green("Added %s: %s\n", shortID(task.ID), task.Title)
	return nil
}

func runDone(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: taskdeck done <task-id>")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireLocalStore(); err != nil {
		return err
	}
	user, err := a.requireAuth(ctx)
	if err != nil {
		return err
	}

	taskID, err := a.resolveTaskID(ctx, user.ID, args[0])
	if err != nil {
		return err
	}

	task, err := a.tasks.SetStatus(ctx, taskID, tracker.StatusCompleted)
	if err != nil {
		return err
	}
	a.listCache.InvalidatePrefix("tasks:" + user.ID)

	color.Green("Completed: %s\n", task.Title)
	return nil
}

func runBackup(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireLocalStore(); err != nil {
		return err
	}

	if err := a.db.Flush(ctx); err != nil {
		return err
	}

	if ts, ok := a.db.BackupTimestamp(); ok {
		color.Green("Snapshot written at %s\n", ts.Format("2006-01-02 15:04:05 MST"))
	} else {
		color.Green("Snapshot written\n")
	}
	return nil
}

func runRestore(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireLocalStore(); err != nil {
		return err
	}

	restored, err := a.db.RestoreFromBackup(ctx)
	if err != nil {
		return err
	}
	if !restored {
		fmt.Println("No snapshot to restore.")
		return nil
	}

	color.Green("Database restored from snapshot.\n")
	return nil
}

func runExport(ctx context.Context, args []string) error {
	out, args, err := stringFlag(args, "--out", "-o")
	if err != nil {
		return err
	}
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireLocalStore(); err != nil {
		return err
	}

	encoded, err := a.db.ExportJSON(ctx)
	if err != nil {
		return err
	}

	if out == "" {
		fmt.Println(encoded)
		return nil
	}
	if err := os.WriteFile(out, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("writing export file: %w", err)
	}
	color.Green("Exported to %s\n", out)
	return nil
}

// resolveTaskID accepts a full id or a unique short prefix of one.
func (a *app) resolveTaskID(ctx context.Context, userID, idOrPrefix string) (string, error) {
	tasks, err := a.tasks.ListByUser(ctx, userID, tracker.TaskFilter{})
	if err != nil {
		return "", err
	}

	var match string
	for _, task := range tasks {
		if task.ID == idOrPrefix {
			return task.ID, nil
		}
		if strings.HasPrefix(task.ID, idOrPrefix) {
			if match != "" {
				return "", fmt.Errorf("ambiguous task id %q", idOrPrefix)
			}
			match = task.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no task matching %q", idOrPrefix)
	}
	return match, nil
}

// stringFlag extracts one "--flag value" or "--flag=value" pair from args.
// Supports both the long form and an optional short alias.
func stringFlag(args []string, long, short string) (string, []string, error) {
	var value string
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == long || (short != "" && arg == short):
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s requires a value", arg)
			}
			value = args[i+1]
			i++
		case strings.HasPrefix(arg, long+"="):
			value = strings.TrimPrefix(arg, long+"=")
		default:
			rest = append(rest, arg)
		}
	}
	return value, rest, nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return password, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
