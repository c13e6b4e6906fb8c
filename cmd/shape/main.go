// Command shape tracks briefs and tasks in a git repository and merges the
// task file with a field-level merge driver.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/shape/internal"
	"github.com/starford/shape/internal/taskservice"
	pkgconfig "github.com/starford/shape/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitError carries a process exit status other than 1.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// env is the resolved configuration for one command invocation.
type env struct {
	cfg    *internal.Config
	root   string
	logger *slog.Logger
	out    io.Writer
	json   bool
}

// loadEnv reads the config file (missing means defaults) and locates the
// project root.
func loadEnv(cmd *cli.Command) (*env, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg := internal.NewDefaultConfig()
	root, err := internal.ResolveRoot(cfg, wd)
	if err != nil {
		return nil, err
	}

	configPath := cmd.String("config")
	if configPath == "" {
		configPath = filepath.Join(cfg.Project.Path(root), "config.yaml")
	}
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Project.Root != "" {
		if root, err = internal.ResolveRoot(cfg, wd); err != nil {
			return nil, err
		}
	}

	level := cfg.App.LogLevel
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	return &env{
		cfg:    cfg,
		root:   root,
		logger: slog.New(slog.NewTextHandler(cmd.Root().ErrWriter, &slog.HandlerOptions{Level: level})),
		out:    cmd.Root().Writer,
		json:   cmd.Bool("json"),
	}, nil
}

// withService opens the project, runs fn and closes the project.
func withService(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, e *env, svc *taskservice.Service) error) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	proj, err := internal.OpenProject(e.cfg, e.root)
	if err != nil {
		return err
	}
	defer proj.Close()
	return fn(ctx, e, proj.Service(e.cfg, e.logger))
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "shape",
		Usage:   "Local-first briefs and tasks with dependency tracking and git-native merges",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default: <project>/.shape/config.yaml)",
				Sources: cli.EnvVars("SHAPE_CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			briefCommand(),
			taskCommand(),
			listCommand(),
			readyCommand(),
			blockedCommand(),
			orderCommand(),
			searchCommand(),
			agentCommand(),
			compactCommand(),
			contextCommand(),
			cacheCommand(),
			mergeDriverCommand(),
			serveCommand(),
			mcpCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(os.Stderr, "shape:", ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "shape:", err)
		os.Exit(1)
	}
}
