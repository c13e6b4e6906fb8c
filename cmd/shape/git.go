package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/starford/shape/internal"
	"github.com/starford/shape/internal/gitrepo"
	"github.com/starford/shape/internal/mergedriver"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create the project directory and install the git merge driver",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-merge-driver", Usage: "Do not configure git"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			created, err := internal.InitProject(e.cfg, e.root)
			if err != nil {
				return err
			}
			dir := e.cfg.Project.Path(e.root)
			if created {
				fmt.Fprintf(e.out, "initialized %s\n", dir)
			} else {
				fmt.Fprintf(e.out, "already initialized: %s\n", dir)
			}
			if cmd.Bool("no-merge-driver") {
				return nil
			}
			changed, err := installDriver(e.root, e.cfg.Project.Dir)
			if errors.Is(err, gitrepo.ErrNotGitRepository) {
				e.logger.Debug("not a git repository; merge driver not installed")
				return nil
			}
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintln(e.out, "installed git merge driver")
			}
			return nil
		},
	}
}

// installDriver registers this executable as the merge driver of the
// repository at root.
func installDriver(root, projectDir string) (bool, error) {
	repo, err := gitrepo.Open(root)
	if err != nil {
		return false, err
	}
	exe, err := os.Executable()
	if err != nil {
		return false, fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return repo.InstallDriver(exe, projectDir)
}

func mergeDriverCommand() *cli.Command {
	return &cli.Command{
		Name:      "merge-driver",
		Usage:     "Three-way merge of task files (run by git)",
		ArgsUsage: "<base> <ours> <theirs>",
		Description: "Exits 0 on a clean merge, 1 when conflicts were resolved by rule, " +
			"2 when the merge could not run. The result is written to <ours>.",
		Commands: []*cli.Command{
			{
				Name:  "install",
				Usage: "Configure git to use shape for the task file",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := loadEnv(cmd)
					if err != nil {
						return err
					}
					changed, err := installDriver(e.root, e.cfg.Project.Dir)
					if err != nil {
						return err
					}
					if changed {
						fmt.Fprintln(e.out, "installed git merge driver")
					} else {
						fmt.Fprintln(e.out, "git merge driver already installed")
					}
					return nil
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 3 {
				return &exitError{code: 2, err: fmt.Errorf("merge-driver: expected <base> <ours> <theirs>, got %d arguments", cmd.Args().Len())}
			}
			args := cmd.Args().Slice()
			rep, err := mergedriver.Run(args[0], args[1], args[2],
				mergedriver.WithDiagnostics(cmd.Root().ErrWriter))
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			if rep.Code == mergedriver.CodeConflict {
				return &exitError{code: int(mergedriver.CodeConflict)}
			}
			return nil
		},
	}
}
