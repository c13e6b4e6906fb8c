package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/taskservice"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List tasks, optionally filtered",
		ArgsUsage: "[id-glob]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "todo, in_progress or done"},
			&cli.StringFlag{Name: "brief", Aliases: []string{"b"}, Usage: "Only tasks of this brief"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f := taskservice.ListFilter{Pattern: cmd.Args().First()}
			if s := cmd.String("status"); s != "" {
				st, err := models.ParseStatus(s)
				if err != nil {
					return err
				}
				f.Status = st
			}
			if b := cmd.String("brief"); b != "" {
				id, err := ident.Parse(b)
				if err != nil {
					return err
				}
				f.Brief = id
			}
			return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
				tasks, err := svc.List(ctx, f)
				if err != nil {
					return err
				}
				return e.printTasks(tasks)
			})
		},
	}
}

func readyCommand() *cli.Command {
	return &cli.Command{
		Name:  "ready",
		Usage: "List tasks that can be started now",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
				tasks, err := svc.Ready(ctx)
				if err != nil {
					return err
				}
				return e.printTasks(tasks)
			})
		},
	}
}

func blockedCommand() *cli.Command {
	return &cli.Command{
		Name:  "blocked",
		Usage: "List tasks waiting on incomplete dependencies",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
				blocked, err := svc.Blocked(ctx)
				if err != nil {
					return err
				}
				return e.printBlocked(blocked)
			})
		},
	}
}

func orderCommand() *cli.Command {
	return &cli.Command{
		Name:  "order",
		Usage: "List every task in dependency order",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
				tasks, err := svc.Order(ctx)
				if err != nil {
					return err
				}
				return e.printTasks(tasks)
			})
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Full-text search over tasks and briefs",
		ArgsUsage: "<query>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			query := strings.Join(cmd.Args().Slice(), " ")
			return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
				results, err := svc.Search(ctx, query, 0)
				if err != nil {
					return err
				}
				return e.printSearch(results)
			})
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect the SQLite cache",
		Commands: []*cli.Command{
			{
				Name:  "sync",
				Usage: "Bring the cache up to date with the files",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
						return svc.Sync(ctx)
					})
				},
			},
			{
				Name:  "stats",
				Usage: "Show task counts by status",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
						st, err := svc.Stats(ctx)
						if err != nil {
							return err
						}
						if e.json {
							return e.printJSON(st)
						}
						_, err = fmt.Fprintf(e.out, "todo %d, in progress %d, done %d, briefs %d\n",
							st.Todo, st.InProgress, st.Done, st.Briefs)
						return err
					})
				},
			},
		},
	}
}
