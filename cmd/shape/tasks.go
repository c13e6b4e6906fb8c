package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/taskservice"
)

// argID parses the positional argument at i as an id.
func argID(cmd *cli.Command, i int, name string) (ident.ID, error) {
	s := cmd.Args().Get(i)
	if s == "" {
		return ident.ID{}, fmt.Errorf("%w: missing %s", apperr.ErrInvalidInput, name)
	}
	return ident.Parse(s)
}

func taskCommand() *cli.Command {
	return &cli.Command{
		Name:  "task",
		Usage: "Create and update tasks",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a task to a brief, under a task, or standalone",
				ArgsUsage: "<title>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "parent", Aliases: []string{"p"}, Usage: "Brief or task id"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Longer description"},
					&cli.StringSliceFlag{Name: "dep", Usage: "Blocking dependency (repeatable)"},
				},
				Action: taskAdd,
			},
			transitionCommand("start", "Mark a task in progress", (*taskservice.Service).Start),
			transitionCommand("done", "Mark a task done", (*taskservice.Service).Complete),
			transitionCommand("reopen", "Move a done task back to todo", (*taskservice.Service).Reopen),
			{
				Name:      "edit",
				Usage:     "Change a task's title or description",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
				},
				Action: taskEdit,
			},
			{
				Name:      "dep",
				Usage:     "Record that a task depends on another",
				ArgsUsage: "<id> <depends-on>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Value: string(models.DepBlocks), Usage: "blocks, provenance, related or duplicates"},
				},
				Action: taskDep,
			},
			{
				Name:      "undep",
				Usage:     "Remove a dependency",
				ArgsUsage: "<id> <depends-on>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "Only remove this edge type"},
				},
				Action: taskUndep,
			},
			{
				Name:      "meta",
				Usage:     "Set or remove a metadata value (JSON values are stored as JSON)",
				ArgsUsage: "<id> <key> [value]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "unset", Usage: "Remove the key"},
				},
				Action: taskMeta,
			},
			{
				Name:      "show",
				Usage:     "Show a task with its dependencies and subtasks",
				ArgsUsage: "<id>",
				Action:    taskShow,
			},
		},
	}
}

func taskAdd(ctx context.Context, cmd *cli.Command) error {
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		req := taskservice.AddTaskRequest{
			Title:       cmd.Args().First(),
			Description: cmd.String("description"),
		}
		if p := cmd.String("parent"); p != "" {
			id, err := ident.Parse(p)
			if err != nil {
				return err
			}
			req.Parent = id
		}
		for _, d := range cmd.StringSlice("dep") {
			id, err := ident.Parse(d)
			if err != nil {
				return err
			}
			req.DependsOn = append(req.DependsOn, id)
		}
		t, err := svc.AddTask(ctx, req)
		if err != nil {
			return err
		}
		return e.printTask(t)
	})
}

type transitionFunc func(*taskservice.Service, context.Context, ident.ID) (*models.Task, error)

func transitionCommand(name, usage string, fn transitionFunc) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := argID(cmd, 0, "task id")
			if err != nil {
				return err
			}
			return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
				t, err := fn(svc, ctx, id)
				if err != nil {
					return err
				}
				return e.printTask(t)
			})
		},
	}
}

func taskEdit(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	if !cmd.IsSet("title") && !cmd.IsSet("description") {
		return fmt.Errorf("%w: nothing to change; pass --title or --description", apperr.ErrInvalidInput)
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		var t *models.Task
		if cmd.IsSet("title") {
			if t, err = svc.SetTitle(ctx, id, cmd.String("title")); err != nil {
				return err
			}
		}
		if cmd.IsSet("description") {
			if t, err = svc.SetDescription(ctx, id, cmd.String("description")); err != nil {
				return err
			}
		}
		return e.printTask(t)
	})
}

func taskDep(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	dep, err := argID(cmd, 1, "dependency id")
	if err != nil {
		return err
	}
	typ, err := models.ParseDependencyType(cmd.String("type"))
	if err != nil {
		return err
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		t, err := svc.AddDependency(ctx, id, dep, typ)
		if err != nil {
			return err
		}
		return e.printTask(t)
	})
}

func taskUndep(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	dep, err := argID(cmd, 1, "dependency id")
	if err != nil {
		return err
	}
	var typ models.DependencyType
	if s := cmd.String("type"); s != "" {
		if typ, err = models.ParseDependencyType(s); err != nil {
			return err
		}
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		t, err := svc.RemoveDependency(ctx, id, dep, typ)
		if err != nil {
			return err
		}
		return e.printTask(t)
	})
}

// metaValue interprets a command-line value: valid JSON is kept as JSON,
// anything else is a string.
func metaValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func taskMeta(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	key := cmd.Args().Get(1)
	var value any
	switch {
	case cmd.Bool("unset"):
	case cmd.Args().Len() < 3:
		return fmt.Errorf("%w: missing value (use --unset to remove %q)", apperr.ErrInvalidInput, key)
	default:
		value = metaValue(cmd.Args().Get(2))
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		t, err := svc.SetMeta(ctx, id, key, value)
		if err != nil {
			return err
		}
		return e.printTask(t)
	})
}

func taskShow(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		d, err := svc.Show(ctx, id)
		if err != nil {
			return err
		}
		return e.printDetail(d)
	})
}
