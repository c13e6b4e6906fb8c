package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/taskservice"
)

func agentFlag() cli.Flag {
	return &cli.StringFlag{Name: "agent", Usage: "Act as this agent (default: config, $SHAPE_AGENT, $USER)"}
}

func linkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "commit", Usage: "Commit hash"},
		&cli.StringFlag{Name: "pr", Usage: "Pull request number"},
		&cli.StringFlag{Name: "file", Usage: "File path"},
		&cli.StringFlag{Name: "url", Usage: "URL"},
		agentFlag(),
	}
}

func agentCommand() *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "Coordinate work between agents: claims, notes, links and handoffs",
		Commands: []*cli.Command{
			{
				Name:      "claim",
				Usage:     "Claim a task and start it",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					agentFlag(),
					&cli.BoolFlag{Name: "force", Usage: "Take over a claim held by another agent"},
					&cli.StringFlag{Name: "reason", Usage: "Why the claim is taken over (required with --force)"},
				},
				Action: agentClaim,
			},
			{
				Name:      "unclaim",
				Usage:     "Release a claim",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{agentFlag()},
				Action:    agentUnclaim,
			},
			{
				Name:   "claimed",
				Usage:  "List claimed tasks and their time left",
				Action: agentClaimed,
			},
			{
				Name:  "next",
				Usage: "Recommend the next task to work on",
				Flags: []cli.Flag{
					agentFlag(),
					&cli.StringFlag{Name: "brief", Aliases: []string{"b"}, Usage: "Only tasks of this brief"},
					&cli.StringFlag{Name: "limit", Aliases: []string{"n"}, Value: "1", Usage: "How many to recommend"},
				},
				Action: agentNext,
			},
			{
				Name:      "note",
				Usage:     "Add a note to a task",
				ArgsUsage: "<id> <text>",
				Flags:     []cli.Flag{agentFlag()},
				Action:    agentNote,
			},
			{
				Name:      "link",
				Usage:     "Link a task to a commit, pull request, file or URL",
				ArgsUsage: "<id>",
				Flags:     linkFlags(),
				Action:    agentLink(false),
			},
			{
				Name:      "unlink",
				Usage:     "Remove links from a task",
				ArgsUsage: "<id>",
				Flags:     linkFlags(),
				Action:    agentLink(true),
			},
			{
				Name:      "block",
				Usage:     "Mark a task blocked",
				ArgsUsage: "<id> <reason>",
				Flags: []cli.Flag{
					agentFlag(),
					&cli.StringFlag{Name: "on", Usage: "Task this one waits on"},
				},
				Action: agentBlock,
			},
			{
				Name:      "unblock",
				Usage:     "Clear an explicit block",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{agentFlag()},
				Action:    agentUnblock,
			},
			{
				Name:      "history",
				Usage:     "Show a task's timeline, notes and links",
				ArgsUsage: "<id>",
				Action:    agentHistory,
			},
			{
				Name:      "summary",
				Usage:     "Summarize the project, or one brief",
				ArgsUsage: "[brief]",
				Flags:     []cli.Flag{agentFlag()},
				Action:    agentSummary,
			},
			{
				Name:      "handoff",
				Usage:     "Release a task with a note, optionally to someone else",
				ArgsUsage: "<id> <reason>",
				Flags: []cli.Flag{
					agentFlag(),
					&cli.StringFlag{Name: "to", Usage: "Assign the task to this agent or person"},
				},
				Action: agentHandoff,
			},
			{
				Name:  "find",
				Usage: "Find tasks linked to a commit or file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "commit", Usage: "Commit hash or prefix"},
					&cli.StringFlag{Name: "file", Usage: "Path or path fragment"},
				},
				Action: agentFind,
			},
		},
	}
}

func agentClaim(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	req := taskservice.ClaimRequest{
		Agent:  cmd.String("agent"),
		Force:  cmd.Bool("force"),
		Reason: cmd.String("reason"),
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		res, err := svc.Claim(ctx, id, req)
		if err != nil {
			return err
		}
		if e.json {
			return e.printJSON(res)
		}
		switch {
		case res.Refreshed:
			_, err = fmt.Fprintf(e.out, "refreshed claim on %s\n", id)
		case res.Previous != "":
			_, err = fmt.Fprintf(e.out, "claimed %s from %s (now in progress)\n", id, res.Previous)
		default:
			_, err = fmt.Fprintf(e.out, "claimed %s (now in progress)\n", id)
		}
		return err
	})
}

func agentUnclaim(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		t, err := svc.Unclaim(ctx, id, cmd.String("agent"))
		if err != nil {
			return err
		}
		return e.printTask(t)
	})
}

func agentClaimed(ctx context.Context, cmd *cli.Command) error {
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		claims, err := svc.Claimed(ctx)
		if err != nil {
			return err
		}
		if e.json {
			return e.printJSON(claims)
		}
		if len(claims) == 0 {
			_, err := fmt.Fprintln(e.out, "no claimed tasks")
			return err
		}
		tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		for _, c := range claims {
			left := fmt.Sprintf("%.1fh", c.RemainingHours)
			if c.Expired {
				left = "EXPIRED"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.ClaimedBy, left, c.Title)
		}
		return tw.Flush()
	})
}

func agentNext(ctx context.Context, cmd *cli.Command) error {
	limit, err := strconv.Atoi(cmd.String("limit"))
	if err != nil || limit < 1 {
		return fmt.Errorf("%w: --limit must be a positive number", apperr.ErrInvalidInput)
	}
	req := taskservice.NextRequest{Agent: cmd.String("agent"), Limit: limit}
	if b := cmd.String("brief"); b != "" {
		if req.Brief, err = ident.Parse(b); err != nil {
			return err
		}
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		recs, err := svc.Next(ctx, req)
		if err != nil {
			return err
		}
		if e.json {
			if limit == 1 && len(recs) > 0 {
				return e.printJSON(map[string]any{"recommended": recs[0], "alternatives": recs[1:]})
			}
			return e.printJSON(recs)
		}
		if len(recs) == 0 {
			_, err := fmt.Fprintln(e.out, "no tasks ready to work on")
			return err
		}
		first := recs[0]
		fmt.Fprintf(e.out, "recommended: %s %q\n", first.ID, first.Title)
		if first.Brief != "" {
			fmt.Fprintf(e.out, "  brief:    %s\n", first.Brief)
		}
		fmt.Fprintf(e.out, "  priority: %s\n", first.Priority)
		if first.Unblocks > 0 {
			fmt.Fprintf(e.out, "  unblocks: %d tasks\n", first.Unblocks)
		}
		fmt.Fprintf(e.out, "  age:      %d days\n", first.AgeDays)
		fmt.Fprintf(e.out, "  score:    %.2f\n", first.Score)
		fmt.Fprintf(e.out, "run: shape agent claim %s\n", first.ID)
		for i, alt := range recs[1:] {
			fmt.Fprintf(e.out, "  %d. %s %q (score %.2f)\n", i+2, alt.ID, alt.Title, alt.Score)
		}
		return nil
	})
}

func agentNote(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	text := joinArgs(cmd, 1)
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		t, err := svc.AddNote(ctx, id, cmd.String("agent"), text)
		if err != nil {
			return err
		}
		return e.printTask(t)
	})
}

// linkArgs collects the link flags that were given.
func linkArgs(cmd *cli.Command) []models.Link {
	var out []models.Link
	for _, typ := range []models.LinkType{models.LinkCommit, models.LinkPR, models.LinkFile, models.LinkURL} {
		if v := cmd.String(string(typ)); v != "" {
			out = append(out, models.Link{Type: typ, Ref: v})
		}
	}
	return out
}

func agentLink(remove bool) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		id, err := argID(cmd, 0, "task id")
		if err != nil {
			return err
		}
		links := linkArgs(cmd)
		if len(links) == 0 {
			return fmt.Errorf("%w: no link given; use --commit, --pr, --file or --url", apperr.ErrInvalidInput)
		}
		agent := cmd.String("agent")
		return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
			var t *models.Task
			for _, l := range links {
				if remove {
					t, err = svc.RemoveLink(ctx, id, agent, l.Type, l.Ref)
				} else {
					t, err = svc.AddLink(ctx, id, agent, l.Type, l.Ref)
				}
				if err != nil {
					return err
				}
			}
			return e.printTask(t)
		})
	}
}

func agentBlock(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	req := taskservice.BlockRequest{Agent: cmd.String("agent"), Reason: joinArgs(cmd, 1)}
	if on := cmd.String("on"); on != "" {
		if req.On, err = ident.Parse(on); err != nil {
			return err
		}
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		t, err := svc.Block(ctx, id, req)
		if err != nil {
			return err
		}
		return e.printTask(t)
	})
}

func agentUnblock(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		t, err := svc.Unblock(ctx, id, cmd.String("agent"))
		if err != nil {
			return err
		}
		return e.printTask(t)
	})
}

func agentHistory(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		d, err := svc.Show(ctx, id)
		if err != nil {
			return err
		}
		return e.printHistory(d.Task)
	})
}

func agentSummary(ctx context.Context, cmd *cli.Command) error {
	var brief ident.ID
	if s := cmd.Args().First(); s != "" {
		id, err := ident.Parse(s)
		if err != nil {
			return err
		}
		brief = id
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		if brief.IsZero() {
			ps, err := svc.SummarizeProject(ctx, cmd.String("agent"))
			if err != nil {
				return err
			}
			return e.printProjectSummary(ps)
		}
		bs, err := svc.SummarizeBrief(ctx, brief)
		if err != nil {
			return err
		}
		return e.printBriefSummary(bs)
	})
}

func agentHandoff(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0, "task id")
	if err != nil {
		return err
	}
	req := taskservice.HandoffRequest{
		Agent:  cmd.String("agent"),
		Reason: joinArgs(cmd, 1),
		To:     cmd.String("to"),
	}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		t, err := svc.Handoff(ctx, id, req)
		if err != nil {
			return err
		}
		return e.printTask(t)
	})
}

func agentFind(ctx context.Context, cmd *cli.Command) error {
	q := taskservice.LinkQuery{Commit: cmd.String("commit"), File: cmd.String("file")}
	return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
		tasks, err := svc.FindByLink(ctx, q)
		if err != nil {
			return err
		}
		return e.printTasks(tasks)
	})
}

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "Fold old completed tasks into one summary per brief",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "days", Usage: "Only tasks completed more than this many days ago (default: config)"},
			&cli.StringFlag{Name: "brief", Aliases: []string{"b"}, Usage: "Only tasks of this brief"},
			&cli.StringFlag{Name: "strategy", Usage: "basic, smart or llm (default: config)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Show what would be compacted"},
			&cli.StringFlag{Name: "undo", Usage: "Restore the tasks folded into this representative"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
				if u := cmd.String("undo"); u != "" {
					id, err := ident.Parse(u)
					if err != nil {
						return err
					}
					restored, err := svc.UndoCompact(ctx, id)
					if err != nil {
						return err
					}
					if e.json {
						return e.printJSON(map[string]any{"undone": id, "restored_tasks": restored})
					}
					_, err = fmt.Fprintf(e.out, "restored %d tasks\n", len(restored))
					return err
				}

				req := taskservice.CompactRequest{
					Days:     e.cfg.Compact.Days,
					Strategy: e.cfg.Compact.Strategy,
					MinTasks: e.cfg.Compact.MinTasks,
					DryRun:   cmd.Bool("dry-run"),
				}
				if cmd.IsSet("days") {
					days, err := positiveInt(cmd.String("days"), "--days")
					if err != nil {
						return err
					}
					req.Days = days
				}
				if cmd.IsSet("strategy") {
					req.Strategy = cmd.String("strategy")
				}
				if b := cmd.String("brief"); b != "" {
					id, err := ident.Parse(b)
					if err != nil {
						return err
					}
					req.Brief = id
				}
				res, err := svc.Compact(ctx, req)
				if err != nil {
					return err
				}
				return e.printCompact(res, req.MinTasks)
			})
		},
	}
}

func contextCommand() *cli.Command {
	return &cli.Command{
		Name:  "context",
		Usage: "Export the project state for an agent's context (always JSON)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "compact", Usage: "Render tasks as one-line strings"},
			&cli.StringFlag{Name: "brief", Aliases: []string{"b"}, Usage: "Only this brief and its tasks"},
			&cli.StringFlag{Name: "days", Usage: "How far back recently completed tasks reach (default: config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
				req := taskservice.ContextRequest{Compact: cmd.Bool("compact"), Days: e.cfg.Context.Days}
				if cmd.IsSet("days") {
					days, err := positiveInt(cmd.String("days"), "--days")
					if err != nil {
						return err
					}
					req.Days = days
				}
				if b := cmd.String("brief"); b != "" {
					id, err := ident.Parse(b)
					if err != nil {
						return err
					}
					req.Brief = id
				}
				out, err := svc.Context(ctx, req)
				if err != nil {
					return err
				}
				return e.printJSON(out)
			})
		},
	}
}

func positiveInt(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive number", apperr.ErrInvalidInput, name)
	}
	return n, nil
}

// joinArgs joins the positional arguments from i on.
func joinArgs(cmd *cli.Command, i int) string {
	args := cmd.Args().Slice()
	if i >= len(args) {
		return ""
	}
	return strings.Join(args[i:], " ")
}
