package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/taskservice"
)

func briefCommand() *cli.Command {
	return &cli.Command{
		Name:  "brief",
		Usage: "Create and list briefs",
		Commands: []*cli.Command{
			{
				Name:      "new",
				Usage:     "Create a brief document",
				ArgsUsage: "<title>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "Brief template type", Value: models.DefaultBriefType},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
						b, err := svc.CreateBrief(ctx, cmd.Args().First(), cmd.String("type"))
						if err != nil {
							return err
						}
						return e.printBrief(b)
					})
				},
			},
			{
				Name:  "list",
				Usage: "List briefs with task progress",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Only briefs in this status"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
						rows, err := svc.BriefSummaries(ctx, cmd.String("status"))
						if err != nil {
							return err
						}
						return e.printBriefRows(rows)
					})
				},
			},
			{
				Name:      "show",
				Usage:     "Print a brief document",
				ArgsUsage: "<id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := argID(cmd, 0, "brief id")
					if err != nil {
						return err
					}
					return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
						b, err := svc.GetBrief(ctx, id)
						if err != nil {
							return err
						}
						if err := e.printBrief(b); err != nil || e.json || b.Body == "" {
							return err
						}
						_, err = fmt.Fprintf(e.out, "\n%s", b.Body)
						return err
					})
				},
			},
			{
				Name:      "status",
				Usage:     "Move a brief to proposed, betting, in_progress, shipped or archived",
				ArgsUsage: "<id> <status>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := argID(cmd, 0, "brief id")
					if err != nil {
						return err
					}
					status, err := models.ParseBriefStatus(cmd.Args().Get(1))
					if err != nil {
						return err
					}
					return withService(ctx, cmd, func(ctx context.Context, e *env, svc *taskservice.Service) error {
						b, err := svc.SetBriefStatus(ctx, id, status)
						if err != nil {
							return err
						}
						return e.printBrief(b)
					})
				},
			},
		},
	}
}
