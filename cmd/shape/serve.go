package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/starford/shape/internal"
	"github.com/starford/shape/internal/mcpserver"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP query API and keep the cache in sync",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			if err := internal.Run(ctx, internal.WithConfig(e.cfg), internal.WithRoot(e.root)); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve task tools to an LLM agent over MCP stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			proj, err := internal.OpenProject(e.cfg, e.root)
			if err != nil {
				return err
			}
			defer proj.Close()
			return mcpserver.New(proj.Service(e.cfg, e.logger), version).ServeStdio()
		},
	}
}
