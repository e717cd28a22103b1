// Command orchestrator runs the course creation workflow against remote
// workers. It serves an HTTP API, runs one topic from the command line, or
// acts as an MCP server over stdio.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/coursegraph/internal/server"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logJSON    bool
	otelSpans  bool
)

var rootCmd = &cobra.Command{
	Use:           "orchestrator",
	Short:         "Research, judge and build course modules with remote workers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		api := server.New(a.runner, a.store, server.WithGatherer(a.registry))
		addr := a.cfg.Server.Addr()
		log.Printf("orchestrator listening on %s", addr)
		return server.ListenAndServe(cmd.Context(), addr, api.Handler())
	},
}

var runCmd = &cobra.Command{
	Use:   "run <topic>",
	Short: "Create one course and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.runner.Run(cmd.Context(), args[0])
		for _, l := range res.Loops {
			log.Printf("loop %s: %d passes, %s", l.Name, l.Iterations, l.State)
		}
		if err != nil {
			return fmt.Errorf("run %s: %w", res.RunID, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Output)
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the workflow as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		log.Println("serving MCP over stdio")
		return server.ServeStdio(server.NewMCPServer(a.runner, a.store, a.cfg.Server.AgentVersion))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log events as JSON lines")
	rootCmd.PersistentFlags().BoolVar(&otelSpans, "otel", false, "Record workflow events as OpenTelemetry spans")
	rootCmd.AddCommand(serveCmd, runCmd, mcpCmd)
}

func main() {
	// Logs go to stderr so stdout stays clean for course output and MCP.
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Printf("error: %v", err)
		stop()
		os.Exit(1)
	}
}
