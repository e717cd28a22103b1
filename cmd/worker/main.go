// Command worker serves one LLM worker role (researcher, judge or
// content_builder) over the remote worker protocol.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/coursegraph/graph"
	"github.com/dshills/coursegraph/graph/agent"
	"github.com/dshills/coursegraph/graph/emit"
	"github.com/dshills/coursegraph/graph/remote"
	"github.com/dshills/coursegraph/internal/config"
	"github.com/dshills/coursegraph/internal/pipeline"
	"github.com/dshills/coursegraph/internal/server"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logJSON    bool
	role       string
	port       int
)

var rootCmd = &cobra.Command{
	Use:           "worker",
	Short:         "Serve a course pipeline worker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve one worker role over HTTP and websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch role {
		case agent.RoleResearcher, agent.RoleJudge, agent.RoleContentBuilder:
		default:
			return fmt.Errorf("unknown role %q", role)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		listenPort := resolvePort(cfg, role, port)
		appURL := resolveAppURL(cfg, listenPort)

		costs := graph.NewCostTracker()
		a, err := pipeline.NewRoleAgent(cfg, role, costs)
		if err != nil {
			return err
		}

		card := remote.NewAgentCard(role, a.Description(), appURL, cfg.Server.AgentVersion)
		srv := remote.NewServer(a, card, remote.WithServerEmitter(emit.NewLogEmitter(os.Stderr, logJSON)))

		addr := fmt.Sprintf(":%d", listenPort)
		log.Printf("%s worker listening on %s (card url %s)", role, addr, card.URL)
		err = server.ListenAndServe(cmd.Context(), addr, srv.Handler())
		log.Printf("%s worker usage: %s", role, costs)
		return err
	},
}

// resolvePort picks the listen port: the flag, then $PORT, then the port in
// the worker's configured URL, then the server default.
func resolvePort(cfg *config.Config, role string, flagPort int) int {
	if flagPort > 0 {
		return flagPort
	}
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		return cfg.Server.Port
	}
	if p := cfg.Workers[role].Port(); p > 0 {
		return p
	}
	return cfg.Server.Port
}

// resolveAppURL returns the URL advertised in the agent card. Without an
// explicit APP_URL the worker advertises itself on localhost.
func resolveAppURL(cfg *config.Config, listenPort int) string {
	if v, ok := os.LookupEnv("APP_URL"); ok && v != "" {
		return cfg.Server.AppURL
	}
	if cfg.Server.AppURL != config.DefaultConfig().Server.AppURL {
		return cfg.Server.AppURL
	}
	return fmt.Sprintf("http://localhost:%d", listenPort)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log events as JSON lines")
	serveCmd.Flags().StringVar(&role, "role", "", "Worker role: researcher, judge or content_builder")
	serveCmd.Flags().IntVar(&port, "port", 0, "Listen port (default from $PORT or the worker URL)")
	_ = serveCmd.MarkFlagRequired("role")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Printf("error: %v", err)
		stop()
		os.Exit(1)
	}
}
