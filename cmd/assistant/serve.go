package main

import (
	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/server"
	"github.com/pysugar/assistant/internal/telemetry"
	"github.com/pysugar/assistant/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant server",
	Long: `Run the HTTP server backing the client: password auth with rotating
refresh tokens, per-user rows and the chat, title and account functions.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != "" {
		cfg.Server.Port = servePort
	}
	logging.L().Info("🧭 Starting assistant", zap.String("version", version.Current().String()))

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry, "assistant-server")
	if err != nil {
		return err
	}
	defer shutdown()

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.Run(cmd.Context())
}
