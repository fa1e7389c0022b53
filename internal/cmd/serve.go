package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strrl/sensor-chat/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API for the dashboard",
	Long: `Serve the HTTP API used by the dashboard front end: sessions, messages,
system status and artifact downloads.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	srv := server.New(a.pipeline, server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SessionIdleTTL: cfg.SessionIdleTTL(),
		MaxSessions:    cfg.Server.MaxSessions,
	}, logger)
	return srv.ListenAndServe(ctx, addr)
}
