package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusPlain   bool
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system health and gateway reachability",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusPlain, "plain", false, "Print without terminal formatting")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 30*time.Second, "Timeout for the health check")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(statusTimeout)
	defer cancel()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	var sb strings.Builder
	sb.WriteString("## Estado del sistema\n\n")

	if a.gateway != nil {
		url, latency, err := a.gateway.Probe(ctx)
		if err != nil {
			sb.WriteString(fmt.Sprintf("- **Gateway:** sin respuesta (%v)\n", err))
		} else {
			sb.WriteString(fmt.Sprintf("- **Gateway:** %s (%d ms)\n", url, latency.Milliseconds()))
		}
	}

	status, err := a.pipeline.Status(ctx)
	if err != nil {
		sb.WriteString(fmt.Sprintf("- **Lecturas:** no disponibles (%v)\n", err))
		printMarkdown(cmd.OutOrStdout(), sb.String(), statusPlain)
		return fmt.Errorf("sensor source unavailable: %w", err)
	}

	sb.WriteString(fmt.Sprintf("- **%s**\n", status.Summary))
	sb.WriteString(fmt.Sprintf("- **Fuente:** %s, %d lecturas validadas\n", status.Source, status.Readings))
	sb.WriteString(fmt.Sprintf("- **Consultado:** %s\n\n", status.FetchedAt.Local().Format("2006-01-02 15:04:05")))

	sb.WriteString("| Dispositivo | Estado | Última lectura | Lecturas | Plausibles |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, d := range status.Health.Devices {
		state := "inactivo"
		if d.Active {
			state = "activo"
		}
		seen := "-"
		if !d.LastSeen.IsZero() {
			seen = d.LastSeen.Local().Format("2006-01-02 15:04:05")
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d |\n", d.DeviceID, state, seen, d.Readings, d.Plausible))
	}

	printMarkdown(cmd.OutOrStdout(), sb.String(), statusPlain)
	return nil
}
