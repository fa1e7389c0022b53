package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strrl/sensor-chat/internal/output"
	"github.com/strrl/sensor-chat/internal/pipeline"
)

var (
	reportDevice  string
	reportHours   int
	reportFormat  string
	reportOutDir  string
	reportTimeout time.Duration
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a sensor report",
	Long: `Generate a report with health summary, per-sensor statistics and charts for
one device or all devices, and write it to the output directory.`,
	Example: `  sensor-chat report --hours 12
  sensor-chat report --device esp32_wifi_001 --format html`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportDevice, "device", "d", "", "Device ID (default: all devices)")
	reportCmd.Flags().IntVar(&reportHours, "hours", 24, "Time window in hours")
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "", "Report format: pdf, html or markdown (default: report.format)")
	reportCmd.Flags().StringVarP(&reportOutDir, "out", "o", "", "Output directory (default: report.output_dir)")
	reportCmd.Flags().DurationVar(&reportTimeout, "timeout", 2*time.Minute, "Timeout for fetching and rendering")
}

func runReport(cmd *cobra.Command, args []string) error {
	var format output.Format
	if reportFormat != "" {
		f, err := output.ParseFormat(reportFormat)
		if err != nil {
			return err
		}
		format = f
	}
	if reportHours <= 0 {
		return fmt.Errorf("--hours must be positive")
	}
	if reportDevice != "" {
		wl, err := cfg.Whitelist()
		if err != nil {
			return err
		}
		if _, ok := wl.Device(reportDevice); !ok {
			return fmt.Errorf("unknown device %q (known: %v)", reportDevice, wl.DeviceIDs())
		}
	}

	ctx, cancel := commandContext(reportTimeout)
	defer cancel()

	a, err := newApp(ctx, appOptions{ReportFormat: format})
	if err != nil {
		return err
	}
	defer a.close()

	return a.respond(ctx, cmd.OutOrStdout(), pipeline.NewSession(), reportQuestion(reportDevice, reportHours), reportOutDir, true)
}

// reportQuestion phrases the flags the way a user would ask, so the command
// goes through the same classification as chat.
func reportQuestion(deviceID string, hours int) string {
	if deviceID == "" {
		return fmt.Sprintf("informe de las últimas %d horas", hours)
	}
	return fmt.Sprintf("informe de %s de las últimas %d horas", deviceID, hours)
}
