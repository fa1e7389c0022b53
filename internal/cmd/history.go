package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyHours int
	historyPlain bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Summarize archived readings",
	Long: `Summarize the readings archived in the local DuckDB file. The archive is
filled by every question asked while archive.enabled is set, and stays
readable while the gateway is down.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyHours, "hours", 0, "Only include readings from the last N hours (0 = whole archive)")
	historyCmd.Flags().BoolVar(&historyPlain, "plain", false, "Print without terminal formatting")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(time.Minute)
	defer cancel()

	a, err := newApp(ctx, appOptions{NeedArchive: true})
	if err != nil {
		return err
	}
	defer a.close()

	var since time.Time
	if historyHours > 0 {
		since = time.Now().Add(-time.Duration(historyHours) * time.Hour)
	}

	summaries, err := a.archive.Summaries(ctx, since)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "El archivo local no tiene lecturas en ese periodo.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Archivo local (%s)\n\n", cfg.Archive.Path))
	sb.WriteString("| Serie | n | Media | Desv. | Mín | Máx | Desde | Hasta |\n")
	sb.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, s := range summaries {
		sb.WriteString(fmt.Sprintf("| %s / %s | %d | %.2f | %.2f | %.2f | %.2f | %s | %s |\n",
			s.DeviceID, s.SensorKey, s.Count, s.Avg, s.StdDev, s.Min, s.Max,
			s.First.Local().Format("01-02 15:04"), s.Last.Local().Format("01-02 15:04")))
	}

	printMarkdown(cmd.OutOrStdout(), sb.String(), historyPlain)
	return nil
}
