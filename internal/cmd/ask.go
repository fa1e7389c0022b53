package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/strrl/sensor-chat/internal/pipeline"
)

var (
	askOutDir  string
	askPlain   bool
	askTimeout time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question about the sensors",
	Long: `Ask a single question. Charts and reports requested in the question are
written to the output directory.`,
	Example: `  sensor-chat ask "¿cuál es la temperatura del esp32?"
  sensor-chat ask "gráfica del arduino de las últimas 6 horas"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVarP(&askOutDir, "out", "o", "", "Directory for charts and reports (default: report.output_dir)")
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "Print the answer without terminal formatting")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "Timeout for the whole answer")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(askTimeout)
	defer cancel()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	question := strings.Join(args, " ")
	return a.respond(ctx, cmd.OutOrStdout(), pipeline.NewSession(), question, askOutDir, askPlain)
}

// respond runs one turn and prints the answer plus any saved artifacts.
func (a *app) respond(ctx context.Context, w io.Writer, sess *pipeline.Session, text, outDir string, plain bool) error {
	resp, err := a.pipeline.Handle(ctx, sess, text)
	if err != nil {
		return err
	}

	printMarkdown(w, resp.Text, plain)

	paths, err := a.saveArtifacts(ctx, resp, outputDir(outDir))
	for _, p := range paths {
		fmt.Fprintf(w, "Guardado: %s\n", p)
	}
	return err
}
