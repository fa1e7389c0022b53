package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/strrl/sensor-chat/internal/pipeline"
)

var (
	chatOutDir  string
	chatPlain   bool
	chatTimeout time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive session. Follow-up questions reuse the device and time
window of the previous question. Type "salir" or press Ctrl-D to quit.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVarP(&chatOutDir, "out", "o", "", "Directory for charts and reports (default: report.output_dir)")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "Print answers without terminal formatting")
	chatCmd.Flags().DurationVar(&chatTimeout, "timeout", 2*time.Minute, "Timeout per answer")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	sess := pipeline.NewSession()
	fmt.Fprintln(out, "Asistente de sensores listo. Escribe tu pregunta (\"salir\" para terminar).")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "salir" || text == "exit" || text == "quit" {
			break
		}

		turnCtx, cancel := context.WithTimeout(ctx, chatTimeout)
		err := a.respond(turnCtx, out, sess, text, chatOutDir, chatPlain)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, context.DeadlineExceeded) {
				fmt.Fprintln(out, "La respuesta tardó demasiado. Inténtalo de nuevo.")
				continue
			}
			logger.Error("Failed to answer", zap.Error(err))
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}
