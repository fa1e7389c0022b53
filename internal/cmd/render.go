package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
)

const renderWidth = 100

// printMarkdown renders text for the terminal. Plain mode and renderer
// failures print the text unchanged.
func printMarkdown(w io.Writer, text string, plain bool) {
	if plain {
		fmt.Fprintln(w, text)
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(renderWidth),
	)
	if err != nil {
		fmt.Fprintln(w, text)
		return
	}
	out, err := r.Render(text)
	if err != nil {
		fmt.Fprintln(w, text)
		return
	}
	fmt.Fprint(w, strings.TrimRight(out, "\n")+"\n")
}
