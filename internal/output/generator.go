package output

import (
	"fmt"
	"strings"

	"github.com/strrl/sensor-chat/internal/artifact"
)

type Format string

const (
	FormatPDF      Format = "pdf"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pdf":
		return FormatPDF, nil
	case "html", "htm":
		return FormatHTML, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatHTML:
		return "html"
	case FormatMarkdown:
		return "md"
	default:
		return "pdf"
	}
}

func (f Format) MIMEType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/pdf"
	}
}

// Filename is derived from the generation time and scope only, so the same
// document always gets the same name.
func Filename(doc *Document, f Format) string {
	scope := "todos"
	if doc.DeviceID != "" {
		scope = sanitizeFilename(doc.DeviceID)
	}
	return fmt.Sprintf("informe_%s_%s.%s", scope, doc.GeneratedAt.Format("20060102_150405"), f.Extension())
}

// Generate renders doc and wraps the bytes as a report artifact.
func Generate(doc *Document, f Format) (*artifact.Artifact, error) {
	var (
		data []byte
		err  error
	)
	switch f {
	case FormatHTML:
		data, err = RenderHTML(doc)
	case FormatMarkdown:
		data = RenderMarkdown(doc)
	case FormatPDF:
		data, err = RenderPDF(doc)
	default:
		return nil, fmt.Errorf("unknown report format %q", f)
	}
	if err != nil {
		return nil, err
	}

	return &artifact.Artifact{
		Kind:      artifact.KindReport,
		Filename:  Filename(doc, f),
		MIMEType:  f.MIMEType(),
		Data:      data,
		CreatedAt: doc.GeneratedAt,
	}, nil
}

// ChartArtifact wraps the composed chart grid as a PNG artifact.
func ChartArtifact(doc *Document) (*artifact.Artifact, error) {
	if doc.Chart == nil {
		return nil, fmt.Errorf("document has no chart")
	}
	scope := "todos"
	if doc.DeviceID != "" {
		scope = sanitizeFilename(doc.DeviceID)
	}
	return &artifact.Artifact{
		Kind:      artifact.KindChart,
		Filename:  fmt.Sprintf("grafica_%s_%s.png", scope, doc.GeneratedAt.Format("20060102_150405")),
		MIMEType:  "image/png",
		Data:      doc.Chart.Grid,
		CreatedAt: doc.GeneratedAt,
	}, nil
}
