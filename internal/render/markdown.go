// Package render turns a stored analysis into Markdown and, for terminals,
// into styled text.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"swot-insights/internal/models"
	"swot-insights/internal/parser"
)

const defaultWidth = 100

// Section titles as shown on the results screen.
var sectionTitles = [3]string{"Matriz SWOT", "Diagnóstico Consultivo", "Plano de Ação"}

// Markdown lays out a final result with one H2 per section. Section content
// is restructured through parser.Sections so numbered and bulleted lines render
// as lists.
func Markdown(company string, fr models.FinalResult) string {
	var b strings.Builder
	title := "Análise SWOT"
	if company = strings.TrimSpace(company); company != "" {
		title += ": " + company
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if !fr.Ready {
		b.WriteString("> A análise ainda não está pronta. Gere novamente para ver o resultado completo.\n\n")
	}

	d := parser.Sections(fr)
	for i, blocks := range [][]parser.Block{d.Matrix, d.Diagnostic, d.ActionPlan} {
		fmt.Fprintf(&b, "## %s\n\n", sectionTitles[i])
		writeBlocks(&b, blocks)
	}

	if len(fr.PrioritizedActions) > 0 {
		b.WriteString("## Ações priorizadas\n\n")
		for _, a := range fr.PrioritizedActions {
			fmt.Fprintf(&b, "- [x] %s\n", a)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeBlocks(b *strings.Builder, blocks []parser.Block) {
	for _, blk := range blocks {
		if blk.Raw != "" {
			b.WriteString(strings.TrimSpace(blk.Raw))
			b.WriteString("\n\n")
			continue
		}
		if blk.Heading != "" {
			fmt.Fprintf(b, "### %s\n\n", blk.Heading)
		}
		switch len(blk.Items) {
		case 0:
		case 1:
			b.WriteString(blk.Items[0])
			b.WriteString("\n\n")
		default:
			for _, item := range blk.Items {
				fmt.Fprintf(b, "- %s\n", item)
			}
			b.WriteString("\n")
		}
	}
}

// Options controls terminal rendering.
type Options struct {
	// Plain disables colors, for pipes and log files.
	Plain bool
	Width int
}

// Terminal styles markdown for a terminal.
func Terminal(markdown string, opts Options) (string, error) {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	style := glamour.WithStandardStyle("dark")
	if opts.Plain {
		style = glamour.WithStandardStyle("notty")
	}

	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(opts.Width))
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}
