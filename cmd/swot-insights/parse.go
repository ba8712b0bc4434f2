package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"swot-insights/internal/common/logger"
	"swot-insights/internal/models"
	"swot-insights/internal/parser"
	"swot-insights/internal/render"
)

var (
	parseStrict  bool
	parseFormat  string
	parseCompany string
	plainOutput  bool
	renderWidth  int
)

// parseCmd splits a raw analysis into its report sections, the same way the
// generation client does.
var parseCmd = &cobra.Command{
	Use:   "parse [analysis-file]",
	Short: "Parse a raw analysis into its three report sections",
	Long: `Parse generated analysis text into the SWOT matrix, the consulting
diagnostic and the A/B/C action plan. Reads stdin when no file is given.

Without --strict, text that does not follow the section headings yields the
placeholder result instead of an error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().BoolVar(&parseStrict, "strict", false, "Fail on text that does not match the section headings")
	parseCmd.Flags().StringVarP(&parseFormat, "format", "f", "json", "Output format (json/raw/markdown/terminal)")
	parseCmd.Flags().StringVar(&parseCompany, "company", "", "Company name for the report title")
	parseCmd.Flags().BoolVar(&plainOutput, "plain", false, "Disable colors in terminal output")
	parseCmd.Flags().IntVar(&renderWidth, "width", 100, "Word wrap width for terminal output")
}

func runParse(cmd *cobra.Command, args []string) error {
	var (
		raw []byte
		err error
	)
	if len(args) == 1 {
		raw, err = os.ReadFile(args[0])
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read analysis: %w", err)
	}

	p := parser.New(parser.Options{Logger: logger.NewStructured("warn", "console")})
	var fr models.FinalResult
	if parseStrict {
		if fr, err = p.ParseStrict(string(raw)); err != nil {
			return err
		}
	} else {
		fr = p.Parse(string(raw))
	}
	return writeResult(cmd.OutOrStdout(), parseCompany, fr, parseFormat)
}

func writeResult(w io.Writer, company string, fr models.FinalResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(fr)
	case "raw":
		_, err := io.WriteString(w, parser.Compose(fr)+"\n")
		return err
	case "markdown", "md":
		_, err := io.WriteString(w, render.Markdown(company, fr))
		return err
	case "terminal":
		out, err := render.Terminal(render.Markdown(company, fr), render.Options{Plain: plainOutput, Width: renderWidth})
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
