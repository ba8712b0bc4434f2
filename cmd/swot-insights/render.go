package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"swot-insights/internal/common/database"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/models"
	"swot-insights/internal/reports"
)

var (
	renderUser   string
	renderFormat string
)

// renderCmd prints a stored report, from a JSON export or from Postgres.
var renderCmd = &cobra.Command{
	Use:   "render <report.json | report-id>",
	Short: "Render a stored report in the terminal",
	Long: `Render a report exported as JSON (as returned by GET /history/:id), or
load it from the database when --user is set and the argument is a report id.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVar(&renderUser, "user", "", "Owner of the report; loads the id from the database")
	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "terminal", "Output format (json/raw/markdown/terminal)")
	renderCmd.Flags().BoolVar(&plainOutput, "plain", false, "Disable colors in terminal output")
	renderCmd.Flags().IntVar(&renderWidth, "width", 100, "Word wrap width for terminal output")
}

func runRender(cmd *cobra.Command, args []string) error {
	var (
		report *models.Report
		err    error
	)
	if renderUser != "" {
		report, err = loadReport(cmd.Context(), args[0], renderUser)
	} else {
		report, err = readReportFile(args[0])
	}
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), report.CompanyName, report.FinalResult, renderFormat)
}

func readReportFile(path string) (*models.Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r models.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}

func loadReport(ctx context.Context, id, userID string) (*models.Report, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}
	defer pg.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	log := logger.NewStructured(cfg.Logging.Level, "console")
	return reports.NewStore(pg.DB, log).Get(ctx, id, userID)
}
