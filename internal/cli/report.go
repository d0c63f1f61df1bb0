package cli

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ojulabs/oju/internal/report"
	"github.com/ojulabs/oju/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export alerts as CSV or a self-contained HTML report",
	Long: `Export alerts from the database for audits, handoff, or archival.

CSV carries one alert per row with RFC 3339 timestamps. HTML reports are
standalone — all CSS is inlined, the output is print-friendly. By default
only active alerts are exported; --since widens the window to everything
that changed within the given duration, resolved alerts included.`,
	Example: `  # Active alerts as CSV on stdout
  oju report

  # Everything from the last week as HTML
  oju report --format html --since 168h --out weekly.html

  # Pipe CSV into other tooling
  oju report --format csv | csvlook`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().String("config", defaultConfigPath, "Path to config file")
	reportCmd.Flags().String("db", "", "Path to SQLite database (overrides config)")
	reportCmd.Flags().String("format", "csv", "Output format: csv or html")
	reportCmd.Flags().Duration("since", 0, "Include alerts updated within this window (0 = active only)")
	reportCmd.Flags().StringP("out", "o", "", "Write to file (default: stdout)")
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dbFlag, _ := cmd.Flags().GetString("db") //nolint:errcheck // flag registered above
	if dbFlag != "" {
		cfg.DatabasePath = dbFlag
	}

	format, _ := cmd.Flags().GetString("format") //nolint:errcheck // flag registered above
	if format != "csv" && format != "html" {
		return fmt.Errorf("invalid --format %q: must be csv or html", format)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close() //nolint:errcheck // read-only command

	since, _ := cmd.Flags().GetDuration("since") //nolint:errcheck // flag registered above
	var alerts []store.AlertView
	if since > 0 {
		alerts, err = st.AlertsSince(time.Now().Add(-since))
	} else {
		alerts, err = st.ActiveAlerts()
	}
	if err != nil {
		return fmt.Errorf("loading alerts: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case "csv":
		if err := report.WriteCSV(&buf, alerts); err != nil {
			return fmt.Errorf("generating csv: %w", err)
		}
	case "html":
		page, genErr := report.Generate(alerts, time.Now())
		if genErr != nil {
			return fmt.Errorf("generating report: %w", genErr)
		}
		buf.Write(page)
	}

	outFile, _ := cmd.Flags().GetString("out") //nolint:errcheck // flag registered above
	if outFile != "" {
		if writeErr := os.WriteFile(outFile, buf.Bytes(), 0o644); writeErr != nil { //nolint:gosec // report is not sensitive
			return fmt.Errorf("writing report: %w", writeErr)
		}
		slog.Info("report written", "path", outFile, "alerts", len(alerts))
		return nil
	}
	os.Stdout.Write(buf.Bytes()) //nolint:errcheck // best-effort stdout write
	return nil
}
