package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ojulabs/oju/internal/store"
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Operator actions on stored alerts",
	Long: `Act on alerts the engine opened.

The engine opens and resolves alerts on its own; this covers the
transitions it never makes, like acknowledging an alert or closing a
misfire as a false positive. Alert ids are shown in the now dashboard,
the --plain listing, and the CSV export.`,
}

var alertSetCmd = &cobra.Command{
	Use:   "set <id> <status>",
	Short: "Set an alert's lifecycle status",
	Long: `Move an alert to a new lifecycle status: new, in_progress, resolved,
or false_positive.

Alerts in new or in_progress count as open: they suppress duplicate
findings of the same kind on the same platform and show up on the
dashboard. Closing an alert as resolved or false_positive frees the key,
so the next sweep opens a fresh alert if the finding persists.`,
	Example: `  # Acknowledge alert 42
  oju alert set 42 in_progress

  # Close a misfire for good
  oju alert set 42 false_positive`,
	Args: cobra.ExactArgs(2),
	RunE: runAlertSet,
}

func init() {
	rootCmd.AddCommand(alertCmd)
	alertCmd.AddCommand(alertSetCmd)
	alertCmd.PersistentFlags().String("config", defaultConfigPath, "Path to config file")
	alertCmd.PersistentFlags().String("db", "", "Path to SQLite database (overrides config)")
}

func runAlertSet(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid alert id %q", args[0])
	}
	status, err := parseAlertStatus(args[1])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dbFlag, _ := cmd.Flags().GetString("db") //nolint:errcheck // flag registered above
	if dbFlag != "" {
		cfg.DatabasePath = dbFlag
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close() //nolint:errcheck // best-effort close

	if err := st.SetAlertStatus(id, status, time.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("alert %d not found", id)
		}
		return fmt.Errorf("updating alert: %w", err)
	}

	cmd.Printf("alert %d set to %s\n", id, status)
	return nil
}

func parseAlertStatus(raw string) (store.AlertStatus, error) {
	switch s := store.AlertStatus(raw); s {
	case store.StatusNew, store.StatusInProgress, store.StatusResolved, store.StatusFalsePositive:
		return s, nil
	}
	return "", fmt.Errorf("invalid status %q: must be new, in_progress, resolved, or false_positive", raw)
}
