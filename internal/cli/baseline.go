package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ojulabs/oju/internal/store"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Inspect or reset a platform's defacement baseline",
	Long: `Manage the trusted page capture the defacement probe compares against.

The first sweep of a platform stores its capture as the baseline; later
sweeps diff new captures against it and open a defacement alert when the
page drifts beyond the whitelist. The baseline never moves on its own:
after a legitimate redesign, reset it to accept the current look.`,
}

var baselineShowCmd = &cobra.Command{
	Use:   "show <url>",
	Short: "Show the stored baseline state for a platform",
	Args:  cobra.ExactArgs(1),
	RunE:  runBaselineShow,
}

var baselineResetCmd = &cobra.Command{
	Use:   "reset <url>",
	Short: "Promote the last capture to the trusted baseline",
	Long: `Replace the trusted baseline with the platform's most recent capture
and clear the defaced state. The next sweep compares against the new
look and resolves the open defacement alert if the page is clean.`,
	Example: `  # Accept a redesign that tripped the defacement probe
  oju baseline reset https://shop.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runBaselineReset,
}

func init() {
	rootCmd.AddCommand(baselineCmd)
	baselineCmd.AddCommand(baselineShowCmd)
	baselineCmd.AddCommand(baselineResetCmd)
	baselineCmd.PersistentFlags().String("config", defaultConfigPath, "Path to config file")
	baselineCmd.PersistentFlags().String("db", "", "Path to SQLite database (overrides config)")
}

func runBaselineShow(cmd *cobra.Command, args []string) error {
	st, p, err := platformFromArgs(cmd, args[0])
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // read-only command

	rec, err := st.Defacement(p.ID)
	if err != nil {
		return fmt.Errorf("loading baseline: %w", err)
	}
	if rec == nil {
		cmd.Printf("no baseline for %s yet: the monitor records one on its first sweep\n", p.URL)
		return nil
	}

	cmd.Print(formatBaseline(p, rec))
	return nil
}

func runBaselineReset(cmd *cobra.Command, args []string) error {
	st, p, err := platformFromArgs(cmd, args[0])
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // best-effort close

	if err := st.ResetBaseline(p.ID, time.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no capture for %s yet: the monitor records one on its first sweep", p.URL)
		}
		return fmt.Errorf("resetting baseline: %w", err)
	}

	cmd.Printf("baseline reset for %s: the next sweep compares against the latest capture\n", p.URL)
	return nil
}

// platformFromArgs opens the database honoring --config/--db and resolves the
// URL argument to a platform. The caller owns the returned store.
func platformFromArgs(cmd *cobra.Command, raw string) (*store.Store, *store.PlatformInfo, error) {
	u, err := normalizeTarget(raw)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	dbFlag, _ := cmd.Flags().GetString("db") //nolint:errcheck // flag registered above
	if dbFlag != "" {
		cfg.DatabasePath = dbFlag
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	p, err := st.PlatformByURL(u.String())
	if err != nil {
		st.Close() //nolint:errcheck // already failing
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("platform not found: %s", u)
		}
		return nil, nil, fmt.Errorf("looking up platform: %w", err)
	}
	return st, p, nil
}

func formatBaseline(p *store.PlatformInfo, rec *store.DefacementRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "platform:  %s (%s)\n", p.URL, p.Entity.Name)
	fmt.Fprintf(&b, "defaced:   %v\n", rec.IsDefaced)
	if rec.Details != "" {
		fmt.Fprintf(&b, "details:   %s\n", strings.ReplaceAll(strings.TrimSpace(rec.Details), "\n", "\n           "))
	}
	fmt.Fprintf(&b, "baseline:  %s\n", captureSummary(rec.BaselineCapture, rec.BaselineTreeText))
	fmt.Fprintf(&b, "last:      %s\n", captureSummary(rec.LastCapture, rec.LastTreeText))
	fmt.Fprintf(&b, "updated:   %s\n", rec.UpdatedAt.UTC().Format(time.RFC3339))
	return b.String()
}

func captureSummary(capture []byte, treeText string) string {
	lines := 0
	if t := strings.TrimSpace(treeText); t != "" {
		lines = strings.Count(t, "\n") + 1
	}
	return fmt.Sprintf("%d bytes, %d-line tree", len(capture), lines)
}
