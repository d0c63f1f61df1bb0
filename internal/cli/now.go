package cli

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ojulabs/oju/internal/monitor"
	"github.com/ojulabs/oju/internal/store"
)

var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Show active alerts right now",
	Long: `Load the active alerts from the database and browse them in an
interactive TUI: critical first, / to filter, a detail panel for the
selected alert. Use --plain for piped or scripted output.`,
	Example: `  # Interactive dashboard
  oju now

  # Plain text for pipes
  oju now --plain | grep CRIT`,
	RunE: runNow,
}

func init() {
	rootCmd.AddCommand(nowCmd)
	nowCmd.Flags().String("config", defaultConfigPath, "Path to config file")
	nowCmd.Flags().String("db", "", "Path to SQLite database (overrides config)")
	nowCmd.Flags().Bool("plain", false, "Plain text output (no TUI)")
}

func runNow(cmd *cobra.Command, _ []string) error {
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
	defer st.Close() //nolint:errcheck // read-only command

	active, err := st.ActiveAlerts()
	if err != nil {
		return fmt.Errorf("loading alerts: %w", err)
	}

	at := time.Now()
	plain, _ := cmd.Flags().GetBool("plain") //nolint:errcheck // flag registered above
	if plain {
		fmt.Print(monitor.PlainText(active, at))
		return nil
	}

	p := tea.NewProgram(monitor.NewModel(active, at), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
