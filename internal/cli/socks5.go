package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ojulabs/oju/internal/socks5"
)

var socks5Cmd = &cobra.Command{
	Use:   "socks5",
	Short: "Run the embedded SOCKS5 egress relay",
	Long: `Run a minimal SOCKS5 proxy (CONNECT only, no auth).

Deploy it next to the monitor in network segments where probes cannot
dial out directly, then add its address to the proxy list. --allow
restricts CONNECT targets to the monitored hosts and their subdomains.`,
	Example: `  # Relay on the default port
  oju socks5

  # Restrict targets to the monitored domains
  oju socks5 --listen :1080 --allow shop.example.com --allow news.example.com`,
	RunE: runSocks5,
}

func init() {
	rootCmd.AddCommand(socks5Cmd)
	socks5Cmd.Flags().String("listen", ":1080", "Listen address")
	socks5Cmd.Flags().StringSlice("allow", nil, "Allowed target hosts, subdomains included (empty = any)")
}

func runSocks5(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listen, _ := cmd.Flags().GetString("listen")    //nolint:errcheck // flag registered above
	allow, _ := cmd.Flags().GetStringSlice("allow") //nolint:errcheck // flag registered above

	s := &socks5.Server{Addr: listen, Allow: allow}
	return s.ListenAndServe(ctx)
}
