package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ojulabs/oju/internal/monitor"
	"github.com/ojulabs/oju/internal/probe"
	"github.com/ojulabs/oju/internal/store"
)

var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "One-shot probe battery against a single URL",
	Long: `Probe one URL the way a monitoring run would — domain registration,
DNS resolution, HTTP reachability, TLS certificate — without touching a
database. Probes run in pipeline order with its short-circuits: a dead
domain skips HTTP and TLS, an unreachable site skips TLS.

Exit codes:
  0  All probes passed
  1  Warnings (registration or certificate expiry thresholds)
  2  Critical problems (unreachable, bad certificate, dead domain)
  3  The probes themselves could not run`,
	Example: `  # Probe a URL (scheme defaults to https)
  oju check shop.example.com

  # Resolve against specific DNS servers
  oju check https://shop.example.com --dns 1.1.1.1 --dns 8.8.8.8

  # JSON output for pipeline parsing
  oju check https://shop.example.com --output json

  # Quiet mode — exit code only
  oju check https://shop.example.com --quiet`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringSlice("dns", nil, "DNS servers for the resolution check (empty = skip)")
	checkCmd.Flags().Duration("timeout", 5*time.Second, "Per-probe timeout")
	checkCmd.Flags().String("user-agent", "", "User-Agent header for the HTTP probe")
	checkCmd.Flags().Bool("skip-whois", false, "Skip the WHOIS registration check")
	checkCmd.Flags().Bool("skip-tls", false, "Skip the TLS certificate check")
	checkCmd.Flags().StringP("output", "o", "", "Output format: json, table (default: table)")
	checkCmd.Flags().BoolP("quiet", "q", false, "Suppress output, exit code only")
}

// Verdict labels for the table's RESULT column.
const (
	verdictOK    = "ok"
	verdictWarn  = "WARN"
	verdictCrit  = "CRIT"
	verdictError = "ERROR"
	verdictSkip  = "skip"
)

// The battery talks to probes through the same minimal interfaces the
// engine uses, so tests can substitute canned verdicts.
type (
	domainProber interface {
		Check(ctx context.Context, name string) (*probe.DomainResult, error)
	}
	websiteProber interface {
		Check(ctx context.Context, rawURL string) (*probe.WebsiteResult, error)
	}
	tlsProber interface {
		Check(ctx context.Context, host string) (*probe.TLSResult, error)
	}
)

// battery is the one-shot probe set for a single URL. A nil prober is
// skipped with a table row saying why.
type battery struct {
	target string // normalized URL
	host   string
	port   string // TLS port, set only for https targets
	domain domainProber
	site   websiteProber
	tls    tlsProber
}

// checkVerdict is one row of the verdict table.
type checkVerdict struct {
	probe  string
	result string
	detail string
}

// batteryRun accumulates the verdict rows and synthesized alerts of one
// battery pass. failed marks probes that could not run at all.
type batteryRun struct {
	target   string
	at       time.Time
	verdicts []checkVerdict
	alerts   []store.AlertView
	failed   bool
}

func (r *batteryRun) pass(name, detail string) {
	r.verdicts = append(r.verdicts, checkVerdict{name, verdictOK, detail})
}

// find records a probe verdict as an alert the way a monitoring run would
// store it, so exit codes and JSON output share the alert severity model.
func (r *batteryRun) find(name string, kind store.AlertKind, details string) {
	label := verdictCrit
	if kind.Severity() == store.SeverityWarn {
		label = verdictWarn
	}
	r.verdicts = append(r.verdicts, checkVerdict{name, label, details})
	r.alerts = append(r.alerts, store.AlertView{
		Alert: store.Alert{
			Kind:      kind,
			Status:    store.StatusNew,
			Details:   details,
			CreatedAt: r.at,
			UpdatedAt: r.at,
		},
		PlatformURL: r.target,
	})
}

func (r *batteryRun) fail(name string, err error) {
	r.verdicts = append(r.verdicts, checkVerdict{name, verdictError, err.Error()})
	r.failed = true
}

func (r *batteryRun) skip(name, why string) {
	r.verdicts = append(r.verdicts, checkVerdict{name, verdictSkip, "skipped: " + why})
}

// run walks the battery in pipeline order.
func (b *battery) run(ctx context.Context, at time.Time) *batteryRun {
	r := &batteryRun{target: b.target, at: at}

	if !b.checkDomain(ctx, r) {
		r.skip("http", "domain check failed")
		r.skip("tls", "domain check failed")
		return r
	}
	if !b.checkSite(ctx, r) {
		if b.tls != nil {
			r.skip("tls", "http check failed")
		}
		return r
	}
	b.checkTLS(ctx, r)
	return r
}

// checkDomain mirrors the monitoring pipeline's domain judgement. Reports
// whether the rest of the battery should run.
func (b *battery) checkDomain(ctx context.Context, r *batteryRun) bool {
	if b.domain == nil {
		r.skip("domain", "whois disabled and no DNS servers given")
		return true
	}

	res, err := b.domain.Check(ctx, b.host)
	if err == nil {
		r.pass("domain", domainDetail(res))
		return true
	}

	var expErr *probe.DomainExpiringError
	if errors.As(err, &expErr) {
		// The registration still resolves; expiry is a warning.
		r.find("domain", store.KindDomainExpiring, err.Error())
		return true
	}

	var whoisErr *probe.WhoisError
	var dnsErr *probe.DNSResolutionError
	var allDNSErr *probe.AllDNSFailedError
	if errors.As(err, &whoisErr) || errors.As(err, &dnsErr) || errors.As(err, &allDNSErr) {
		r.find("domain", store.KindDomainUnavailable, err.Error())
		return false
	}

	r.fail("domain", err)
	return false
}

// checkSite probes HTTP reachability. TLS-level failures pass through; the
// certificate probe owns that judgement.
func (b *battery) checkSite(ctx context.Context, r *batteryRun) bool {
	res, err := b.site.Check(ctx, b.target)
	if err == nil {
		r.pass("http", res.String())
		return true
	}

	var sslErr *probe.SSLError
	if errors.As(err, &sslErr) {
		r.pass("http", "reachable, certificate judged by the tls probe")
		return true
	}

	var timeoutErr *probe.TimeoutError
	var unavailErr *probe.UnavailableError
	var statusErr *probe.HTTPStatusError
	if errors.As(err, &timeoutErr) || errors.As(err, &unavailErr) || errors.As(err, &statusErr) {
		r.find("http", store.KindAvailability, err.Error())
		return false
	}

	r.fail("http", err)
	return false
}

// checkTLS judges the certificate on https targets.
func (b *battery) checkTLS(ctx context.Context, r *batteryRun) {
	if b.tls == nil {
		r.skip("tls", "not an https URL or disabled")
		return
	}

	res, err := b.tls.Check(ctx, net.JoinHostPort(b.host, b.port))
	if err == nil {
		r.pass("tls", tlsDetail(res))
		return
	}

	var expErr *probe.CertExpiringError
	if errors.As(err, &expErr) {
		r.find("tls", store.KindSSLExpiring, err.Error())
		return
	}

	var certErr *probe.CertificateError
	var expiredErr *probe.CertExpiredError
	var notYetErr *probe.CertNotYetValidError
	if errors.As(err, &certErr) || errors.As(err, &expiredErr) || errors.As(err, &notYetErr) {
		r.find("tls", store.KindSSL, err.Error())
		return
	}

	// Handshake and connection failures leave nothing to judge.
	r.fail("tls", err)
}

func domainDetail(res *probe.DomainResult) string {
	var parts []string
	if res.ResolvedIP != "" {
		parts = append(parts, "resolves to "+res.ResolvedIP)
	}
	if !res.ExpiresAt.IsZero() {
		parts = append(parts, fmt.Sprintf("expires in %d days (%s)", res.DaysLeft, res.ExpiresAt.Format("2006-01-02")))
	}
	if len(parts) == 0 {
		return "registered"
	}
	return strings.Join(parts, ", ")
}

func tlsDetail(res *probe.TLSResult) string {
	detail := fmt.Sprintf("valid, expires in %d days", res.DaysLeft)
	if res.Cert != nil && res.Cert.Issuer != "" {
		detail += ", issued by " + res.Cert.Issuer
	}
	if len(res.Posture) > 0 {
		detail += "; " + strings.Join(res.Posture, "; ")
	}
	return detail
}

// normalizeTarget fills in a missing scheme (https) and validates that the
// URL carries a usable host.
func normalizeTarget(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q: must be http or https", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid URL %q: no host", raw)
	}
	return u, nil
}

// renderVerdicts formats the verdict table for terminal output.
func renderVerdicts(target string, verdicts []checkVerdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", target)
	fmt.Fprintf(&b, "%-8s %-6s %s\n", "PROBE", "RESULT", "DETAIL")
	fmt.Fprintf(&b, "%-8s %-6s %s\n", "-----", "------", "------")
	for _, v := range verdicts {
		fmt.Fprintf(&b, "%-8s %-6s %s\n", v.probe, v.result, v.detail)
	}
	return b.String()
}

func runCheck(cmd *cobra.Command, args []string) error {
	u, err := normalizeTarget(args[0])
	if err != nil {
		return err
	}

	outputFlag, _ := cmd.Flags().GetString("output") //nolint:errcheck // flag registered above
	if outputFlag != "" && outputFlag != "json" && outputFlag != "table" {
		return fmt.Errorf("invalid --output value %q: must be json or table", outputFlag)
	}
	quiet, _ := cmd.Flags().GetBool("quiet") //nolint:errcheck // flag registered above

	dnsServers, _ := cmd.Flags().GetStringSlice("dns") //nolint:errcheck // flag registered above
	timeout, _ := cmd.Flags().GetDuration("timeout")   //nolint:errcheck // flag registered above
	ua, _ := cmd.Flags().GetString("user-agent")       //nolint:errcheck // flag registered above
	skipWhois, _ := cmd.Flags().GetBool("skip-whois")  //nolint:errcheck // flag registered above
	skipTLS, _ := cmd.Flags().GetBool("skip-tls")      //nolint:errcheck // flag registered above

	b := &battery{
		target: u.String(),
		host:   u.Hostname(),
		site:   &probe.WebsiteChecker{UserAgent: ua, Timeout: timeout},
	}
	if !skipWhois || len(dnsServers) > 0 {
		b.domain = probe.NewDomainChecker(dnsServers, timeout, !skipWhois, len(dnsServers) > 0, true)
	}
	if u.Scheme == "https" && !skipTLS {
		port := u.Port()
		if port == "" {
			port = "443"
		}
		b.port = port
		b.tls = &probe.TLSChecker{Timeout: timeout, CheckError: true, CheckExpiry: true}
	}

	start := time.Now()
	run := b.run(context.Background(), start)

	rep := &monitor.RunReport{
		ID:        uuid.NewString(),
		StartedAt: start,
		Duration:  time.Since(start),
		Platforms: 1,
		Created:   len(run.alerts),
	}
	if len(run.alerts) > 0 {
		rep.Affected = 1
	}

	exitCode := monitor.ExitCode(run.alerts)
	if run.failed {
		exitCode = 3
	}

	if !quiet {
		switch outputFlag {
		case "json":
			out := monitor.CheckOutput{Report: rep, Alerts: run.alerts, ExitCode: exitCode}
			if err := monitor.WriteJSON(os.Stdout, out); err != nil {
				return fmt.Errorf("writing JSON output: %w", err)
			}
		default:
			fmt.Print(renderVerdicts(b.target, run.verdicts))
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}
