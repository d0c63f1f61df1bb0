package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/miekg/dns"
	"golang.org/x/net/publicsuffix"
)

// whoisTimeLayouts cover registries that ship non-RFC3339 expiry strings.
var whoisTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
}

// DomainResult is the verdict of a successful domain probe.
type DomainResult struct {
	ResolvedIP string
	ExpiresAt  time.Time
	DaysLeft   int
}

// DomainChecker verifies registration state over WHOIS and resolvability
// against a configured set of DNS servers.
type DomainChecker struct {
	Servers     []string // resolver addresses, host or host:port
	Timeout     time.Duration
	CheckWhois  bool
	CheckDNS    bool
	CheckExpiry bool

	whoisFn func(domain string) (string, error)
	now     func() time.Time
}

// defaultWhois adapts the variadic whois.Whois to the whoisFn signature.
func defaultWhois(domain string) (string, error) {
	return whois.Whois(domain)
}

// NewDomainChecker builds a checker with live WHOIS and wall-clock time.
func NewDomainChecker(servers []string, timeout time.Duration, checkWhois, checkDNS, checkExpiry bool) *DomainChecker {
	return &DomainChecker{
		Servers:     servers,
		Timeout:     timeout,
		CheckWhois:  checkWhois,
		CheckDNS:    checkDNS,
		CheckExpiry: checkExpiry,
		whoisFn:     defaultWhois,
		now:         time.Now,
	}
}

// Check runs the configured probes against the domain name. A WHOIS lookup
// failure does not short-circuit when DNS checking is enabled with servers
// configured; the DNS outcome is reported instead. A threshold expiry is
// authoritative and returned immediately.
func (c *DomainChecker) Check(ctx context.Context, name string) (*DomainResult, error) {
	res := &DomainResult{}
	dnsConfigured := c.CheckDNS && len(c.Servers) > 0

	if c.CheckWhois {
		expires, err := c.checkWhois(name)
		if err != nil {
			if !dnsConfigured {
				return nil, err
			}
			// fall through to DNS
		} else {
			res.ExpiresAt = expires
			res.DaysLeft = daysUntil(expires, c.now())
			if c.CheckExpiry {
				if _, hit := expiryLevelFor(res.DaysLeft); hit {
					return nil, &DomainExpiringError{Domain: name, Days: res.DaysLeft, ExpiresAt: expires}
				}
			}
		}
	}

	if dnsConfigured {
		ip, err := c.resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		res.ResolvedIP = ip
	}

	return res, nil
}

func (c *DomainChecker) checkWhois(name string) (time.Time, error) {
	root, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		// Not under a public suffix (bare hosts, IPs); query as given.
		root = name
	}

	whoisFn := c.whoisFn
	if whoisFn == nil {
		whoisFn = defaultWhois
	}
	raw, err := whoisFn(root)
	if err != nil {
		return time.Time{}, &WhoisError{Domain: root, Reason: "lookup failed", Err: err}
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		return time.Time{}, &WhoisError{Domain: root, Reason: "unparseable response", Err: err}
	}

	if parsed.Domain.ExpirationDateInTime != nil {
		return *parsed.Domain.ExpirationDateInTime, nil
	}

	dateStr := strings.TrimSpace(parsed.Domain.ExpirationDate)
	if idx := strings.Index(dateStr, " ("); idx != -1 {
		dateStr = strings.TrimSpace(dateStr[:idx])
	}
	if dateStr == "" {
		return time.Time{}, &WhoisError{Domain: root, Reason: "no expiration date"}
	}
	for _, layout := range whoisTimeLayouts {
		if t, perr := time.Parse(layout, dateStr); perr == nil {
			return t, nil
		}
	}
	return time.Time{}, &WhoisError{Domain: root, Reason: "unrecognized expiration date " + dateStr}
}

// resolve tries each configured server in order and returns the first A
// record. Every server failing aggregates into AllDNSFailedError.
func (c *DomainChecker) resolve(ctx context.Context, name string) (string, error) {
	client := &dns.Client{Timeout: c.Timeout}
	var errs []error

	for _, server := range c.Servers {
		addr := server
		if _, _, err := net.SplitHostPort(server); err != nil {
			addr = net.JoinHostPort(server, "53")
		}

		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), dns.TypeA)

		reply, _, err := client.ExchangeContext(ctx, msg, addr)
		if err != nil {
			errs = append(errs, &DNSResolutionError{Domain: name, Server: server, Err: err})
			continue
		}
		if reply.Rcode != dns.RcodeSuccess {
			errs = append(errs, &DNSResolutionError{
				Domain: name, Server: server,
				Err: &net.DNSError{Err: dns.RcodeToString[reply.Rcode], Name: name, Server: server},
			})
			continue
		}

		for _, rr := range reply.Answer {
			if a, ok := rr.(*dns.A); ok {
				return a.A.String(), nil
			}
		}
		errs = append(errs, &DNSResolutionError{
			Domain: name, Server: server,
			Err: &net.DNSError{Err: "no A records", Name: name, Server: server},
		})
	}

	return "", &AllDNSFailedError{Domain: name, Errors: errs}
}

// daysUntil returns whole days between now and t, negative when past.
func daysUntil(t, now time.Time) int {
	return int(t.Sub(now).Hours() / 24)
}
