package monitor

import "github.com/ojulabs/oju/internal/store"

// ExitCode returns a process exit code from the alerts left active after a
// one-shot run.
//
//	0 = no active alerts
//	1 = warning-level alerts only (expiry thresholds)
//	2 = critical alerts (outage, certificate, defacement, reputation)
//	3 = the run itself failed; produced by the check command, never here
func ExitCode(alerts []store.AlertView) int {
	code := 0
	for i := range alerts {
		switch alerts[i].Kind.Severity() {
		case store.SeverityCritical:
			code = 2
		case store.SeverityWarn:
			if code < 1 {
				code = 1
			}
		}
	}
	return code
}
