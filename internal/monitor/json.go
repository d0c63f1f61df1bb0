package monitor

import (
	"encoding/json"
	"io"

	"github.com/ojulabs/oju/internal/store"
)

// CheckOutput is the JSON envelope for `oju check --output json`. It wraps
// the run summary and the alerts left active with exit-code metadata so
// scripts do not re-derive severity.
type CheckOutput struct {
	Report   *RunReport        `json:"report"`
	Alerts   []store.AlertView `json:"alerts"`
	ExitCode int               `json:"exitCode"`
}

// WriteJSON serializes a CheckOutput envelope to w.
func WriteJSON(w io.Writer, out CheckOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
