package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/ojulabs/oju/internal/store"
)

var csvHeader = []string{
	"id", "kind", "severity", "status", "platform", "entity",
	"createdAt", "updatedAt", "details",
}

// WriteCSV writes alerts as CSV rows to w.
func WriteCSV(w io.Writer, alerts []store.AlertView) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for i := range alerts {
		a := &alerts[i]
		row := []string{
			strconv.FormatInt(a.ID, 10),
			string(a.Kind),
			string(a.Kind.Severity()),
			string(a.Status),
			a.PlatformURL,
			a.EntityName,
			a.CreatedAt.UTC().Format(time.RFC3339),
			a.UpdatedAt.UTC().Format(time.RFC3339),
			a.Details,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
