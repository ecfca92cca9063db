// Package report renders operator exports.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/camfinder/camfinder/internal/entitlement"
)

// Sheet names in the device workbook.
const (
	DevicesSheet = "Devices"
	ClaimsSheet  = "Claims"
)

var (
	deviceHeader = []interface{}{
		"Device ID", "Active", "Expires At", "Free Remaining", "Locked",
		"Developer Mode", "Pending Claims", "Created At", "Last Seen At",
	}
	claimHeader = []interface{}{
		"Device ID", "Seq", "Kind", "TX", "Comment", "Plan", "Days", "Price",
		"Submitted At", "Admission", "Decided At",
	}
)

// WriteDevices writes an XLSX workbook with the device table, with status
// derived at now, and every claim.
func WriteDevices(w io.Writer, devices []*entitlement.Device, now time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), DevicesSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(ClaimsSheet); err != nil {
		return fmt.Errorf("creating claims sheet: %w", err)
	}

	if err := setRow(f, DevicesSheet, 1, deviceHeader); err != nil {
		return err
	}
	if err := setRow(f, ClaimsSheet, 1, claimHeader); err != nil {
		return err
	}

	claimRow := 2
	for i, d := range devices {
		st := entitlement.DeriveStatus(d, now)
		row := []interface{}{
			d.ID,
			st.Active,
			formatTime(st.ExpiresAt),
			st.FreeRemaining,
			st.Locked,
			st.DeveloperMode,
			len(d.Claims.Filter(entitlement.AdmissionPending)),
			d.CreatedAt.Format(time.RFC3339),
			d.LastSeenAt.Format(time.RFC3339),
		}
		if err := setRow(f, DevicesSheet, i+2, row); err != nil {
			return err
		}

		for _, c := range d.Claims {
			price := ""
			if c.Price != nil {
				price = c.Price.String()
			}
			row := []interface{}{
				d.ID, c.Seq, string(c.Kind), c.TX, c.Comment, c.Plan, c.DurationDays, price,
				c.SubmittedAt.Format(time.RFC3339), string(c.Admission), formatTime(c.DecidedAt),
			}
			if err := setRow(f, ClaimsSheet, claimRow, row); err != nil {
				return err
			}
			claimRow++
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
