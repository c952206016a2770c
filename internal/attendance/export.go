package attendance

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"student_number", "student_name", "status", "marked_at", "latitude", "longitude", "marked_by", "note"}

// WriteCSV writes a session's entries as CSV with a header row.
func WriteCSV(w io.Writer, entries []SessionEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		lat, lng := "", ""
		if e.Location != nil {
			lat = strconv.FormatFloat(e.Location.Lat, 'f', 6, 64)
			lng = strconv.FormatFloat(e.Location.Lng, 'f', 6, 64)
		}
		row := []string{
			e.StudentNumber,
			e.StudentName,
			string(e.Status),
			e.MarkedAt.UTC().Format(time.RFC3339),
			lat,
			lng,
			e.MarkedBy,
			e.Note,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
