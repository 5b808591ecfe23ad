// Package export writes schedule export tuples for visualization
// collaborators: CSV, JSON, and a Redis publisher.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/signalsfoundry/jobshop-planner/model"
)

// CSVHeader is the first line written by WriteCSV.
var CSVHeader = []string{"job_id", "operation_index", "machine_id", "start", "end"}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []model.ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.JobID,
			strconv.Itoa(r.OperationIndex),
			r.MachineID,
			strconv.Itoa(r.Start),
			strconv.Itoa(r.End),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %s[%d]: %w", r.JobID, r.OperationIndex, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes rows as an indented JSON array. A nil slice is written
// as [].
func WriteJSON(w io.Writer, rows []model.ExportRow) error {
	if rows == nil {
		rows = []model.ExportRow{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}
