package nutrient

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Header returns the canonical dataset header written by WriteCSV.
func Header() []string {
	h := make([]string, 0, FeatureCount+4)
	h = append(h, colName)
	h = append(h, FeatureNames[:]...)
	return append(h, colCarcinogenic, colPreservative, colBaseline)
}

// WriteCSV writes records in the canonical column order, readable by Load.
// Records without a baseline get an empty health_score cell.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, 0, FeatureCount+4)
	for _, r := range records {
		row = row[:0]
		row = append(row, r.Name)
		for _, v := range r.Features {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		row = append(row, strconv.FormatBool(r.Carcinogenic), strconv.FormatBool(r.HarmfulPreservative))
		if r.HasBaseline {
			row = append(row, strconv.FormatFloat(r.BaselineScore, 'g', -1, 64))
		} else {
			row = append(row, "")
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write %q: %w", r.Name, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
