package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// WriteWeightsCSV writes case ids and their final weights as a two-column
// CSV with a case_id,weight header.
func WriteWeightsCSV(w io.Writer, ids []string, weights []float64) error {
	if len(ids) != len(weights) {
		return fmt.Errorf("ids and weights length mismatch: %d vs %d", len(ids), len(weights))
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"case_id", "weight"}); err != nil {
		return err
	}
	for i, id := range ids {
		if err := cw.Write([]string{id, strconv.FormatFloat(weights[i], 'f', -1, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
