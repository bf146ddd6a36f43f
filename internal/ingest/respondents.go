package ingest

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danielbchen/raker/internal/rake"
)

// CSVOptions controls how a respondent CSV is interpreted.
type CSVOptions struct {
	// IDColumn names the unique-identifier column. Defaults to "id".
	IDColumn string
	// Variables restricts which columns become raking variables. Empty
	// means every column except the id column.
	Variables []string
}

// ReadRespondentsCSV reads a header-first CSV of respondent classifications.
// Cells are category labels; blank cells are rejected because a respondent
// without a classification cannot be raked.
func ReadRespondentsCSV(r io.Reader, opts CSVOptions) ([]rake.Respondent, error) {
	idCol := opts.IDColumn
	if idCol == "" {
		idCol = "id"
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	want := make(map[string]bool, len(opts.Variables))
	for _, v := range opts.Variables {
		want[v] = true
	}

	idIdx := -1
	varCols := make(map[int]string) // column index -> variable name
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == idCol {
			idIdx = i
			continue
		}
		if len(want) > 0 && !want[name] {
			continue
		}
		varCols[i] = name
	}
	if idIdx == -1 {
		return nil, fmt.Errorf("csv has no %q column", idCol)
	}
	for v := range want {
		found := false
		for _, name := range varCols {
			if name == v {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("csv has no %q column", v)
		}
	}
	if len(varCols) == 0 {
		return nil, fmt.Errorf("csv has no variable columns")
	}

	var out []rake.Respondent
	seen := make(map[string]int) // id -> row first seen on
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		id := strings.TrimSpace(rec[idIdx])
		if id == "" {
			return nil, fmt.Errorf("row %d: empty %s", row, idCol)
		}
		if first, dup := seen[id]; dup {
			return nil, fmt.Errorf("row %d: duplicate id %q (first seen on row %d)", row, id, first)
		}
		seen[id] = row

		cats := make(map[string]string, len(varCols))
		for i, name := range varCols {
			val := strings.TrimSpace(rec[i])
			if val == "" {
				return nil, fmt.Errorf("row %d: empty %s for id %q", row, name, id)
			}
			cats[name] = val
		}
		out = append(out, rake.Respondent{ID: id, Categories: cats})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("csv has no respondent rows")
	}
	return out, nil
}

// OpenRespondentsFile opens a respondent CSV for reading, transparently
// decompressing files with a .gz suffix.
func OpenRespondentsFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	return &gzipFile{gz: gz, f: f}, nil
}

// gzipFile closes both the gzip stream and the file under it.
type gzipFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipFile) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipFile) Close() error {
	gerr := g.gz.Close()
	ferr := g.f.Close()
	if gerr != nil {
		return gerr
	}
	return ferr
}
