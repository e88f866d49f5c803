package simulation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var errEmptyTable = errors.New("table has no data rows")

// table is an engine output file: a header row followed by data rows with
// the same number of fields. Cells are kept as text and converted per
// column on demand, so columns nobody reads may hold anything.
type table struct {
	header  []string
	records [][]string
}

// readTable loads a CSV table, refusing files larger than maxBytes. A
// missing file yields an error satisfying errors.Is(err, fs.ErrNotExist).
func readTable(path string, maxBytes int64) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, basePathError(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, basePathError(err)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.New("not a regular file")
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), maxBytes)
	}

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, errEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	t := &table{header: header}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading rows: %w", err)
		}
		t.records = append(t.records, rec)
	}
	if len(t.records) == 0 {
		return nil, errEmptyTable
	}
	return t, nil
}

// basePathError strips the directory from a *fs.PathError so the message
// can reach clients. The underlying errno is preserved for errors.Is.
func basePathError(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return fmt.Errorf("%s %s: %w", pe.Op, filepath.Base(pe.Path), pe.Err)
	}
	return err
}

// columnIndex finds a column by exact header name.
func (t *table) columnIndex(name string) (int, bool) {
	for i, h := range t.header {
		if h == name {
			return i, true
		}
	}
	return 0, false
}

// floats converts column i to finite numbers.
func (t *table) floats(i int) ([]float64, error) {
	out := make([]float64, len(t.records))
	for row, rec := range t.records {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil || !finite(v) {
			return nil, fmt.Errorf("row %d column %q: %q is not a finite number", row+1, t.header[i], rec[i])
		}
		out[row] = v
	}
	return out, nil
}
