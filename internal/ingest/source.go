package ingest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"
)

// RowReader yields source rows one at a time. Blank rows are skipped.
type RowReader interface {
	Next() bool
	Row() RawRow
	// Line is where the current row sits in the source: the line or sheet
	// row number for CSV and XLSX (the header is 1), the 1-based element
	// index for a JSON array.
	Line() int
	Err() error
	Close() error
}

// SupportedExtensions lists the upload formats OpenSource understands.
var SupportedExtensions = []string{".csv", ".xlsx", ".json"}

func IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// OpenSource picks a reader by file extension. Every failure is a *SourceLoadError.
func OpenSource(path string) (RowReader, error) {
	var (
		r   RowReader
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		r, err = openCSV(path)
	case ".xlsx":
		r, err = openXLSX(path)
	case ".json":
		r, err = openJSON(path)
	case ".xls":
		err = errors.New("legacy .xls workbooks are not supported, save the file as .xlsx")
	default:
		err = errors.Errorf("unsupported file type %q", ext)
	}
	if err != nil {
		return nil, &SourceLoadError{Path: filepath.Base(path), Err: err}
	}
	return r, nil
}

// recordFunc returns the next record and the line it started on.
type recordFunc func() (record []string, line int, err error)

// tableReader adapts header + record readers (CSV, XLSX) to RowReader.
type tableReader struct {
	header []string
	next   recordFunc
	close  func() error
	row    RawRow
	line   int
	err    error
}

func newTableReader(next recordFunc, close func() error) (*tableReader, error) {
	header, _, err := next()
	if err == io.EOF {
		return nil, errors.New("file has no header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		header[i] = strings.TrimSpace(h)
	}
	return &tableReader{header: header, next: next, close: close}, nil
}

func (t *tableReader) Next() bool {
	for t.err == nil {
		record, line, err := t.next()
		if err == io.EOF {
			return false
		}
		if err != nil {
			t.err = err
			return false
		}
		row := make(RawRow, len(t.header))
		for i, h := range t.header {
			if h == "" || i >= len(record) {
				continue
			}
			if _, dup := row[h]; dup {
				continue
			}
			row[h] = record[i]
		}
		if !blankRow(row) {
			t.row = row
			t.line = line
			return true
		}
	}
	return false
}

func (t *tableReader) Row() RawRow  { return t.row }
func (t *tableReader) Line() int    { return t.line }
func (t *tableReader) Err() error   { return t.err }
func (t *tableReader) Close() error { return t.close() }

func blankRow(row RawRow) bool {
	for _, v := range row {
		if !isBlank(v) {
			return false
		}
	}
	return true
}

func openCSV(path string) (RowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(bufio.NewReader(f))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	next := func() ([]string, int, error) {
		record, err := cr.Read()
		if err != nil {
			return nil, 0, err
		}
		line, _ := cr.FieldPos(0)
		return record, line, nil
	}

	r, err := newTableReader(next, f.Close)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// openXLSX streams the first worksheet. Cells are read raw so that dates
// arrive as serial numbers rather than whatever number format the sheet
// applies to them.
func openXLSX(path string) (RowReader, error) {
	opts := excelize.Options{RawCellValue: true}
	f, err := excelize.OpenFile(path, opts)
	if err != nil {
		return nil, err
	}
	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "open sheet %q", sheet)
	}

	// Rows.Next visits every sheet row, gaps included, so counting calls
	// gives the row number.
	rowNum := 0
	next := func() ([]string, int, error) {
		if !rows.Next() {
			if err := rows.Error(); err != nil {
				return nil, 0, err
			}
			return nil, 0, io.EOF
		}
		rowNum++
		cols, err := rows.Columns(opts)
		return cols, rowNum, err
	}
	closeAll := func() error {
		rowsErr := rows.Close()
		if err := f.Close(); err != nil {
			return err
		}
		return rowsErr
	}

	r, err := newTableReader(next, closeAll)
	if err != nil {
		closeAll()
		return nil, err
	}
	return r, nil
}

// jsonReader streams an array of objects. A single top-level object is
// treated as a one-row file.
type jsonReader struct {
	file   *os.File
	dec    *json.Decoder
	single bool
	done   bool
	index  int
	row    RawRow
	err    error
}

func openJSON(path string) (RowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	first, err := firstNonSpace(br)
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, errors.New("file is empty")
		}
		return nil, err
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()
	r := &jsonReader{file: f, dec: dec}
	switch first {
	case '[':
		if _, err := dec.Token(); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "read array start")
		}
	case '{':
		r.single = true
	default:
		f.Close()
		return nil, errors.Errorf("expected a JSON array or object, found %q", first)
	}
	return r, nil
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == ' ' || b == '\n' || b == '\r' || b == '\t' {
			continue
		}
		// Skip a UTF-8 byte order mark.
		if b == 0xEF {
			if _, err := br.Discard(2); err != nil {
				return 0, err
			}
			continue
		}
		return b, br.UnreadByte()
	}
}

func (j *jsonReader) Next() bool {
	for !j.done && j.err == nil {
		if j.single {
			j.done = true
		} else if !j.dec.More() {
			j.done = true
			return false
		}

		var raw any
		if err := j.dec.Decode(&raw); err != nil {
			j.err = errors.Wrap(err, "decode row")
			return false
		}
		j.index++
		obj, ok := raw.(map[string]any)
		if !ok {
			j.err = errors.Errorf("expected an object per row, got %T", raw)
			return false
		}
		row := RawRow(obj)
		if !blankRow(row) {
			j.row = row
			return true
		}
	}
	return false
}

func (j *jsonReader) Row() RawRow  { return j.row }
func (j *jsonReader) Line() int    { return j.index }
func (j *jsonReader) Err() error   { return j.err }
func (j *jsonReader) Close() error { return j.file.Close() }
