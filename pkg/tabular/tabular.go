// Package tabular reads uploaded compensation exports (CSV or XLSX) as
// header-keyed rows.
//
// The first non-blank row is the header. Rows whose cells are all blank are
// skipped but still counted, so data row n is always the nth line after the
// header in the source file and line header+n in a spreadsheet view.
// Rows shorter than the header are padded with empty values and longer rows
// are truncated. When a header name repeats, the first column wins.
package tabular

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ekaya-inc/paygap-engine/pkg/apperrors"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sample is the head of a file plus the total number of data rows.
// RowNumbers[i] is the data row number of Rows[i].
type Sample struct {
	Rows       []map[string]string `json:"rows"`
	RowNumbers []int               `json:"row_numbers"`
	TotalRows  int                 `json:"total_rows"`
}

// RowFunc receives one data row. Returning an error stops iteration.
type RowFunc func(rowNumber int, record map[string]string) error

// Extractor is the file-reading boundary the import services depend on.
type Extractor interface {
	DetectFormat(path string) (models.FileFormat, error)
	ParseHeaders(path string) ([]string, error)
	ParseSampleRows(path string, n int) (*Sample, error)
	EachRow(ctx context.Context, path string, fn RowFunc) error
}

type fileExtractor struct{}

// NewExtractor returns an Extractor that reads from the local filesystem.
func NewExtractor() Extractor {
	return &fileExtractor{}
}

var _ Extractor = (*fileExtractor)(nil)

func (fileExtractor) DetectFormat(path string) (models.FileFormat, error) {
	return DetectFormat(path)
}

func (fileExtractor) ParseHeaders(path string) ([]string, error) {
	return ParseHeaders(path)
}

func (fileExtractor) ParseSampleRows(path string, n int) (*Sample, error) {
	return ParseSampleRows(path, n)
}

func (fileExtractor) EachRow(ctx context.Context, path string, fn RowFunc) error {
	return EachRow(ctx, path, fn)
}

// DetectFormat sniffs the file content. Spreadsheets are FileFormatXLSX, any
// text content is treated as delimited text.
func DetectFormat(path string) (models.FileFormat, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect format: %w", err)
	}
	if mt.Is(xlsxMIME) {
		return models.FileFormatXLSX, nil
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return models.FileFormatCSV, nil
		}
	}
	return "", fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, mt.String())
}

// ParseHeaders returns the trimmed header row.
func ParseHeaders(path string) ([]string, error) {
	r, err := open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.header, nil
}

// ParseSampleRows returns up to n data rows and the count of all non-blank
// data rows. The whole file is read once.
func ParseSampleRows(path string, n int) (*Sample, error) {
	sample := &Sample{
		Rows:       make([]map[string]string, 0, max(n, 0)),
		RowNumbers: make([]int, 0, max(n, 0)),
	}
	err := EachRow(context.Background(), path, func(rowNumber int, record map[string]string) error {
		if len(sample.Rows) < n {
			sample.Rows = append(sample.Rows, record)
			sample.RowNumbers = append(sample.RowNumbers, rowNumber)
		}
		sample.TotalRows++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sample, nil
}

// EachRow streams every non-blank data row to fn in file order.
func EachRow(ctx context.Context, path string, fn RowFunc) error {
	r, err := open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cells, err := r.nextNonBlank()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read row after %d: %w", r.rowNumber(), err)
		}
		if err := fn(r.rowNumber(), r.record(cells)); err != nil {
			return err
		}
	}
}

// rowSource yields raw cell slices; io.EOF marks the end.
type rowSource interface {
	Read() ([]string, error)
	// Line is the 1-based source line of the record last returned by Read.
	Line() int
	Close() error
}

type reader struct {
	src        rowSource
	header     []string
	index      map[string]int
	headerLine int
}

// rowNumber is the position of the last read record relative to the header.
func (r *reader) rowNumber() int {
	return r.src.Line() - r.headerLine
}

func open(path string) (*reader, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var src rowSource
	switch format {
	case models.FileFormatXLSX:
		src, err = openXLSX(path)
	default:
		src, err = openCSV(path)
	}
	if err != nil {
		return nil, err
	}

	r := &reader{src: src}
	header, err := r.nextNonBlank()
	if errors.Is(err, io.EOF) {
		src.Close()
		return nil, apperrors.ErrEmptyInput
	}
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	r.headerLine = src.Line()
	r.header = make([]string, len(header))
	r.index = make(map[string]int, len(header))
	for i, h := range header {
		h = cleanCell(h)
		r.header[i] = h
		if _, dup := r.index[h]; h != "" && !dup {
			r.index[h] = i
		}
	}
	return r, nil
}

func (r *reader) nextNonBlank() ([]string, error) {
	for {
		cells, err := r.src.Read()
		if err != nil {
			return nil, err
		}
		if !isBlank(cells) {
			return cells, nil
		}
	}
}

func (r *reader) record(cells []string) map[string]string {
	rec := make(map[string]string, len(r.index))
	for name, i := range r.index {
		if i < len(cells) {
			rec[name] = strings.TrimSpace(cells[i])
		} else {
			rec[name] = ""
		}
	}
	return rec
}

func (r *reader) Close() error {
	return r.src.Close()
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// cleanCell trims whitespace and any byte-order mark left on the first cell.
func cleanCell(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
}
