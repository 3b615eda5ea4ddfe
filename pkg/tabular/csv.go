package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const sniffSize = 64 * 1024

// candidateDelimiters in preference order when counts tie.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

type csvSource struct {
	file *os.File
	r    *csv.Reader
	line int
}

func openCSV(path string) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	raw := bufio.NewReaderSize(f, sniffSize)
	head, _ := raw.Peek(sniffSize)

	decoded := bufio.NewReader(transform.NewReader(raw, unicode.BOMOverride(fallbackDecoder(head))))
	firstLine, _ := decoded.Peek(sniffSize)
	if i := bytes.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}

	r := csv.NewReader(decoded)
	r.Comma = sniffDelimiter(firstLine)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	return &csvSource{file: f, r: r}, nil
}

func (s *csvSource) Read() ([]string, error) {
	record, err := s.r.Read()
	if err != nil {
		return nil, err
	}
	// csv.Reader drops empty lines; FieldPos still reports the true line.
	s.line, _ = s.r.FieldPos(0)
	return record, nil
}

// Line is where the last record starts. Quoted fields may span lines.
func (s *csvSource) Line() int {
	return s.line
}

func (s *csvSource) Close() error {
	return s.file.Close()
}

// fallbackDecoder picks the decoder used when the file has no byte-order mark.
// Anything that is not valid UTF-8 is read as Windows-1252.
func fallbackDecoder(head []byte) *encoding.Decoder {
	if validUTF8Prefix(head) {
		return encoding.Nop.NewDecoder()
	}
	return charmap.Windows1252.NewDecoder()
}

// validUTF8Prefix is utf8.Valid that tolerates a rune cut off by the sniff window.
func validUTF8Prefix(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			return !utf8.FullRune(b) && len(b) < utf8.UTFMax
		}
		b = b[size:]
	}
	return true
}

// sniffDelimiter counts each candidate outside quotes on the header line.
func sniffDelimiter(line []byte) rune {
	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, r := range string(line) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}
