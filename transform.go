package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	nullToken   = `\N`
	titleFields = 9
)

// expected column order of the title dataset
var titleColumns = []string{
	"id", "kind", "primaryTitle", "originalTitle", "isAdult",
	"startYear", "endYear", "runtimeMinutes", "genres",
}

type TransformOptions struct {
	// EscapeText neutralizes quote, percent and backslash in the free-text
	// columns. Only needed when values are inlined into SQL text.
	EscapeText bool
}

// TransformFunc turns a fetched dataset into records.
type TransformFunc func(r io.Reader) ([]Record, error)

func NewTitleTransform(opts TransformOptions) TransformFunc {
	return func(r io.Reader) ([]Record, error) {
		return TransformTitles(r, opts)
	}
}

// TransformTitles parses tab separated title rows. The first line is a
// header. Blank lines are skipped.
func TransformTitles(r io.Reader, opts TransformOptions) ([]Record, error) {
	// a BOM selects the encoding, anything else is read as raw bytes
	decoded := transform.NewReader(r, unicode.BOMOverride(transform.Nop))

	scanner := bufio.NewScanner(decoded)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		records []Record
		line    int
	)
	for scanner.Scan() {
		line++
		text := strings.TrimSuffix(scanner.Text(), "\r")
		if !utf8.ValidString(text) {
			return nil, &ParseError{Stage: "dataset", Line: line, Err: fmt.Errorf("invalid utf-8")}
		}
		if line == 1 || text == "" {
			continue
		}

		fields := strings.Split(text, "\t")
		if len(fields) != titleFields {
			return nil, &ParseError{
				Stage: "dataset",
				Line:  line,
				Err:   fmt.Errorf("expected %d columns, got %d", titleFields, len(fields)),
			}
		}

		rec, err := parseTitleRow(fields, opts)
		if err != nil {
			return nil, &ParseError{Stage: "dataset", Line: line, Err: err}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Stage: "dataset", Line: line + 1, Err: err}
	}

	return records, nil
}

func parseTitleRow(fields []string, opts TransformOptions) (Record, error) {
	var (
		rec Record
		err error
	)

	if v := nullable(fields[0]); v != nil {
		rec.ID = *v
	}
	rec.Kind = textField(fields[1], opts)
	rec.PrimaryName = textField(fields[2], opts)
	rec.AltName = textField(fields[3], opts)

	if rec.IsAdult, err = boolField(fields[4]); err != nil {
		return rec, fmt.Errorf("%s: %w", titleColumns[4], err)
	}
	if rec.StartYear, err = intField(fields[5]); err != nil {
		return rec, fmt.Errorf("%s: %w", titleColumns[5], err)
	}
	if rec.EndYear, err = intField(fields[6]); err != nil {
		return rec, fmt.Errorf("%s: %w", titleColumns[6], err)
	}
	if rec.RuntimeMinutes, err = intField(fields[7]); err != nil {
		return rec, fmt.Errorf("%s: %w", titleColumns[7], err)
	}
	if v := nullable(fields[8]); v != nil {
		rec.Genres = strings.Split(*v, ",")
	}

	return rec, nil
}

// nullable maps the null token and empty cells to nil.
func nullable(cell string) *string {
	if cell == "" || cell == nullToken {
		return nil
	}
	return &cell
}

func textField(cell string, opts TransformOptions) *string {
	v := nullable(cell)
	if v == nil || !opts.EscapeText {
		return v
	}
	s := EscapeText(*v)
	return &s
}

func boolField(cell string) (*bool, error) {
	v := nullable(cell)
	if v == nil {
		return nil, nil
	}
	b, err := strconv.ParseBool(*v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// intField parses a 32-bit integer, the width of the warehouse and parquet
// columns.
func intField(cell string) (*int, error) {
	v := nullable(cell)
	if v == nil {
		return nil, nil
	}
	n64, err := strconv.ParseInt(*v, 10, 32)
	if err != nil {
		return nil, err
	}
	n := int(n64)
	return &n, nil
}

var textEscaper = strings.NewReplacer(`'`, `''`, `%`, `%%`, `\`, ``)

// EscapeText doubles single quotes and percent signs and drops backslashes.
// Applying it twice escapes twice.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}
