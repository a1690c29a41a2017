package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultChunkSize  = 1000
	defaultTable      = "movies_shows"
	defaultGenresFunc = "JSON_PARSE"
	// bind parameter limit of the postgres wire protocol
	maxBindParams = 65535

	SQLModeParams  = "params"
	SQLModeLiteral = "literal"
)

var warehouseColumns = []string{
	"title_id", "title_type", "primary_title", "original_title", "is_adult",
	"start_year", "end_year", "runtime_minutes", "genres",
}

type WarehouseConfig struct {
	Table     string
	ChunkSize int
	// SQL function wrapping the genres JSON text, empty binds it as is
	GenresFunc string
	// SQLMode is "params" (bind parameters) or "literal" (values inlined,
	// text must already be escaped)
	SQLMode string
}

// WarehouseSink inserts records with one multi-row INSERT per chunk. The
// table is expected to exist.
type WarehouseSink struct {
	db     DBTX
	config WarehouseConfig
}

func NewWarehouseSink(db DBTX, config WarehouseConfig) *WarehouseSink {
	if config.Table == "" {
		config.Table = defaultTable
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}
	if config.SQLMode == "" {
		config.SQLMode = SQLModeParams
	}
	if limit := maxBindParams / len(warehouseColumns); config.SQLMode == SQLModeParams && config.ChunkSize > limit {
		log.Warn().
			Int("chunk_size", config.ChunkSize).
			Int("max_chunk_size", limit).
			Msg("Chunk size exceeds the bind parameter limit, clamping")
		config.ChunkSize = limit
	}
	return &WarehouseSink{db: db, config: config}
}

func (w *WarehouseSink) Name() string {
	return "warehouse"
}

func (w *WarehouseSink) Write(ctx context.Context, records []Record) error {
	chunks := chunkRecords(records, w.config.ChunkSize)
	wl := log.With().Str("sink", w.Name()).Str("table", w.config.Table).Logger()

	wl.Info().
		Int("chunk_size", w.config.ChunkSize).
		Int("rows", len(records)).
		Int("chunks", len(chunks)).
		Msg("Writing batch")

	for i, chunk := range chunks {
		startTime := time.Now()

		var (
			stmt string
			args []any
			err  error
		)
		if w.config.SQLMode == SQLModeLiteral {
			stmt, err = w.literalInsert(chunk)
		} else {
			stmt, args, err = w.paramInsert(chunk)
		}
		if err != nil {
			return &SinkError{Sink: w.Name(), Chunk: i, Err: err}
		}

		if _, err := w.db.ExecContext(ctx, stmt, args...); err != nil {
			return &SinkError{Sink: w.Name(), Chunk: i, Err: err}
		}

		wl.Debug().
			Int("chunk", i).
			Int("rows", len(chunk)).
			Dur("duration", time.Since(startTime)).
			Msg("Chunk written")
	}
	return nil
}

func (w *WarehouseSink) insertPrefix() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES ", w.config.Table, strings.Join(warehouseColumns, ", "))
}

func (w *WarehouseSink) wrapGenres(expr string) string {
	if w.config.GenresFunc == "" {
		return expr
	}
	return w.config.GenresFunc + "(" + expr + ")"
}

// paramInsert builds a bound multi-row INSERT using $n placeholders.
func (w *WarehouseSink) paramInsert(chunk []Record) (string, []any, error) {
	var b strings.Builder
	b.WriteString(w.insertPrefix())

	args := make([]any, 0, len(chunk)*len(warehouseColumns))
	for i, rec := range chunk {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * len(warehouseColumns)
		b.WriteString("(")
		for j := range warehouseColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			placeholder := "$" + strconv.Itoa(base+j+1)
			if j == len(warehouseColumns)-1 {
				placeholder = w.wrapGenres(placeholder)
			}
			b.WriteString(placeholder)
		}
		b.WriteString(")")

		genres, err := genresJSON(rec.Genres)
		if err != nil {
			return "", nil, err
		}
		args = append(args,
			rec.ID,
			nullString(rec.Kind),
			nullString(rec.PrimaryName),
			nullString(rec.AltName),
			nullBool(rec.IsAdult),
			nullInt(rec.StartYear),
			nullInt(rec.EndYear),
			nullInt(rec.RuntimeMinutes),
			genres,
		)
	}
	return b.String(), args, nil
}

// literalInsert renders values inline. Text columns are trusted to be
// escaped by the transform already.
func (w *WarehouseSink) literalInsert(chunk []Record) (string, error) {
	var b strings.Builder
	b.WriteString(w.insertPrefix())

	for i, rec := range chunk {
		if i > 0 {
			b.WriteString(", ")
		}

		genres := "null"
		if rec.Genres != nil {
			raw, err := json.Marshal(rec.Genres)
			if err != nil {
				return "", err
			}
			genres = w.wrapGenres(quoteLiteral(strings.ReplaceAll(string(raw), "'", "''")))
		}

		fmt.Fprintf(&b, "(%s, %s, %s, %s, %s, %s, %s, %s, %s)",
			quoteLiteral(strings.ReplaceAll(rec.ID, "'", "''")),
			literalText(rec.Kind),
			literalText(rec.PrimaryName),
			literalText(rec.AltName),
			literalBool(rec.IsAdult),
			literalInt(rec.StartYear),
			literalInt(rec.EndYear),
			literalInt(rec.RuntimeMinutes),
			genres,
		)
	}
	return b.String(), nil
}

func genresJSON(genres []string) (any, error) {
	if genres == nil {
		return nil, nil
	}
	raw, err := json.Marshal(genres)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func quoteLiteral(s string) string {
	return "'" + s + "'"
}

func literalText(v *string) string {
	if v == nil {
		return "null"
	}
	return quoteLiteral(*v)
}

func literalBool(v *bool) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatBool(*v)
}

func literalInt(v *int) string {
	if v == nil {
		return "null"
	}
	return strconv.Itoa(*v)
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
