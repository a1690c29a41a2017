package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// parquet row layout, genres is kept as JSON text so an absent list stays
// distinguishable from an empty one
type parquetTitle struct {
	TitleID        string  `parquet:"name=title_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TitleType      *string `parquet:"name=title_type, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PrimaryTitle   *string `parquet:"name=primary_title, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	OriginalTitle  *string `parquet:"name=original_title, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	IsAdult        *bool   `parquet:"name=is_adult, type=BOOLEAN, repetitiontype=OPTIONAL"`
	StartYear      *int32  `parquet:"name=start_year, type=INT32, repetitiontype=OPTIONAL"`
	EndYear        *int32  `parquet:"name=end_year, type=INT32, repetitiontype=OPTIONAL"`
	RuntimeMinutes *int32  `parquet:"name=runtime_minutes, type=INT32, repetitiontype=OPTIONAL"`
	Genres         *string `parquet:"name=genres, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

type ParquetConfig struct {
	Bucket     string
	Prefix     string
	ScratchDir string
}

// ParquetSink writes the whole batch as one Parquet object under a fresh
// random name. A retried message therefore leaves one object per attempt.
type ParquetSink struct {
	store  ObjectStore
	config ParquetConfig
}

func NewParquetSink(store ObjectStore, config ParquetConfig) *ParquetSink {
	return &ParquetSink{store: store, config: config}
}

func (p *ParquetSink) Name() string {
	return "parquet"
}

func (p *ParquetSink) Write(ctx context.Context, records []Record) error {
	startTime := time.Now()

	dir, err := os.MkdirTemp(p.config.ScratchDir, "parquet-*")
	if err != nil {
		return &SinkError{Sink: p.Name(), Err: fmt.Errorf("scratch dir: %w", err)}
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("data_%s.parquet", xid.New().String())
	localPath := filepath.Join(dir, name)

	if err := writeParquetFile(localPath, records); err != nil {
		return &SinkError{Sink: p.Name(), Err: err}
	}

	file, err := os.Open(localPath)
	if err != nil {
		return &SinkError{Sink: p.Name(), Err: fmt.Errorf("open parquet file: %w", err)}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return &SinkError{Sink: p.Name(), Err: fmt.Errorf("stat parquet file: %w", err)}
	}

	key := p.config.Prefix + name
	if err := p.store.Put(ctx, p.config.Bucket, key, file, info.Size()); err != nil {
		return &SinkError{Sink: p.Name(), Err: err}
	}

	log.Info().
		Str("sink", p.Name()).
		Str("bucket", p.config.Bucket).
		Str("key", key).
		Int("rows", len(records)).
		Int64("bytes", info.Size()).
		Dur("duration", time.Since(startTime)).
		Msg("Uploaded parquet file")

	return nil
}

func writeParquetFile(path string, records []Record) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create local file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(parquetTitle), 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, rec := range records {
		row, err := toParquetTitle(rec)
		if err != nil {
			fw.Close()
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := pw.Write(row); err != nil {
			fw.Close()
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("finalize parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet file: %w", err)
	}
	return nil
}

func toParquetTitle(rec Record) (parquetTitle, error) {
	row := parquetTitle{
		TitleID:        rec.ID,
		TitleType:      rec.Kind,
		PrimaryTitle:   rec.PrimaryName,
		OriginalTitle:  rec.AltName,
		IsAdult:        rec.IsAdult,
		StartYear:      toInt32(rec.StartYear),
		EndYear:        toInt32(rec.EndYear),
		RuntimeMinutes: toInt32(rec.RuntimeMinutes),
	}

	genres, err := genresJSON(rec.Genres)
	if err != nil {
		return row, err
	}
	if s, ok := genres.(string); ok {
		row.Genres = &s
	}
	return row, nil
}

func toInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}
