package main

import "context"

// Sink writes one cleaned batch to the analytical destination. A returned
// error means the attempt failed as a whole, even if some chunks landed.
type Sink interface {
	Write(ctx context.Context, records []Record) error
	Name() string
}

// chunkRecords splits records into consecutive slices of at most size.
func chunkRecords(records []Record, size int) [][]Record {
	if size <= 0 {
		size = len(records)
	}
	var chunks [][]Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}
