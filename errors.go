package main

import (
	"errors"
	"fmt"
)

// FetchError means the source object could not be read in full.
type FetchError struct {
	Location ObjectLocation
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Location, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError covers malformed notifications and malformed datasets.
type ParseError struct {
	Stage string
	Line  int
	Err   error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s line %d: %v", e.Stage, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SinkError aborts the rest of a write, Chunk is zero based.
type SinkError struct {
	Sink  string
	Chunk int
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s chunk %d: %v", e.Sink, e.Chunk, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// QueueInfraError is returned when the queue service itself cannot be
// reached. It is the only error that stops the lease loop.
type QueueInfraError struct {
	Op  string
	Err error
}

func (e *QueueInfraError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

func (e *QueueInfraError) Unwrap() error { return e.Err }

// errorKind names the failure class for logs and metrics.
func errorKind(err error) string {
	var (
		fetchErr *FetchError
		parseErr *ParseError
		sinkErr  *SinkError
		queueErr *QueueInfraError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &sinkErr):
		return "sink"
	case errors.As(err, &queueErr):
		return "queue"
	default:
		return "unknown"
	}
}
