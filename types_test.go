package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected ObjectLocation
		wantErr  bool
	}{
		{
			name:     "single record",
			body:     notificationBody("raw-data", "imdb%2Ftitle.basics.tsv"),
			expected: ObjectLocation{Bucket: "raw-data", Key: "imdb%2Ftitle.basics.tsv"},
		},
		{
			name: "first of several records",
			body: `{"Records":[` +
				`{"s3":{"bucket":{"name":"one"},"object":{"key":"a.tsv"}}},` +
				`{"s3":{"bucket":{"name":"two"},"object":{"key":"b.tsv"}}}]}`,
			expected: ObjectLocation{Bucket: "one", Key: "a.tsv"},
		},
		{name: "not json", body: "hello", wantErr: true},
		{name: "no records", body: `{"Records":[]}`, wantErr: true},
		{name: "test event", body: `{"Service":"Amazon S3","Event":"s3:TestEvent"}`, wantErr: true},
		{name: "missing key", body: `{"Records":[{"s3":{"bucket":{"name":"one"},"object":{}}}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := parseNotification([]byte(tt.body))

			if tt.wantErr {
				var parseErr *ParseError
				require.ErrorAs(t, err, &parseErr)
				assert.Equal(t, "notification", parseErr.Stage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, loc)
		})
	}
}

func TestObjectLocationDecodedKey(t *testing.T) {
	key, err := ObjectLocation{Bucket: "b", Key: "a%2Fb+c.tsv"}.DecodedKey()
	require.NoError(t, err)
	assert.Equal(t, "a/b c.tsv", key)

	_, err = ObjectLocation{Bucket: "b", Key: "100%.tsv"}.DecodedKey()
	assert.Error(t, err)
}

func TestErrorKind(t *testing.T) {
	loc := ObjectLocation{Bucket: "b", Key: "k"}

	assert.Equal(t, "none", errorKind(nil))
	assert.Equal(t, "fetch", errorKind(&FetchError{Location: loc, Err: ErrObjectNotFound}))
	assert.Equal(t, "parse", errorKind(fmt.Errorf("attempt: %w", &ParseError{Stage: "dataset", Line: 3, Err: errors.New("bad")})))
	assert.Equal(t, "sink", errorKind(&SinkError{Sink: "warehouse", Err: errors.New("bad")}))
	assert.Equal(t, "queue", errorKind(&QueueInfraError{Op: "receive", Err: errors.New("bad")}))
	assert.Equal(t, "unknown", errorKind(errors.New("panic: boom")))
}

func TestResultOK(t *testing.T) {
	assert.True(t, Result{Written: 3}.OK())
	assert.False(t, Result{Err: errors.New("failed")}.OK())
}
