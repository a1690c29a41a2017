package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func getObjectFor(bucket, key string) any {
	return mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Bucket) == bucket && aws.ToString(in.Key) == key
	})
}

func TestS3StoreGet(t *testing.T) {
	client := new(MockS3Client)
	client.On("GetObject", mock.Anything, getObjectFor("raw", "a/b.tsv")).Return(&s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader("data")),
		ContentLength: aws.Int64(4),
	}, nil).Once()

	store := &S3Store{client: client}

	body, size, err := store.Get(context.Background(), "raw", "a/b.tsv")
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, int64(4), size)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestS3StoreGetUnknownLength(t *testing.T) {
	client := new(MockS3Client)
	client.On("GetObject", mock.Anything, mock.Anything).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader("data")),
	}, nil).Once()

	store := &S3Store{client: client}

	_, size, err := store.Get(context.Background(), "raw", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), size)
}

func TestS3StoreGetErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{name: "missing key", err: &types.NoSuchKey{Message: aws.String("gone")}, notFound: true},
		{name: "other failure", err: errors.New("access denied")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockS3Client)
			client.On("GetObject", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			store := &S3Store{client: client}

			_, _, err := store.Get(context.Background(), "raw", "k")
			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrObjectNotFound))
		})
	}
}
