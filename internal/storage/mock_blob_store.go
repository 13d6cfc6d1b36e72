package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore is a testify mock of crawler.BlobStore.
type MockBlobStore struct {
	mock.Mock
}

// PutObject records the call. The reader is drained so expectations can match on content.
func (m *MockBlobStore) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	args := m.Called(ctx, path, contentType, body)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

// GetObject is the mock implementation of GetObject.
func (m *MockBlobStore) GetObject(ctx context.Context, uri string) ([]byte, error) {
	args := m.Called(ctx, uri)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1) //nolint:wrapcheck
}
