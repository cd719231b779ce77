// Package storage archives extraction results in an S3-compatible object store.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ResultPrefix is the key prefix for archived extraction results.
const ResultPrefix = "results/"

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known, or -1.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage uploads objects under a key.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
}

// ResultKey returns the object key for the result of requestID.
func ResultKey(requestID string) string {
	return ResultPrefix + requestID + ".json"
}

// PutResult encodes v as JSON and stores it under ResultKey(requestID).
func PutResult(ctx context.Context, s Storage, requestID string, v any) (ObjectInfo, error) {
	if requestID == "" {
		return ObjectInfo{}, fmt.Errorf("request id is required")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("encode result: %w", err)
	}
	return s.Put(ctx, ResultKey(requestID), bytes.NewReader(b), PutObjectOptions{
		Size:        int64(len(b)),
		ContentType: "application/json",
		Metadata:    map[string]string{"request-id": requestID},
	})
}
