// Package vision sends page images and an instruction to a multi-modal model
// and returns the model's text reply.
package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"illustrationapi/internal/model"
)

// ErrNoImages is returned when Invoke is called without any page.
var ErrNoImages = errors.New("at least one page image is required")

// Client is the contract the extraction pipeline depends on.
type Client interface {
	// Invoke makes exactly one call to the model service and returns the
	// first text segment of the reply. It does not retry.
	Invoke(ctx context.Context, images []model.PageImage, instruction string) (string, error)
}

// ServiceError is returned for every failed exchange with the model service.
// StatusCode is 0 when no HTTP response was received.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func statusError(status int, message string) *ServiceError {
	if message == "" {
		message = fmt.Sprintf("model service returned status %d", status)
	}
	return &ServiceError{StatusCode: status, Message: message}
}

// newHTTPClient returns an http.Client whose transport emits client spans.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
