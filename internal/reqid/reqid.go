// Package reqid carries the request ID through context.Context so that
// layers below the HTTP handler can tag their logs with it.
package reqid

import "context"

type contextKey string

const key contextKey = "request_id"

// With returns a copy of ctx carrying id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, key, id)
}

// From extracts the request ID from ctx, or "" when none was set.
func From(ctx context.Context) string {
	if id, ok := ctx.Value(key).(string); ok {
		return id
	}
	return ""
}
