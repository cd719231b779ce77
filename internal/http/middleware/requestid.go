package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"illustrationapi/internal/reqid"
)

const (
	// RequestIDHeader is the header used to propagate request IDs.
	RequestIDHeader = "X-Request-ID"
	// RequestIDLocalKey is the Fiber locals key holding the request ID.
	RequestIDLocalKey = "request_id"
)

// RequestID ensures every request has an ID.
//
// Behavior:
//   - Reads X-Request-ID from the incoming request, generating a UUID when missing.
//   - Stores it in Fiber locals under RequestIDLocalKey and in the user context
//     so the pipeline and outbound clients can log it.
//   - Echoes it in the X-Request-ID response header.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(RequestIDLocalKey, id)
		c.SetUserContext(reqid.With(c.UserContext(), id))
		c.Set(RequestIDHeader, id)

		return c.Next()
	}
}
