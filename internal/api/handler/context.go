package handler

import (
	"context"

	"github.com/stampwise/stampwise/internal/api/middleware"
)

// GetSubject retrieves the authenticated program subject from the context.
// This is a convenience wrapper around middleware.GetSubject.
func GetSubject(ctx context.Context) string {
	return middleware.GetSubject(ctx)
}
