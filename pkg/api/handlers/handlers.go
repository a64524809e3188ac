// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"

	"github.com/sagaflow/sagaflow/pkg/api/middleware"
)

// getRequestID extracts the request ID from context.
func getRequestID(ctx context.Context) string {
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		return reqID
	}
	return "unknown"
}
