package respond

import (
	"github.com/gin-gonic/gin"

	"github.com/Nadosaurusrex/devin-proj/internal/shared/telemetry"
)

// ErrorResponse is the standardized error body returned by every endpoint.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
	StatusCode  int      `json:"statusCode"`
}

// Error sends a standardized error response and logs it.
func Error(c *gin.Context, status int, code, message string, suggestions []string) {
	telemetry.Error("http.error", map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	})

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:       code,
		Message:     message,
		Suggestions: suggestions,
		StatusCode:  status,
	})
}
