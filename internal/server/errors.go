package server

import (
	"github.com/gin-gonic/gin"

	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError(hint string) error {
	return ierr.NewError("invalid request body").
		WithHint(hint).
		Mark(ierr.ErrValidation)
}

func mapError(err error) (int, errorPayload) {
	return ierr.HTTPStatusFromErr(err), errorPayload{
		Type:    ierr.Code(err),
		Message: ierr.DisplayMessage(err),
	}
}

func classifyErrorForLog(err error) string {
	return ierr.Code(err)
}
