package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	obscontext "github.com/smallbiznis/fiscalsync/internal/observability/context"
)

const (
	defaultUserHeader = "X-User-ID"
	contextUserIDKey  = "user_id"
)

var errMissingUser = errors.New("missing_user")

// UserRequired trusts the user id set by the upstream auth gateway.
func (s *Server) UserRequired() gin.HandlerFunc {
	header := strings.TrimSpace(s.cfg.UserHeader)
	if header == "" {
		header = defaultUserHeader
	}
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(header))
		if userID == "" {
			AbortWithError(c, ierr.WithError(errMissingUser).
				WithHint("authentication required").
				Mark(ierr.ErrAuthentication))
			return
		}

		c.Set(contextUserIDKey, userID)
		ctx := obscontext.WithActor(c.Request.Context(), "user", userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func userIDFrom(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}
