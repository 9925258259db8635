package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recipecellar/internal/auth"
	"recipecellar/internal/recipe"
)

const (
	sessionCookie = "rc_session"
	userKey       = "user"
	requestIDKey  = "request_id"
)

// RequestID tags each request with an id, honoring one supplied upstream.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("request_id", c.GetString(requestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// RequireUser loads the session user from the cookie and aborts with 401
// when the cookie is missing, invalid or refers to an unknown user.
func (h *Handler) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(sessionCookie)
		if err != nil {
			unauthorized(c)
			return
		}

		userID, err := auth.UserIDFromToken(token, h.SessionSecret)
		if err != nil {
			unauthorized(c)
			return
		}

		user, err := h.Store.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, recipe.ErrNotFound) {
				unauthorized(c)
				return
			}
			h.internalError(c, err)
			c.Abort()
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
}

// currentUser returns the user set by RequireUser. Only valid on routes
// behind that middleware.
func currentUser(c *gin.Context) *recipe.User {
	v, _ := c.Get(userKey)
	user, _ := v.(*recipe.User)
	return user
}
