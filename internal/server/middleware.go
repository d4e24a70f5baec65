package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"modelo130/internal/session"
)

const (
	sessionCookie = "modelo130_session"
	sessionKey    = "session"
)

// requestLogger logs each request with method, path, status, latency and session.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("component", "http").
			Str("session_id", sessionID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// recovery turns panics into 500 responses without exposing them.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("component", "http").
					Str("session_id", sessionID(c)).
					Interface("panic", r).
					Msg("panic recovered")
				respondError(c, http.StatusInternalServerError, "Error interno del servidor", nil)
			}
		}()
		c.Next()
	}
}

// errorHandler answers errors attached with c.Error that no handler wrote.
func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last()
		log.Error().
			Str("component", "http").
			Str("session_id", sessionID(c)).
			Str("path", c.FullPath()).
			Str("method", c.Request.Method).
			Err(err.Err).
			Msg("unhandled error")

		if !c.Writer.Written() {
			respondError(c, http.StatusInternalServerError, "Error interno del servidor", nil)
		}
	}
}

// sessions attaches the caller's session, starting a new one when the
// cookie is missing or names an expired session.
func (s *Server) sessions() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(sessionCookie)
		sess, created := s.deps.Store.GetOrCreate(id)
		if created {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(sessionCookie, sess.ID, 0, "/", "", s.opts.SecureCookies, true)
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

func sessionID(c *gin.Context) string {
	if v, ok := c.Get(sessionKey); ok {
		return v.(*session.Session).ID
	}
	return ""
}
