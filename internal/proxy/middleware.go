package proxy

import (
	"crypto/subtle"
	"strings"
	"time"

	app_errors "doubao-api/internal/errors"
	"doubao-api/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// requestID tags every request with an id, reusing X-Request-ID when the caller sends one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestLogger logs one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(requestIDKey),
		}
		if c.Writer.Status() >= 500 {
			logrus.WithFields(fields).Warn("Request completed")
		} else {
			logrus.WithFields(fields).Debug("Request completed")
		}
	}
}

// credentialFrom reads the API key from the Authorization bearer token, the
// api_key query parameter or the X-API-Key header, in that order.
func credentialFrom(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if key := c.Query("api_key"); key != "" {
		return key
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}

// validateCredential compares the presented key with the configured one in constant time.
func validateCredential(provided, expected string) error {
	if provided == "" || expected == "" {
		return app_errors.ErrAuth
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return app_errors.ErrAuth
	}
	return nil
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := credentialFrom(c)
		if err := validateCredential(provided, s.config.APIKey); err != nil {
			s.logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"key":  utils.MaskAPIKey(provided),
			}).Warn("Rejected request with invalid API key")
			s.writeError(c, err)
			return
		}
		c.Next()
	}
}
