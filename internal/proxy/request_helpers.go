package proxy

import (
	"net/http"

	app_errors "doubao-api/internal/errors"
	"doubao-api/internal/transformer/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const imageSessionPrefix = "img:"

// logUpstreamError provides a centralized way to log errors from upstream interactions.
func logUpstreamError(context string, err error) {
	if err == nil {
		return
	}
	if app_errors.IsIgnorableError(err) {
		logrus.Debugf("Ignorable upstream error in %s: %v", context, err)
	} else {
		logrus.Errorf("Upstream error in %s: %v", context, err)
	}
}

// chatSessionKey returns the caller's user id, or a fresh one-off key.
func chatSessionKey(user string) string {
	if user != "" {
		return user
	}
	return "session-" + uuid.NewString()[:8]
}

// imageSessionKey keeps image sessions apart from chat sessions of the same user.
func imageSessionKey(user string) string {
	if user == "" {
		user = "img-session-" + uuid.NewString()[:8]
	}
	return imageSessionPrefix + user
}

func errorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	case status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return "upstream_error"
	default:
		return "server_error"
	}
}

// localizedError maps err to its API error and translates the message for the caller.
func (s *Server) localizedError(c *gin.Context, err error) (*app_errors.APIError, string) {
	apiErr := app_errors.FromError(err)
	return apiErr, s.i18n.Message(c.GetHeader("Accept-Language"), apiErr.Code, apiErr.Message)
}

// writeError writes an OpenAI style error body with the mapped status.
func (s *Server) writeError(c *gin.Context, err error) {
	apiErr, message := s.localizedError(c, err)
	resp := model.ResponseError{
		StatusCode: apiErr.HTTPStatus,
		Detail: model.ErrorDetail{
			Code:      apiErr.Code,
			Message:   message,
			Type:      errorType(apiErr.HTTPStatus),
			RequestID: c.GetString(requestIDKey),
		},
	}
	c.AbortWithStatusJSON(resp.StatusCode, resp)
}
