package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contactgraph/backend/internal/graph"
	apperrors "contactgraph/backend/pkg/errors"
)

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	var (
		jobMissing  *apperrors.ErrJobNotFound
		relMissing  *apperrors.ErrRelationshipNotFound
		nodeMissing graph.ErrNodeNotFound
		running     *apperrors.ErrJobAlreadyRunning
		tier        *apperrors.ErrInvalidTier
		input       *apperrors.ErrInputValidation
		unavailable *apperrors.ErrGraphStoreUnavailable
		transient   *apperrors.ErrTransientStore
	)
	switch {
	case apperrors.As(err, &jobMissing), apperrors.As(err, &relMissing), apperrors.As(err, &nodeMissing):
		return http.StatusNotFound
	case apperrors.As(err, &running):
		return http.StatusConflict
	case apperrors.As(err, &tier), apperrors.As(err, &input):
		return http.StatusBadRequest
	case apperrors.As(err, &unavailable), apperrors.As(err, &transient):
		return http.StatusServiceUnavailable
	case apperrors.IsErrorType(err, apperrors.ErrorTypeContext):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body. Internal errors are logged and
// their detail withheld.
func (s *Server) fail(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "retryable": apperrors.IsRetryable(err)}
	if status == http.StatusInternalServerError {
		s.logger.Error(msg,
			zap.String("user_id", c.GetString(userKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["error"] = msg
	}
	c.JSON(status, body)
}
