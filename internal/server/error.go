package server

import (
	"context"
	"errors"
	"github.com/RyanW02/supplytrail/pkg/credential"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"net/http"
)

type HttpError struct {
	error
	ResponseCode int
}

var _ error = (*HttpError)(nil)

func NewHttpError(responseCode int, message string) *HttpError {
	return &HttpError{
		error:        errors.New(message),
		ResponseCode: responseCode,
	}
}

// mapError converts an error returned by a service into the response sent to the client. Client errors carry the
// underlying message, server errors are replaced with the fallback message.
func mapError(err error, fallback string) *HttpError {
	var code int
	switch {
	case errors.Is(err, errs.ErrValidationFailed), errors.Is(err, repository.ErrInvalidFilter),
		errors.Is(err, errs.ErrMalformedMessage), errors.Is(err, errs.ErrSignatureFormatInvalid):
		code = http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrSignatureInvalid):
		code = http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, credential.ErrAlreadyRevoked), errors.Is(err, repository.ErrCredentialAlreadyStored):
		code = http.StatusConflict
	case errors.Is(err, errs.ErrSizeExceeded):
		code = http.StatusRequestEntityTooLarge
	case errors.Is(err, errs.ErrLimitExceeded):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrRateLimitExceeded):
		code = http.StatusTooManyRequests
	case errors.Is(err, errs.ErrNetworkTimeout), errors.Is(err, errs.ErrRetryExhausted),
		errors.Is(err, context.DeadlineExceeded):
		return NewHttpError(http.StatusServiceUnavailable, fallback)
	default:
		return NewHttpError(http.StatusInternalServerError, fallback)
	}

	return &HttpError{
		error:        err,
		ResponseCode: code,
	}
}

func (s *Server) abortWithError(c *gin.Context, err error, fallback string) {
	httpErr := mapError(err, fallback)
	if httpErr.ResponseCode >= http.StatusInternalServerError {
		s.logger.Error(fallback, zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(httpErr.ResponseCode, gin.H{"error": httpErr.Error()})
}
