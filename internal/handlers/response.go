package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mroshb/szludo_wallet/internal/middleware"
	"github.com/mroshb/szludo_wallet/internal/services"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Outcome string      `json:"outcome,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func success(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Response{Status: "success", Message: message, Data: data})
}

// outcome reports an idempotent operation. Already handled is still a 200 so
// retrying callers can stop.
func outcome(c *gin.Context, o services.Outcome, data interface{}) {
	message := "done"
	switch o {
	case services.OutcomeAlreadyHandled:
		message = "already handled"
	case services.OutcomeIgnored:
		message = "ignored"
	case services.OutcomeLostRace:
		message = "superseded"
	}
	c.JSON(http.StatusOK, Response{Status: "success", Message: message, Outcome: string(o), Data: data})
}

func statusFor(code string) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidState, errors.ErrCodeAlreadyExists:
		return http.StatusConflict
	case errors.ErrCodeInvalidType, errors.ErrCodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeValidation, errors.ErrCodeSignature:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeStorageConflict:
		return http.StatusServiceUnavailable
	case errors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)

	message := "internal error"
	if status != http.StatusInternalServerError {
		message = errors.MessageOf(err)
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "path", c.FullPath(), "code", code, "error", err)
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(status, middleware.ErrorBody{Status: "error", Code: code, Message: message})
}

func badRequest(c *gin.Context, message string) {
	respondError(c, errors.New(errors.ErrCodeValidation, message))
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func queryUint(c *gin.Context, name string) (uint, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New(errors.ErrCodeValidation, "invalid "+name)
	}
	return uint(v), nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(errors.ErrCodeValidation, "invalid "+name)
	}
	return v, nil
}

func currentUser(c *gin.Context) (uint, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		respondError(c, errors.New(errors.ErrCodeUnauthorized, "not authenticated"))
	}
	return id, ok
}
