package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"delivery/internal/domain"
	"delivery/internal/middleware"
	"delivery/internal/service"
)

// ErrorResponse represents an error response. Error is a stable key clients
// bind localized text to.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorMessages = map[service.Kind]string{
	service.KindAlreadyAssigned:     "This delivery has already been accepted by another driver.",
	service.KindAlreadyCancelled:    "This delivery has been cancelled.",
	service.KindCannotPerformAction: "This action is not possible in the current state.",
	service.KindDeliveryTimeout:     "This delivery request has expired.",
	service.KindInvalidCode:         "The delivery code is incorrect.",
	service.KindInvalidLocation:     "A valid location is required.",
	service.KindNotFound:            "Delivery not found.",
	service.KindConflictNotFound:    "Conflict not found.",
	service.KindForbiddenAccess:     "You are not allowed to perform this action.",
	service.KindUnsupportedType:     "This type is not supported.",
	service.KindAlreadyReported:     "A conflict is already open for this delivery.",
	service.KindConflictAssigned:    "This conflict has already been assigned.",
	service.KindInvalidInput:        "The request is invalid.",
	service.KindInternal:            "Something went wrong. Please try again later.",
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindNotFound, service.KindConflictNotFound:
		return http.StatusNotFound
	case service.KindForbiddenAccess:
		return http.StatusForbidden
	case service.KindInvalidInput, service.KindInvalidLocation, service.KindUnsupportedType:
		return http.StatusBadRequest
	case service.KindInvalidCode:
		return http.StatusUnprocessableEntity
	case service.KindDeliveryTimeout:
		return http.StatusGone
	case service.KindAlreadyAssigned, service.KindAlreadyCancelled, service.KindCannotPerformAction,
		service.KindAlreadyReported, service.KindConflictAssigned:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError sends the tagged error. Internal details never leave the
// process; the service layer has already logged them.
func respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	if kind == service.KindInternal {
		_ = c.Error(err)
	}
	c.JSON(statusFor(kind), ErrorResponse{Error: string(kind), Message: errorMessages[kind]})
}

// respondBadRequest reports a body or query that could not be bound.
func respondBadRequest(c *gin.Context) {
	respondError(c, service.ErrInvalidInput)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// caller returns the authenticated caller or aborts with 401.
func caller(c *gin.Context) (domain.Caller, bool) {
	cl, ok := middleware.CallerFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
	}
	return cl, ok
}
