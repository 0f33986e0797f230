package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vanguard-ops/console/internal/services"
)

var statusByCode = map[services.ErrorCode]int{
	services.CodeForbidden:            http.StatusForbidden,
	services.CodeDisabled:             http.StatusForbidden,
	services.CodeRoleEscalation:       http.StatusForbidden,
	services.CodeRolePeerOrHigher:     http.StatusForbidden,
	services.CodeRoleStaffEditBlocked: http.StatusForbidden,
	services.CodeDisableRequiresOwner: http.StatusForbidden,
	services.CodeNotFound:             http.StatusNotFound,
	services.CodeInvalidInput:         http.StatusBadRequest,
	services.CodeConflict:             http.StatusConflict,
	services.CodeTenantMissing:        http.StatusBadRequest,
	services.CodeServiceUnavailable:   http.StatusServiceUnavailable,
	services.CodeDBError:              http.StatusInternalServerError,
	services.CodeUnknown:              http.StatusInternalServerError,
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	if status, ok := statusByCode[services.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AbortWithError writes the API error shape for err and aborts the chain.
// Server-side failures are logged with their cause; the client only sees
// the coded message.
func AbortWithError(c *gin.Context, err error) {
	status := StatusFor(err)
	code := services.CodeOf(err)
	if status >= http.StatusInternalServerError {
		GetRequestLogger(c).WithError(err).WithField("code", code).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": services.MessageOf(err), "code": code})
}
