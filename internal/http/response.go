package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"moff.io/snap-bridge/internal/bridge"
	"moff.io/snap-bridge/pkg/errors"
)

// business codes carried in the "code" field of every response
const (
	codeOK                   = 0
	codeInvalidInput         = 4000
	codeSignerRequired       = 4001
	codeSigningRejected      = 4003
	codeAccountNotFound      = 4004
	codeTooManyRequests      = 4029
	codeInternal             = 5000
	codeProviderUnavailable  = 5002
	codeTransportUnavailable = 5003
	codeBusy                 = 5030
	codeContractCallFailed   = 5004
)

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{"code": codeOK, "msg": "ok", "data": data})
}

// fail maps the bridge error taxonomy onto status and business codes.
func fail(ctx *gin.Context, err error) {
	status, code := classify(err)
	ctx.JSON(status, gin.H{"code": code, "msg": err.Error()})
}

func classify(err error) (int, int) {
	switch {
	case errors.Is(err, bridge.ErrAccountNotFound):
		return http.StatusNotFound, codeAccountNotFound
	case errors.Is(err, bridge.ErrSignerRequired):
		return http.StatusConflict, codeSignerRequired
	case errors.Is(err, bridge.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, bridge.ErrContractCallFailed):
		return http.StatusBadGateway, codeContractCallFailed
	case errors.Is(err, bridge.ErrSigningRejected):
		return http.StatusForbidden, codeSigningRejected
	case errors.Is(err, bridge.ErrProviderUnavailable):
		return http.StatusBadGateway, codeProviderUnavailable
	case errors.Is(err, bridge.ErrTransportUnavailable):
		return http.StatusServiceUnavailable, codeTransportUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func badRequest(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidInput, "msg": err.Error()})
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
