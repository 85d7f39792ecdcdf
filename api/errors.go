package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/vcs"
)

var statusByKind = map[vcs.Kind]int{
	vcs.KindNotFound:                   http.StatusNotFound,
	vcs.KindAlreadyExists:              http.StatusConflict,
	vcs.KindInvalidOperation:           http.StatusBadRequest,
	vcs.KindInvalidName:                http.StatusBadRequest,
	vcs.KindRequiresForce:              http.StatusConflict,
	vcs.KindRequiresCommit:             http.StatusConflict,
	vcs.KindCheckoutVerificationFailed: http.StatusInternalServerError,
	vcs.KindStorageUnavailable:         http.StatusServiceUnavailable,
	vcs.KindInternal:                   http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind vcs.Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes err as an ErrorResponse and records it on the
// context for the request logger.
func respondError(c *gin.Context, err error) {
	kind := vcs.KindOf(err)
	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      string(kind),
		Retryable: kind.Retryable(),
	}
	var e *vcs.Error
	if errors.As(err, &e) {
		resp.Suggestion = e.Suggestion
		resp.Paths = e.Paths
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(StatusFor(kind), resp)
}

func respondBadRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error: err.Error(),
		Code:  "INVALID_REQUEST",
	})
}
