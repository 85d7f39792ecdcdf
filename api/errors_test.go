package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/vcs"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind   vcs.Kind
		status int
	}{
		{vcs.KindNotFound, http.StatusNotFound},
		{vcs.KindAlreadyExists, http.StatusConflict},
		{vcs.KindInvalidOperation, http.StatusBadRequest},
		{vcs.KindInvalidName, http.StatusBadRequest},
		{vcs.KindRequiresForce, http.StatusConflict},
		{vcs.KindRequiresCommit, http.StatusConflict},
		{vcs.KindCheckoutVerificationFailed, http.StatusInternalServerError},
		{vcs.KindStorageUnavailable, http.StatusServiceUnavailable},
		{vcs.KindInternal, http.StatusInternalServerError},
		{vcs.Kind("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.kind))
		})
	}
}

func TestRespondError(t *testing.T) {
	t.Run("typed error", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, &vcs.Error{
			Kind:    vcs.KindInvalidName,
			Op:      "commit",
			Message: "invalid path",
			Paths:   []string{"../escape.txt"},
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode[ErrorResponse](t, w)
		assert.Equal(t, string(vcs.KindInvalidName), resp.Code)
		assert.Equal(t, []string{"../escape.txt"}, resp.Paths)
		assert.False(t, resp.Retryable)
		assert.Len(t, c.Errors, 1)
	})

	t.Run("checkout verification is not retryable", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, &vcs.Error{Kind: vcs.KindCheckoutVerificationFailed, Message: "HEAD is on main"})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.False(t, decode[ErrorResponse](t, w).Retryable)
	})

	t.Run("plain error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, errors.New("boom"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decode[ErrorResponse](t, w)
		assert.Equal(t, string(vcs.KindInternal), resp.Code)
		assert.True(t, resp.Retryable)
	})
}
