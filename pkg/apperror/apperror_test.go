package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", NotFound("patient %s not found", "GM-001"), KindNotFound},
		{"wrapped", fmt.Errorf("scan: %w", Conflict("receipt changed")), KindConcurrencyConflict},
		{"upstream", Upstream("store unavailable", errors.New("dial tcp")), KindUpstreamUnavailable},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	assert.True(t, Is(EmptyQueue("no patients waiting"), KindEmptyQueue))
	assert.False(t, Is(InvalidInput("bad age"), KindEmptyQueue))
	assert.False(t, Is(nil, KindInternal))
}

func TestError_FormatsAndUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Upstream("store unavailable for patient", cause)

	assert.Equal(t, "upstream_unavailable: store unavailable for patient: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "invalid_transition: already dispensed", InvalidTransition("already dispensed").Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindEmptyQueue))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindInvalidInput))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindInvalidTransition))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConcurrencyConflict))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(KindUpstreamUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "bad age", Message(fmt.Errorf("register: %w", InvalidInput("bad age"))))
	assert.Equal(t, "internal error", Message(errors.New("secret detail")))
}
