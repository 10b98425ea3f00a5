package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NewNotFoundError("order not found"), http.StatusNotFound},
		{"invalid code", NewInvalidCodeError("bad code"), http.StatusUnprocessableEntity},
		{"not eligible", NewNotEligibleError("wrong state"), http.StatusConflict},
		{"wrapped forbidden", fmt.Errorf("handler: %w", NewForbiddenError("nope")), http.StatusForbidden},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTimeoutError("slow broker")))
	assert.True(t, IsRetryable(fmt.Errorf("publish: %w", ErrServiceUnavailable)))
	assert.False(t, IsRetryable(NewInvalidCodeError("bad code")))
	assert.False(t, IsRetryable(fmt.Errorf("boom")))
}

func TestAppErrorMessageFallsBackToKind(t *testing.T) {
	err := NewAppError(ErrConflict, "", http.StatusConflict, false)
	assert.Equal(t, ErrConflict.Error(), err.Error())
	assert.ErrorIs(t, err, ErrConflict)

	err.WithContext("orderID", "O1")
	assert.Equal(t, "O1", err.Context["orderID"])
}

func TestCouponRejectedCarriesReason(t *testing.T) {
	err := NewCouponRejectedError("usage_limit_reached")
	assert.Equal(t, "usage_limit_reached", err.Error())
	assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(err))
}
