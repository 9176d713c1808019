package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("case 7: %w", ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest, CodeBadRequest},
		{"timeout", FromContext(context.DeadlineExceeded), http.StatusRequestTimeout, CodeTimeout},
		{"index failure", &IndexQueryError{Query: "foo", Err: errors.New("boom")}, http.StatusInternalServerError, CodeInternal},
		{"corruption", &CorruptionError{ID: 3, Err: errors.New("bad tag")}, http.StatusInternalServerError, CodeInternal},
		{"app error", New(ErrInternal, http.StatusServiceUnavailable, "draining"), http.StatusServiceUnavailable, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatusCode(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}

func TestCorruptionDistinctFromNotFound(t *testing.T) {
	err := fmt.Errorf("hydrate: %w", &CorruptionError{ID: 9, Err: errors.New("truncated")})

	assert.ErrorIs(t, err, ErrStoreCorruption)
	assert.NotErrorIs(t, err, ErrNotFound)

	var ce *CorruptionError
	if assert.ErrorAs(t, err, &ce) {
		assert.Equal(t, uint32(9), ce.ID)
	}
}

func TestIndexQueryErrorKeepsQuery(t *testing.T) {
	cause := errors.New("segment missing")
	err := &IndexQueryError{Query: "合同 纠纷", Err: cause}

	assert.ErrorIs(t, err, ErrIndexQuery)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "合同 纠纷")
}

func TestFromContext(t *testing.T) {
	assert.NoError(t, FromContext(nil))

	other := errors.New("other")
	assert.Same(t, other, FromContext(other))

	err := FromContext(fmt.Errorf("search: %w", context.Canceled))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Same(t, err, FromContext(err))
}

func TestExpected(t *testing.T) {
	assert.True(t, Expected(ErrNotFound))
	assert.True(t, Expected(ErrRateLimited))
	assert.True(t, Expected(ErrUnauthorized))
	assert.False(t, Expected(ErrStoreCorruption))
	assert.False(t, Expected(ErrIndexQuery))
}
