package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid selector"), false},
		{"explicit", NewTransientError(errors.New("x"), 503), true},
		{"wrapped explicit", fmt.Errorf("submit: %w", NewTransientError(errors.New("x"), 0)), true},
		{"net timeout", timeoutErr{}, true},
		{"conn reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"chrome net error", errors.New("page load error net::ERR_CONNECTION_TIMED_OUT"), true},
		{"target closed", errors.New("context canceled: target closed"), true},
		{"dns", errors.New("lookup portal: no such host"), true},
		{"permanent wins", Permanent(NewTransientError(errors.New("x"), 0)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("MissingField:email")
	err := fmt.Errorf("validate lead: %w", Permanent(base))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}

func TestTransientError(t *testing.T) {
	base := errors.New("upstream")
	te := NewTransientError(base, 502)
	assert.Equal(t, "upstream", te.Error())
	assert.Equal(t, 502, te.StatusCode)
	assert.ErrorIs(t, te, base)
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 425, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 410, 422, 501} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}
