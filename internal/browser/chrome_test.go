package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewChrome_Defaults(t *testing.T) {
	c := NewChrome(Config{})
	assert.Equal(t, 30*time.Second, c.cfg.NavigationTimeout)
	assert.Equal(t, 10*time.Second, c.cfg.PageReadyTimeout)
	assert.Equal(t, 1366, c.cfg.WindowWidth)
	assert.Equal(t, 768, c.cfg.WindowHeight)
}

func TestNewChrome_KeepsConfiguredValues(t *testing.T) {
	c := NewChrome(Config{NavigationTimeout: 5 * time.Second, WindowWidth: 800, WindowHeight: 600})
	assert.Equal(t, 5*time.Second, c.cfg.NavigationTimeout)
	assert.Equal(t, 800, c.cfg.WindowWidth)
}

func TestChrome_WithPageBeforeStart(t *testing.T) {
	c := NewChrome(Config{})
	called := false
	err := c.WithPage(context.Background(), func(context.Context, Page) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.False(t, called)
}

func TestChrome_CloseIdempotent(t *testing.T) {
	c := NewChrome(Config{})
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
