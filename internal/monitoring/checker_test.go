package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-entry/internal/config"
	"github.com/sells-group/lead-entry/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(&fakeStats{stats: &model.AutomationStats{}})
	cfg := config.MonitoringConfig{
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	checker := NewChecker(collector, NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	collector := NewCollector(&fakeStats{stats: &model.AutomationStats{}})
	checker := NewChecker(collector, NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, defaultLookbackHours, checker.lookback)
	assert.Equal(t, defaultCheckInterval, checker.interval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{FailureRateThreshold: 0.2, QueueBacklogThreshold: 100, WebhookURL: ts.URL}
	collector := NewCollector(&fakeStats{stats: &model.AutomationStats{Succeeded: 5, AttemptsFailed: 5}})
	checker := NewChecker(collector, NewAlerter(cfg), cfg)

	alerts := checker.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSubmissionFailureRate, alerts[0].Type)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_CheckCollectError(t *testing.T) {
	collector := NewCollector(&fakeStats{err: errors.New("db down")})
	checker := NewChecker(collector, NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Nil(t, checker.Check(context.Background()))
}
