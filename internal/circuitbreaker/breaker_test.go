package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_TripsOpenAfterReadyToTrip(t *testing.T) {
	cfg := &Config{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     time.Hour,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	}
	cb := New(cfg)
	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	_, err := cb.Execute(failing)
	require.Error(t, err)
	_, err = cb.Execute(failing)
	require.Error(t, err)

	assert.Equal(t, StateOpen, cb.State())

	_, err = cb.Execute(failing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestExecute_HalfOpenClosesAfterConsecutiveSuccesses(t *testing.T) {
	cfg := &Config{
		Name:        "test",
		MaxRequests: 2,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	}
	cb := New(cfg)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	ok := func() (interface{}, error) { return "ok", nil }
	_, err := cb.Execute(ok)
	require.NoError(t, err)
	_, err = cb.Execute(ok)
	require.NoError(t, err)

	assert.Equal(t, StateClosed, cb.State())
}

func TestManager_GetOrCreateReusesExistingBreaker(t *testing.T) {
	m := NewManager(nil)
	a := m.GetOrCreate("persistence", nil)
	b := m.GetOrCreate("persistence", nil)
	assert.Same(t, a, b)
}

func TestNewEngineCircuitBreakers_ProvidesPersistenceAndFabric(t *testing.T) {
	breakers := NewEngineCircuitBreakers()
	require.NotNil(t, breakers.Persistence)
	require.NotNil(t, breakers.Fabric)

	status, _ := breakers.HealthStatus()
	assert.Equal(t, "HEALTHY", status)
}

func TestExecuteWithFallback_InvokesFallbackWhenCircuitOpen(t *testing.T) {
	cfg := &Config{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     time.Hour,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	}
	cb := New(cfg)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	result, err := ExecuteWithFallback(cb,
		func() (string, error) { return "primary", nil },
		func(error) (string, error) { return "fallback", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "fallback", result)
}
