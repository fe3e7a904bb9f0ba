package breaker

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New(Config{Name: "test", FailureCount: 3, Cooldown: time.Minute}, zerolog.New(io.Discard))
	if b.IsOpen() {
		t.Fatal("expected new breaker to start closed")
	}
	if b.State() != "closed" {
		t.Fatalf("State() = %q, want closed", b.State())
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "test", FailureCount: 3, Cooldown: time.Minute}, zerolog.New(io.Discard))

	failing := func() (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 3; i++ {
		b.Execute(failing)
	}

	if !b.IsOpen() {
		t.Fatal("expected breaker to trip after 3 consecutive failures")
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := New(Config{Name: "test", FailureCount: 1, Cooldown: time.Minute}, zerolog.New(io.Discard))

	b.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	if !b.IsOpen() {
		t.Fatal("expected breaker to be open after single configured failure")
	}

	called := false
	_, err := b.Execute(func() (interface{}, error) {
		called = true
		return "ok", nil
	})
	if called {
		t.Fatal("expected Execute not to invoke the request while breaker is open")
	}
	if err == nil {
		t.Fatal("expected an error while breaker is open")
	}
}

func TestBreakerInvokesOnStateChange(t *testing.T) {
	var transitions int
	b := New(Config{
		Name:         "test",
		FailureCount: 1,
		Cooldown:     time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			transitions++
		},
	}, zerolog.New(io.Discard))

	b.Execute(func() (interface{}, error) { return nil, errors.New("boom") })

	if transitions == 0 {
		t.Fatal("expected at least one state-change callback invocation")
	}
}
