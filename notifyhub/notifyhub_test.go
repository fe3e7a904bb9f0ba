package notifyhub

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/logmodel"
	"github.com/lumenstack/logflow/observability"
)

func newTestHub(t *testing.T) (*Hub, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := zerolog.New(io.Discard)
	return New(rdb, log, observability.NewMetrics(), 4), rdb
}

func TestPublishSkipsNonNotifiableLevels(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := zerolog.New(io.Discard)

	ev := logmodel.LogEvent{ID: "1", ProjectID: "proj-1", Level: logmodel.LevelInfo}
	// Should not panic or publish; there's no subscriber to observe but
	// this exercises the early-return path for a non-notifiable level.
	Publish(context.Background(), rdb, log, ev)
}

func TestSubscribeFanOutDeliversNotification(t *testing.T) {
	hub, rdb := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := hub.subscribe(ctx, "proj-1")
	defer hub.unsubscribe("proj-1", sub)

	// Give the project hub's Subscribe goroutine a moment to register
	// with miniredis before publishing.
	time.Sleep(50 * time.Millisecond)

	ev := logmodel.LogEvent{ID: "1", ProjectID: "proj-1", Level: logmodel.LevelError, Message: "boom"}
	Publish(context.Background(), rdb, zerolog.New(io.Discard), ev)

	select {
	case msg := <-sub.ch:
		if len(msg) == 0 {
			t.Fatal("expected non-empty notification payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fanned-out notification")
	}
}

func TestUnsubscribeTearsDownEmptyHub(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	sub := hub.subscribe(ctx, "proj-1")
	hub.unsubscribe("proj-1", sub)

	hub.mu.Lock()
	_, exists := hub.hubs["proj-1"]
	hub.mu.Unlock()
	if exists {
		t.Fatal("expected project hub to be torn down once last subscriber leaves")
	}
}

func TestFanOutDropsOldestWhenSubscriberChannelFull(t *testing.T) {
	hub, _ := newTestHub(t)
	sub := &subscriber{ch: make(chan []byte, 1)}
	ph := &projectHub{subscribers: map[*subscriber]struct{}{sub: {}}}

	hub.fanOut(ph, []byte("first"))
	hub.fanOut(ph, []byte("second"))

	got := <-sub.ch
	if string(got) != "second" {
		t.Fatalf("expected drop-oldest to leave the newest message, got %q", got)
	}
}
