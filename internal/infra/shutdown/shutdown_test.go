package shutdown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestHandler_RunsHooksInReverse(t *testing.T) {
	h := NewHandler(time.Second, nil)
	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"store", "sweeper", "http"} {
		name := name
		h.OnShutdown(name, func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	h.Trigger()
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := strings.Join(order, ","); got != "http,sweeper,store" {
		t.Errorf("order = %s, want http,sweeper,store", got)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done not closed after Wait")
	}
}

func TestHandler_JoinsErrorsAndKeepsGoing(t *testing.T) {
	h := NewHandler(time.Second, nil)
	ran := false
	h.OnShutdown("last", func(context.Context) error { ran = true; return nil })
	h.OnShutdown("broken", func(context.Context) error { return errors.New("boom") })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "broken: boom") {
		t.Errorf("err = %v, want hook error", err)
	}
	if !ran {
		t.Error("hook after failure did not run")
	}
}

func TestHandler_HooksShareDeadline(t *testing.T) {
	h := NewHandler(20*time.Millisecond, nil)
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.Trigger()
	h.Trigger()
	if err := h.Wait(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
