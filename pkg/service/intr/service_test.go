package intr

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/model"
	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
)

func newTestService(t *testing.T, queueSize int) (Service, *bridge.Virtual) {
	t.Helper()
	api := bridge.NewVirtualBridge()
	s, err := NewService(Config{QueueSize: queueSize}, Dependencies{
		Log:    zerolog.Nop(),
		Bridge: api,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s, api
}

func TestDispatchOrderIsFIFO(t *testing.T) {
	s, api := newTestService(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	dispatched := make(chan model.Pin, 8)
	cb := func(ctx context.Context, e Event) {
		dispatched <- e.Pin
	}
	if err := s.Register(ctx, 4, model.TriggerFallingEdge, true, false, cb); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(ctx, 5, model.TriggerFallingEdge, true, false, cb); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for _, pin := range []model.Pin{4, 4, 4, 5} {
		if err := api.RaiseInterrupt(pin); err != nil {
			t.Fatalf("RaiseInterrupt(%d): %v", pin, err)
		}
	}

	// Events must come out in the exact order the interrupts fired.
	want := []model.Pin{4, 4, 4, 5}
	for i, wantPin := range want {
		select {
		case pin := <-dispatched:
			if pin != wantPin {
				t.Fatalf("event %d: got pin %d, want %d", i, pin, wantPin)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
	if drops := s.QueueDrops(); drops != 0 {
		t.Fatalf("unexpected drops: %d", drops)
	}
}

func TestQueueOverflowDropsAndCounts(t *testing.T) {
	s, api := newTestService(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatched := make(chan model.Pin, 8)
	cb := func(ctx context.Context, e Event) {
		dispatched <- e.Pin
	}
	if err := s.Register(ctx, 7, model.TriggerRisingEdge, false, true, cb); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// The worker is not running yet, so the queue fills up. The third
	// interrupt must be dropped without blocking the raiser.
	for i := 0; i < 3; i++ {
		if err := api.RaiseInterrupt(7); err != nil {
			t.Fatalf("RaiseInterrupt %d: %v", i, err)
		}
	}
	if drops := s.QueueDrops(); drops != 1 {
		t.Fatalf("expected 1 drop, got %d", drops)
	}

	// Once the worker runs, exactly the queued events are dispatched.
	go s.Run(ctx)
	for i := 0; i < 2; i++ {
		select {
		case <-dispatched:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for queued event %d", i)
		}
	}
	select {
	case pin := <-dispatched:
		t.Fatalf("dropped event was dispatched anyway (pin %d)", pin)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterStopsDispatch(t *testing.T) {
	s, api := newTestService(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	dispatched := make(chan model.Pin, 8)
	cb := func(ctx context.Context, e Event) {
		dispatched <- e.Pin
	}
	if err := s.Register(ctx, 9, model.TriggerAnyEdge, false, false, cb); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := s.RegisteredPins(); len(got) != 1 || got[0] != 9 {
		t.Fatalf("RegisteredPins: %v", got)
	}
	if err := s.Unregister(ctx, 9); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if got := s.RegisteredPins(); len(got) != 0 {
		t.Fatalf("RegisteredPins after unregister: %v", got)
	}
	// The vendor hook is detached; raising now fails at the bridge.
	if err := api.RaiseInterrupt(9); err == nil {
		t.Fatal("expected raise on detached pin to fail")
	}
	if err := s.Unregister(ctx, 9); !IsNotRegistered(err) {
		t.Fatalf("expected NotRegisteredError, got %v", err)
	}
}

func TestPanickingCallbackDoesNotKillWorker(t *testing.T) {
	s, api := newTestService(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	dispatched := make(chan model.Pin, 8)
	if err := s.Register(ctx, 3, model.TriggerLowLevel, true, false, func(ctx context.Context, e Event) {
		panic("callback failure")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(ctx, 4, model.TriggerLowLevel, true, false, func(ctx context.Context, e Event) {
		dispatched <- e.Pin
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := api.RaiseInterrupt(3); err != nil {
		t.Fatalf("RaiseInterrupt: %v", err)
	}
	if err := api.RaiseInterrupt(4); err != nil {
		t.Fatalf("RaiseInterrupt: %v", err)
	}
	select {
	case pin := <-dispatched:
		if pin != 4 {
			t.Fatalf("got pin %d, want 4", pin)
		}
	case <-time.After(time.Second):
		t.Fatal("worker died after panicking callback")
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	s, api := newTestService(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	if err := s.Register(ctx, 6, model.TriggerRisingEdge, false, false, func(ctx context.Context, e Event) {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	seen := make(chan Event, 8)
	unsub := s.Subscribe(func(e Event) {
		seen <- e
	})
	defer unsub()

	if err := api.RaiseInterrupt(6); err != nil {
		t.Fatalf("RaiseInterrupt: %v", err)
	}
	select {
	case e := <-seen:
		if e.Pin != 6 || e.Trigger != model.TriggerRisingEdge {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for subscribed event")
	}
}

// attachFailBridge fails AttachInterrupt on demand, passing everything
// else through to the virtual bridge.
type attachFailBridge struct {
	*bridge.Virtual
	fail bool
}

func (b *attachFailBridge) AttachInterrupt(pin model.Pin, handler bridge.InterruptHandler) error {
	if b.fail {
		return errors.New("attach failure")
	}
	return b.Virtual.AttachInterrupt(pin, handler)
}

func TestFailedReplaceKeepsPriorRegistration(t *testing.T) {
	api := &attachFailBridge{Virtual: bridge.NewVirtualBridge()}
	s, err := NewService(Config{}, Dependencies{
		Log:    zerolog.Nop(),
		Bridge: api,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	dispatched := make(chan string, 8)
	if err := s.Register(ctx, 4, model.TriggerFallingEdge, true, false, func(ctx context.Context, e Event) {
		dispatched <- "first"
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Replacing the callback fails at the vendor layer; the original
	// registration must survive.
	api.fail = true
	if err := s.Register(ctx, 4, model.TriggerFallingEdge, true, false, func(ctx context.Context, e Event) {
		dispatched <- "second"
	}); err == nil {
		t.Fatal("expected replace to fail")
	}
	api.fail = false

	if got := s.RegisteredPins(); len(got) != 1 || got[0] != 4 {
		t.Fatalf("RegisteredPins after failed replace: %v", got)
	}
	if err := api.RaiseInterrupt(4); err != nil {
		t.Fatalf("RaiseInterrupt: %v", err)
	}
	select {
	case who := <-dispatched:
		if who != "first" {
			t.Fatalf("dispatched to %q, want the original callback", who)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dispatch after failed replace")
	}
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestService(t, 0)
	ctx := context.Background()

	if err := s.Register(ctx, -1, model.TriggerRisingEdge, false, false, func(ctx context.Context, e Event) {}); err == nil {
		t.Fatal("expected error for invalid pin")
	}
	if err := s.Register(ctx, 4, model.TriggerType(200), false, false, func(ctx context.Context, e Event) {}); err == nil {
		t.Fatal("expected error for invalid trigger")
	}
	if err := s.Register(ctx, 4, model.TriggerRisingEdge, false, false, nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
}
