package pwm

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/model"
	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
	"github.com/periphworks/PeriphWorker/pkg/service/slots"
)

func newTestDeps() (OutputDependencies, *bridge.Virtual) {
	api := bridge.NewVirtualBridge()
	log := zerolog.Nop()
	return OutputDependencies{
		Log:      log,
		API:      api,
		Timers:   NewTimerManager(api, log),
		Channels: NewChannelPool(),
	}, api
}

func TestOutputsGetDistinctChannelsAndTimers(t *testing.T) {
	ctx := context.Background()
	deps, api := newTestDeps()

	out1, err := NewOutput(ctx, deps, 12)
	if err != nil {
		t.Fatalf("NewOutput: %v", err)
	}
	out2, err := NewOutput(ctx, deps, 13)
	if err != nil {
		t.Fatalf("NewOutput: %v", err)
	}

	if out1.Channel() != 0 || out2.Channel() != 1 {
		t.Fatalf("expected channels 0,1, got %d,%d", out1.Channel(), out2.Channel())
	}
	if out1.Timer().Index() != 0 || out2.Timer().Index() != 1 {
		t.Fatalf("expected timers 0,1, got %d,%d", out1.Timer().Index(), out2.Timer().Index())
	}

	// Both channels must be bound in hardware to their own pin and timer.
	pin, timer, ok := api.ChannelBinding(0)
	if !ok || pin != 12 || timer != 0 {
		t.Fatalf("channel 0 binding: pin=%d timer=%d ok=%v", pin, timer, ok)
	}
	pin, timer, ok = api.ChannelBinding(1)
	if !ok || pin != 13 || timer != 1 {
		t.Fatalf("channel 1 binding: pin=%d timer=%d ok=%v", pin, timer, ok)
	}
}

func TestDutyClamping(t *testing.T) {
	ctx := context.Background()
	deps, api := newTestDeps()

	out, err := NewOutput(ctx, deps, 5)
	if err != nil {
		t.Fatalf("NewOutput: %v", err)
	}

	// Raw values above MaxDuty are clamped.
	if err := out.SetDutyValue(ctx, MaxDuty+500); err != nil {
		t.Fatalf("SetDutyValue: %v", err)
	}
	if duty, _ := api.ChannelDuty(out.Channel()); duty != MaxDuty {
		t.Fatalf("expected duty clamped to %d, got %d", MaxDuty, duty)
	}

	// Percentages map onto [0, MaxDuty] with rounding.
	if err := out.SetDutyPercent(ctx, 50); err != nil {
		t.Fatalf("SetDutyPercent: %v", err)
	}
	if duty, _ := api.ChannelDuty(out.Channel()); duty != MaxDuty/2 {
		t.Fatalf("expected duty %d, got %d", MaxDuty/2, duty)
	}
	if err := out.SetDutyPercent(ctx, 150); err != nil {
		t.Fatalf("SetDutyPercent: %v", err)
	}
	if duty, _ := api.ChannelDuty(out.Channel()); duty != MaxDuty {
		t.Fatalf("expected duty clamped to %d, got %d", MaxDuty, duty)
	}
	if err := out.SetDutyPercent(ctx, -10); err != nil {
		t.Fatalf("SetDutyPercent: %v", err)
	}
	if duty, _ := api.ChannelDuty(out.Channel()); duty != 0 {
		t.Fatalf("expected duty clamped to 0, got %d", duty)
	}
}

func TestSharedTimerKeepsExistingFrequency(t *testing.T) {
	ctx := context.Background()
	deps, api := newTestDeps()
	mgr := deps.Timers

	t1, err := mgr.Get(ctx, 2, 1000)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// A second reference on the same index must not reconfigure the
	// hardware: the first frequency wins.
	t2, err := mgr.Get(ctx, 2, 5000)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if t1.Index() != 2 || t2.Index() != 2 {
		t.Fatalf("expected both references on timer 2, got %d,%d", t1.Index(), t2.Index())
	}
	if freq, ok := api.TimerFrequency(2); !ok || freq != 1000 {
		t.Fatalf("expected timer 2 at 1000 Hz, got %d (configured=%v)", freq, ok)
	}
	if t2.Frequency() != 1000 {
		t.Fatalf("expected shared reference to report 1000 Hz, got %d", t2.Frequency())
	}

	// Releasing one reference keeps the hardware configured.
	if err := t1.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := api.TimerFrequency(2); !ok {
		t.Fatal("timer deconfigured while still referenced")
	}
	// Releasing the last reference brings the timer down.
	if err := t2.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := api.TimerFrequency(2); ok {
		t.Fatal("timer still configured after last release")
	}
}

func TestTimerIndexClamped(t *testing.T) {
	ctx := context.Background()
	deps, api := newTestDeps()

	tm, err := deps.Timers.Get(ctx, MaxTimers+3, 800)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tm.Index() != MaxTimers-1 {
		t.Fatalf("expected clamp to %d, got %d", MaxTimers-1, tm.Index())
	}
	if freq, ok := api.TimerFrequency(MaxTimers - 1); !ok || freq != 800 {
		t.Fatalf("expected timer %d at 800 Hz, got %d (configured=%v)", MaxTimers-1, freq, ok)
	}

	tm2, err := deps.Timers.Get(ctx, -5, 600)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tm2.Index() != 0 {
		t.Fatalf("expected clamp to 0, got %d", tm2.Index())
	}
}

func TestConcurrentFrequencyUpdates(t *testing.T) {
	ctx := context.Background()
	deps, api := newTestDeps()
	mgr := deps.Timers

	// Two references sharing one timer, reconfiguring it from separate
	// goroutines. The manager must keep its frequency state consistent
	// with the hardware throughout.
	t1, err := mgr.Get(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	t2, err := mgr.Get(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	var wg sync.WaitGroup
	for _, ref := range []Timer{t1, t2} {
		wg.Add(1)
		go func(ref Timer) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				freq := uint32(1000 + (i%7)*500)
				if err := ref.SetFrequency(ctx, freq); err != nil {
					t.Errorf("SetFrequency: %v", err)
					return
				}
				if got := ref.Frequency(); got == 0 {
					t.Error("Frequency returned 0 on a configured timer")
					return
				}
			}
		}(ref)
	}
	wg.Wait()

	freq, ok := api.TimerFrequency(0)
	if !ok {
		t.Fatal("timer 0 no longer configured")
	}
	if got := t1.Frequency(); got != freq {
		t.Fatalf("manager reports %d Hz, hardware at %d Hz", got, freq)
	}
}

func TestFrequencyChangeRestoresDuty(t *testing.T) {
	ctx := context.Background()
	deps, api := newTestDeps()

	out, err := NewOutput(ctx, deps, 7)
	if err != nil {
		t.Fatalf("NewOutput: %v", err)
	}
	if err := out.SetDutyValue(ctx, 2048); err != nil {
		t.Fatalf("SetDutyValue: %v", err)
	}

	// Reconfiguring the timer disturbs the channel duty in hardware;
	// the output must restore its intended duty afterwards.
	if err := out.SetFrequency(ctx, 4000); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if freq, _ := api.TimerFrequency(out.Timer().Index()); freq != 4000 {
		t.Fatalf("expected 4000 Hz, got %d", freq)
	}
	if duty, _ := api.ChannelDuty(out.Channel()); duty != 2048 {
		t.Fatalf("expected duty restored to 2048, got %d", duty)
	}
}

func TestChannelExhaustion(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps()

	// Give every output its own timer reference on timer 0, so the
	// channel pool runs out before the timer pool.
	var outputs []*Output
	for i := 0; i < MaxChannels; i++ {
		out, err := NewOutputWithTimer(ctx, deps, model.Pin(i+1), 0)
		if err != nil {
			t.Fatalf("output %d: %v", i, err)
		}
		outputs = append(outputs, out)
	}
	if _, err := NewOutputWithTimer(ctx, deps, model.Pin(20), 0); !slots.IsResourceExhausted(err) {
		t.Fatalf("expected ResourceExhaustedError, got %v", err)
	}

	// Close one; a new output must be able to take its place.
	if err := outputs[3].Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out, err := NewOutputWithTimer(ctx, deps, model.Pin(21), 0)
	if err != nil {
		t.Fatalf("NewOutputWithTimer after close: %v", err)
	}
	if out.Channel() != 3 {
		t.Fatalf("expected reuse of channel 3, got %d", out.Channel())
	}
}

func TestConfigureFailureReleasesSlots(t *testing.T) {
	ctx := context.Background()
	deps, api := newTestDeps()

	api.SetChannelConfigureFailure(errors.New("injected channel failure"))
	if _, err := NewOutput(ctx, deps, 9); err == nil {
		t.Fatal("expected configuration failure")
	}
	api.SetChannelConfigureFailure(nil)

	// The failed construction must not have leaked the channel or the
	// timer slot.
	if got := deps.Channels.AllocatedIndices(); len(got) != 0 {
		t.Fatalf("channel slots leaked: %v", got)
	}
	if got := deps.Timers.AllocatedIndices(); len(got) != 0 {
		t.Fatalf("timer slots leaked: %v", got)
	}
	if _, ok := api.TimerFrequency(0); ok {
		t.Fatal("timer 0 left configured after failed construction")
	}

	// And the pools must be fully usable afterwards.
	out, err := NewOutput(ctx, deps, 9)
	if err != nil {
		t.Fatalf("NewOutput after recovery: %v", err)
	}
	if out.Channel() != 0 || out.Timer().Index() != 0 {
		t.Fatalf("expected channel 0 / timer 0, got %d/%d", out.Channel(), out.Timer().Index())
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	ctx := context.Background()
	deps, api := newTestDeps()

	out, err := NewOutput(ctx, deps, 11)
	if err != nil {
		t.Fatalf("NewOutput: %v", err)
	}
	if !api.PinReserved(11) {
		t.Fatal("expected pin 11 reserved after configuration")
	}
	if err := out.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if api.PinReserved(11) {
		t.Fatal("pin reservation not revoked on close")
	}
	if got := deps.Channels.AllocatedIndices(); len(got) != 0 {
		t.Fatalf("channel slots still allocated: %v", got)
	}
	if _, ok := api.TimerFrequency(0); ok {
		t.Fatal("timer still configured after close")
	}

	if err := out.Close(ctx); !IsAlreadyClosed(err) {
		t.Fatalf("expected AlreadyClosedError, got %v", err)
	}
	if err := out.SetDutyValue(ctx, 100); !IsAlreadyClosed(err) {
		t.Fatalf("expected AlreadyClosedError, got %v", err)
	}
}
