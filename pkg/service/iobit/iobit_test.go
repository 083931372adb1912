package iobit

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/model"
	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
	"github.com/periphworks/PeriphWorker/pkg/service/devices"
)

func TestLocalBits(t *testing.T) {
	ctx := context.Background()
	api := bridge.NewVirtualBridge()

	out, err := NewLocalOutputBit(api, 17)
	if err != nil {
		t.Fatalf("NewLocalOutputBit: %v", err)
	}
	if err := out.Set(ctx, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	in, err := NewLocalInputBit(api, 17)
	if err != nil {
		t.Fatalf("NewLocalInputBit: %v", err)
	}
	if v, err := in.Get(ctx); err != nil || !v {
		t.Fatalf("Get: v=%v err=%v", v, err)
	}
	if err := out.Set(ctx, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := in.Get(ctx); err != nil || v {
		t.Fatalf("Get: v=%v err=%v", v, err)
	}

	if _, err := NewLocalOutputBit(api, model.Pin(-3)); err == nil {
		t.Fatal("expected error for invalid pin")
	}
}

func TestExpanderBits(t *testing.T) {
	ctx := context.Background()
	api := bridge.NewVirtualBridge()
	chip := api.AddI2CDevice(0x18)
	bus, err := api.I2CBus()
	if err != nil {
		t.Fatalf("I2CBus: %v", err)
	}
	dev, err := devices.NewDevice(model.HWDevice{
		ID:      "expander",
		Address: "0x18",
		Type:    model.HWDeviceTypePCA9557,
	}, bus, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	gpio := dev.(devices.GPIO)
	if err := gpio.Configure(ctx); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	out, err := NewExpanderOutputBit(ctx, gpio, 1)
	if err != nil {
		t.Fatalf("NewExpanderOutputBit: %v", err)
	}
	if err := out.Set(ctx, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := chip.Register(0x01); got&0x02 == 0 {
		t.Fatalf("output register: got 0x%02x, want bit 1 set", got)
	}

	in, err := NewExpanderInputBit(ctx, gpio, 4)
	if err != nil {
		t.Fatalf("NewExpanderInputBit: %v", err)
	}
	chip.SetRegister(0x00, 0x10)
	if v, err := in.Get(ctx); err != nil || !v {
		t.Fatalf("Get: v=%v err=%v", v, err)
	}
}
