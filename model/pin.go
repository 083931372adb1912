package model

import "strconv"

// Pin identifies a single GPIO pin on the local hardware.
type Pin int

// String returns a human readable representation of the pin.
func (p Pin) String() string {
	return "gpio" + strconv.Itoa(int(p))
}

// Validate the given pin, returning nil on ok,
// or an error upon validation issues.
func (p Pin) Validate() error {
	if p < 0 {
		return maskAny(ValidationError)
	}
	return nil
}

// TriggerType identifies the hardware condition that raises an
// interrupt on a pin.
type TriggerType uint8

const (
	// TriggerDisable raises no interrupts.
	TriggerDisable TriggerType = iota
	// TriggerRisingEdge raises an interrupt on a low to high transition.
	TriggerRisingEdge
	// TriggerFallingEdge raises an interrupt on a high to low transition.
	TriggerFallingEdge
	// TriggerAnyEdge raises an interrupt on any transition.
	TriggerAnyEdge
	// TriggerLowLevel raises an interrupt while the pin is low.
	TriggerLowLevel
	// TriggerHighLevel raises an interrupt while the pin is high.
	TriggerHighLevel
)

// String returns a human readable representation of the trigger type.
func (t TriggerType) String() string {
	switch t {
	case TriggerDisable:
		return "disable"
	case TriggerRisingEdge:
		return "rising-edge"
	case TriggerFallingEdge:
		return "falling-edge"
	case TriggerAnyEdge:
		return "any-edge"
	case TriggerLowLevel:
		return "low-level"
	case TriggerHighLevel:
		return "high-level"
	default:
		return "unknown"
	}
}

// Validate the given trigger type, returning nil on ok,
// or an error upon validation issues.
func (t TriggerType) Validate() error {
	if t > TriggerHighLevel {
		return maskAny(ValidationError)
	}
	return nil
}
