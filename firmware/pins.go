//go:build tinygo

package main

import "machine"

const (
	// Enable switch, pulled down, interrupt on both edges
	PIN_ENABLE = machine.GPIO2

	// Valve outputs, active high
	PIN_FILL1  = machine.GPIO14
	PIN_DRAIN1 = machine.GPIO15
	PIN_FILL2  = machine.GPIO16
	PIN_DRAIN2 = machine.GPIO17

	// ADC pins
	PIN_ADC_TANK1     = machine.ADC0 // GPIO26
	PIN_ADC_TANK2     = machine.ADC1 // GPIO27
	PIN_ADC_REFERENCE = machine.ADC2 // GPIO28, shared ground reference

	// TinyGo scales conversions to 16 bits; the calibration expects 12.
	ADC_SHIFT = 4

	// Serial configuration
	// A response is at most ~20 bytes and requests come from a human-paced
	// remote, so 9600 baud leaves ample headroom.
	PIN_UART_TX    = machine.GPIO0
	PIN_UART_RX    = machine.GPIO1
	UART_BAUD_RATE = 9600

	// Poll interval of the enable edge flag set by the pin interrupt
	EDGE_POLL_MS = 5
)
