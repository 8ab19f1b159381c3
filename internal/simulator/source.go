package simulator

import (
	"math"
	"time"

	"github.com/muurk/pulsemeter/internal/sml"
)

// Source produces the channel entries of the next frame.
type Source interface {
	Next(now time.Time) []sml.Entry
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(now time.Time) []sml.Entry

// Next calls f(now).
func (f SourceFunc) Next(now time.Time) []sml.Entry {
	return f(now)
}

// Household simulates a three-phase household meter. Power follows a slow
// daily curve; the import register integrates it.
type Household struct {
	// BaseLoad and PeakLoad bound the simulated power in watts.
	BaseLoad float64
	PeakLoad float64

	// energy is the import register in tenths of a watt hour.
	energy int64
	last   time.Time
}

// NewHousehold returns a source starting at a realistic meter reading.
func NewHousehold() *Household {
	return &Household{BaseLoad: 250, PeakLoad: 3200, energy: 123456789}
}

// Next returns manufacturer, server ID, the energy registers, total and
// per-phase power, and phase voltages.
func (h *Household) Next(now time.Time) []sml.Entry {
	hours := float64(now.Hour()) + float64(now.Minute())/60
	// Peak in the early evening.
	curve := 0.5 - 0.5*math.Cos((hours-6)/24*2*math.Pi)
	power := h.BaseLoad + (h.PeakLoad-h.BaseLoad)*curve

	if !h.last.IsZero() && now.After(h.last) {
		h.energy += int64(power * now.Sub(h.last).Hours() * 10)
	}
	h.last = now

	deci := int64(math.Round(power * 10))
	phase := deci / 3

	wattHours := uint8(30)
	watts := uint8(27)
	volts := uint8(35)

	return []sml.Entry{
		octets(sml.CodeManufacturer, []byte("PLS")),
		octets(sml.CodeServerID, []byte{0x0a, 0x01, 0x50, 0x4c, 0x53, 0x00, 0x00, 0x00, 0x00, 0x01}),
		unsigned(sml.CodeEnergyImport, h.energy, -1, wattHours),
		unsigned(sml.CodeEnergyImportT1, h.energy, -1, wattHours),
		unsigned(sml.CodeEnergyImportT2, 0, -1, wattHours),
		unsigned(sml.CodeEnergyExport, 0, -1, wattHours),
		integer(sml.CodeActivePower, deci, -1, watts),
		integer(sml.CodePowerL1, phase, -1, watts),
		integer(sml.CodePowerL2, phase, -1, watts),
		integer(sml.CodePowerL3, deci-2*phase, -1, watts),
		unsigned(sml.CodeVoltageL1, 2301, -1, volts),
		unsigned(sml.CodeVoltageL2, 2298, -1, volts),
		unsigned(sml.CodeVoltageL3, 2305, -1, volts),
	}
}

// Constant returns a source that always reports the same active power,
// given as a raw value with scaler -1 (5000 is 500.0 W).
func Constant(raw int64) Source {
	return SourceFunc(func(time.Time) []sml.Entry {
		return []sml.Entry{integer(sml.CodeActivePower, raw, -1, 27)}
	})
}

func octets(code string, b []byte) sml.Entry {
	return sml.Entry{Code: code, Value: sml.Value{Type: sml.TypeOctetString, Bytes: b}}
}

func integer(code string, v int64, scaler int8, unit uint8) sml.Entry {
	return sml.Entry{Code: code, Value: sml.Value{Type: sml.TypeInteger, Int: v}, Scaler: &scaler, Unit: &unit}
}

func unsigned(code string, v int64, scaler int8, unit uint8) sml.Entry {
	return sml.Entry{Code: code, Value: sml.Value{Type: sml.TypeUnsigned, Int: v}, Scaler: &scaler, Unit: &unit}
}
