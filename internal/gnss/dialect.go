// Package gnss polls the cellular module's built-in GNSS engine for fixes.
//
// Two firmware families are supported. They differ in command spelling and
// in the layout of the info line:
//   - a7670:   +CGNSSINFO: mode,sats,...,lat,N/S,lon,E/W,date,time,...
//   - sim7000: +CGNSINF: run,fix,utc,lat,lon,... (signed degrees)
package gnss

import (
	"fmt"
	"strings"
)

type Dialect struct {
	Name     string
	PowerOn  string
	PowerOff string
	Info     string
	Prefix   string

	// MinFields is the shortest field list that may be indexed.
	MinFields int
	LatField  int
	LonField  int
	// Hemisphere fields follow each coordinate; -1 when coordinates are
	// signed.
	LatHemiField int
	LonHemiField int
	// FixField must read "1" for the line to carry a fix; -1 when absent.
	FixField int
}

var (
	A7670 = Dialect{
		Name:         "a7670",
		PowerOn:      "AT+CGNSSPWR=1",
		PowerOff:     "AT+CGNSSPWR=0",
		Info:         "AT+CGNSSINFO",
		Prefix:       "+CGNSSINFO:",
		MinFields:    9,
		LatField:     5,
		LatHemiField: 6,
		LonField:     7,
		LonHemiField: 8,
		FixField:     -1,
	}
	SIM7000 = Dialect{
		Name:         "sim7000",
		PowerOn:      "AT+CGNSPWR=1",
		PowerOff:     "AT+CGNSPWR=0",
		Info:         "AT+CGNSINF",
		Prefix:       "+CGNSINF:",
		MinFields:    5,
		LatField:     3,
		LatHemiField: -1,
		LonField:     4,
		LonHemiField: -1,
		FixField:     1,
	}
)

// DialectByName resolves a config name. Empty selects a7670.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", A7670.Name:
		return A7670, nil
	case SIM7000.Name, "sim7600":
		return SIM7000, nil
	default:
		return Dialect{}, fmt.Errorf("unknown gnss dialect %q", name)
	}
}
