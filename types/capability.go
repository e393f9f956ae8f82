package types

import (
	"fmt"
	"strings"
)

// Capabilities declares the optional interfaces an application serves.
type Capabilities uint8

const (
	CapSimulation Capabilities = 1 << iota
	// CapRecords means committed relay records can be streamed to
	// relayers.
	CapRecords

	capAll = CapSimulation | CapRecords
)

var capNames = []struct {
	c    Capabilities
	name string
}{
	{CapSimulation, "simulation"},
	{CapRecords, "records"},
}

func (c Capabilities) Has(want Capabilities) bool { return c&want == want }

// Unknown returns the bits no release of this package defines.
func (c Capabilities) Unknown() Capabilities { return c &^ capAll }

func (c Capabilities) String() string {
	var parts []string
	for _, n := range capNames {
		if c.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	if u := c.Unknown(); u != 0 {
		parts = append(parts, fmt.Sprintf("0x%02x", uint8(u)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}
