//go:build linux

package main

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// parseTrace decodes a YAML access trace. A trace is a sequence of accesses:
//
//	- {offset: 0x1000, size: 4, write: true, value: 0x1}
//	- {offset: 0x1004}
//
// size defaults to 4 and must be 4 or 8 when given.
func parseTrace(raw []byte) ([]access, error) {
	var trace []access
	if err := yaml.Unmarshal(raw, &trace); err != nil {
		return nil, fmt.Errorf("parse trace: %w", err)
	}

	for n, a := range trace {
		if a.Size != 0 && a.Size != 4 && a.Size != 8 {
			return nil, fmt.Errorf("access %d: bad size %d", n, a.Size)
		}

		if a.Offset%4 != 0 {
			return nil, fmt.Errorf("access %d: offset %#x is not 4-byte aligned", n, a.Offset)
		}
	}

	return trace, nil
}
