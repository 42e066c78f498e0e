package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Module represents a telemetry device
type Module struct {
	ID        int    `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	Color     string `json:"color" db:"color"`
	CreatedAt DBTime `json:"createdAt" db:"created_at"`
}

// Hex returns the module id in device display form
func (m *Module) Hex() string {
	return ModuleHex(m.ID)
}

// ModuleHex renders a module id as uppercase hex
func ModuleHex(id int) string {
	return fmt.Sprintf("%X", id)
}

// ParseModuleID accepts decimal ids and hex ids prefixed with 0x
func ParseModuleID(s string) (int, error) {
	base := 10
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		s = s[2:]
		base = 16
	}
	id, err := strconv.ParseInt(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid module id: %w", err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid module id %d", id)
	}
	return int(id), nil
}

// golden ratio conjugate spreads consecutive ids over the hue circle
const goldenRatio = 0.618033988749895

// NewModule builds an auto-provisioned module with its display defaults
func NewModule(id int) *Module {
	return &Module{
		ID:    id,
		Name:  fmt.Sprintf("Module %d", id),
		Color: ColorForModule(id),
	}
}

// ColorForModule returns a deterministic "#rrggbb" color for a module id
func ColorForModule(id int) string {
	hue := math.Mod(float64(id)*goldenRatio, 1.0)
	c := colorful.Hsv(hue*360, 0.8, 0.95)

	return fmt.Sprintf("#%02x%02x%02x", channel(c.R), channel(c.G), channel(c.B))
}

// channel truncates a [0,1] component to a byte
func channel(v float64) int {
	n := int(v * 255)
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return n
}
