package glproto

import (
	"encoding/json"
	"fmt"
)

// Frame header geometry
const (
	MagicLen  = 2
	CountLen  = 1
	HeaderLen = MagicLen + CountLen

	// MaxRecords is the largest count the one-byte field can declare
	MaxRecords = 255
)

// Magic is the 2-byte ASCII frame header
type Magic [2]byte

// DefaultMagic is the header sent by current module firmware
var DefaultMagic = Magic{'G', 'L'}

// String returns the ASCII form of the magic
func (m Magic) String() string {
	return string(m[:])
}

// ParseMagic parses a two character header such as "GL"
func ParseMagic(s string) (Magic, error) {
	var m Magic
	if len(s) != MagicLen {
		return m, fmt.Errorf("magic must be %d bytes, got %q", MagicLen, s)
	}
	copy(m[:], s)
	return m, nil
}

// MarshalJSON implements json.Marshaler
func (m Magic) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// SubRecord is one module reading ("hop") packed inside a frame
type SubRecord struct {
	ModuleID    uint8   `json:"moduleId"`
	PacketType  uint8   `json:"packetType"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	Altitude    uint32  `json:"alt"`
	Speed       uint32  `json:"speed"`
	RateOfClimb uint32  `json:"roc"`
	HopCount    uint32  `json:"hop"`
	Emergency   *bool   `json:"emergency,omitempty"`
	MatchSignal *bool   `json:"matchSignal,omitempty"`
}

// ModuleHex returns the module id in its device display form
func (r SubRecord) ModuleHex() string {
	return fmt.Sprintf("%X", r.ModuleID)
}

// DecodeResult is the outcome of one decode cycle. Records may be
// non-empty even when Errors is not.
type DecodeResult struct {
	Header        Magic       `json:"header"`
	DeclaredCount int         `json:"declaredCount"`
	Records       []SubRecord `json:"records"`
	Errors        []string    `json:"errors"`
}

// Valid reports whether the frame decoded without any error
func (r *DecodeResult) Valid() bool {
	return len(r.Errors) == 0
}

// FirstError returns the first decode error or an empty string
func (r *DecodeResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}

func (r *DecodeResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
