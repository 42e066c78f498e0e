package glproto

import (
	"fmt"
	"math"
	"strings"
)

// FieldKind identifies which SubRecord attribute a bit field carries
type FieldKind int

const (
	FieldModuleID FieldKind = iota
	FieldPacketType
	FieldLatitude
	FieldLongitude
	FieldAltitude
	FieldSpeed
	FieldRateOfClimb
	FieldHopCount
	FieldEmergency
	FieldMatchSignal
)

var fieldNames = map[FieldKind]string{
	FieldModuleID:    "moduleId",
	FieldPacketType:  "packetType",
	FieldLatitude:    "latitude",
	FieldLongitude:   "longitude",
	FieldAltitude:    "altitude",
	FieldSpeed:       "speed",
	FieldRateOfClimb: "rateOfClimb",
	FieldHopCount:    "hopCount",
	FieldEmergency:   "emergency",
	FieldMatchSignal: "matchSignal",
}

func (k FieldKind) String() string {
	if name, ok := fieldNames[k]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", int(k))
}

// Field describes one bit field of a sub-record. Offset counts bits from
// the most significant bit of the first record byte.
type Field struct {
	Kind   FieldKind
	Offset uint
	Width  uint
	Signed bool
	// Scale multiplies the raw integer; zero keeps the raw value
	Scale float64
}

// Layout is a versioned sub-record bit table
type Layout struct {
	Name       string
	RecordSize int
	Fields     []Field
}

// CoordScale is the fixed-point resolution of latitude and longitude
const CoordScale = 1e-4

// LayoutV1 is the 8-byte layout of the first firmware generation
var LayoutV1 = &Layout{
	Name:       "v1",
	RecordSize: 8,
	Fields: []Field{
		{Kind: FieldModuleID, Offset: 0, Width: 8},
		{Kind: FieldLatitude, Offset: 8, Width: 22, Signed: true, Scale: CoordScale},
		{Kind: FieldLongitude, Offset: 30, Width: 23, Signed: true, Scale: CoordScale},
		{Kind: FieldAltitude, Offset: 53, Width: 11},
	},
}

// LayoutV2 is the 10-byte layout and the default
var LayoutV2 = &Layout{
	Name:       "v2",
	RecordSize: 10,
	Fields: []Field{
		{Kind: FieldModuleID, Offset: 0, Width: 8},
		{Kind: FieldPacketType, Offset: 8, Width: 2},
		{Kind: FieldAltitude, Offset: 10, Width: 13},
		{Kind: FieldLatitude, Offset: 23, Width: 22, Signed: true, Scale: CoordScale},
		{Kind: FieldLongitude, Offset: 45, Width: 23, Signed: true, Scale: CoordScale},
		{Kind: FieldSpeed, Offset: 68, Width: 6},
		{Kind: FieldRateOfClimb, Offset: 74, Width: 5},
		{Kind: FieldHopCount, Offset: 79, Width: 1},
	},
}

// LayoutV3 is the 11-byte layout with emergency and match-signal flags.
// Bytes 1-2 hold a 3-bit type and the altitude, bytes 3-10 the position
// word. The top type bit is the match signal, so types 0-3 read unchanged.
var LayoutV3 = &Layout{
	Name:       "v3",
	RecordSize: 11,
	Fields: []Field{
		{Kind: FieldModuleID, Offset: 0, Width: 8},
		{Kind: FieldMatchSignal, Offset: 8, Width: 1},
		{Kind: FieldPacketType, Offset: 9, Width: 2},
		{Kind: FieldAltitude, Offset: 11, Width: 13},
		{Kind: FieldLatitude, Offset: 24, Width: 22, Signed: true, Scale: CoordScale},
		{Kind: FieldLongitude, Offset: 46, Width: 23, Signed: true, Scale: CoordScale},
		{Kind: FieldSpeed, Offset: 69, Width: 7},
		{Kind: FieldRateOfClimb, Offset: 76, Width: 7},
		{Kind: FieldHopCount, Offset: 83, Width: 4},
		{Kind: FieldEmergency, Offset: 87, Width: 1},
	},
}

// DefaultLayout is used when no layout is configured
var DefaultLayout = LayoutV2

var layouts = map[string]*Layout{
	LayoutV1.Name: LayoutV1,
	LayoutV2.Name: LayoutV2,
	LayoutV3.Name: LayoutV3,
}

// LayoutByName returns a registered layout. An empty name selects the default.
func LayoutByName(name string) (*Layout, error) {
	if name == "" {
		return DefaultLayout, nil
	}
	l, ok := layouts[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown layout %q", name)
	}
	return l, nil
}

// LayoutNames lists registered layout names
func LayoutNames() []string {
	return []string{LayoutV1.Name, LayoutV2.Name, LayoutV3.Name}
}

// Validate checks that every field fits the record and no two fields overlap
func (l *Layout) Validate() error {
	if l.RecordSize <= 0 {
		return fmt.Errorf("layout %s: record size must be positive", l.Name)
	}
	bits := uint(l.RecordSize * 8)
	used := make([]bool, bits)
	seen := make(map[FieldKind]bool)

	for _, f := range l.Fields {
		if f.Width == 0 || f.Width > 63 {
			return fmt.Errorf("layout %s: %s width %d out of range", l.Name, f.Kind, f.Width)
		}
		if f.Offset+f.Width > bits {
			return fmt.Errorf("layout %s: %s exceeds %d-byte record", l.Name, f.Kind, l.RecordSize)
		}
		if seen[f.Kind] {
			return fmt.Errorf("layout %s: %s declared twice", l.Name, f.Kind)
		}
		seen[f.Kind] = true
		for b := f.Offset; b < f.Offset+f.Width; b++ {
			if used[b] {
				return fmt.Errorf("layout %s: %s overlaps bit %d", l.Name, f.Kind, b)
			}
			used[b] = true
		}
	}
	if !seen[FieldModuleID] {
		return fmt.Errorf("layout %s: missing moduleId", l.Name)
	}
	return nil
}

// Has reports whether the layout carries the given field
func (l *Layout) Has(kind FieldKind) bool {
	for _, f := range l.Fields {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// value converts a raw field into its numeric value
func (f Field) value(raw uint64) float64 {
	var v float64
	if f.Signed {
		v = float64(signExtend(raw, f.Width))
	} else {
		v = float64(raw)
	}
	if f.Scale != 0 {
		// divide by the reciprocal so 1e-4 steps land on the nearest decimal
		v /= math.Round(1 / f.Scale)
	}
	return v
}

// raw converts a numeric value back to the field's bit pattern
func (f Field) raw(v float64) (uint64, error) {
	if f.Scale != 0 {
		v *= math.Round(1 / f.Scale)
	}
	n := int64(math.Round(v))

	if f.Signed {
		lo := -(int64(1) << (f.Width - 1))
		hi := int64(1)<<(f.Width-1) - 1
		if n < lo || n > hi {
			return 0, fmt.Errorf("%s value %v does not fit %d signed bits", f.Kind, v, f.Width)
		}
		return uint64(n) & (uint64(1)<<f.Width - 1), nil
	}

	if n < 0 || uint64(n) > uint64(1)<<f.Width-1 {
		return 0, fmt.Errorf("%s value %v does not fit %d bits", f.Kind, v, f.Width)
	}
	return uint64(n), nil
}
