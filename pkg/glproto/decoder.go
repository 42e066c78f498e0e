package glproto

import (
	"fmt"
)

// Decoder unpacks frames using a fixed magic and layout. It holds no
// mutable state and is safe for concurrent use.
type Decoder struct {
	magic  Magic
	layout *Layout
}

// NewDecoder creates a decoder. A nil layout selects DefaultLayout.
func NewDecoder(magic Magic, layout *Layout) *Decoder {
	if layout == nil {
		layout = DefaultLayout
	}
	return &Decoder{magic: magic, layout: layout}
}

// Magic returns the expected frame header
func (d *Decoder) Magic() Magic {
	return d.magic
}

// Layout returns the sub-record layout
func (d *Decoder) Layout() *Layout {
	return d.layout
}

// FrameSize returns the full frame length for a declared record count
func (d *Decoder) FrameSize(count int) int {
	return HeaderLen + count*d.layout.RecordSize
}

// Decode unpacks a frame. It never fails: problems are reported in
// DecodeResult.Errors next to whatever records could be salvaged.
func (d *Decoder) Decode(data []byte) *DecodeResult {
	result := &DecodeResult{
		Records: make([]SubRecord, 0),
		Errors:  make([]string, 0),
	}

	if len(data) < HeaderLen {
		result.addError("data too short: %d bytes, need at least %d", len(data), HeaderLen)
		return result
	}

	copy(result.Header[:], data[:MagicLen])
	if result.Header != d.magic {
		result.addError("invalid header: got %q, want %q", result.Header.String(), d.magic.String())
	}

	declared := int(data[MagicLen])
	result.DeclaredCount = declared

	payload := data[HeaderLen:]
	size := d.layout.RecordSize
	available := len(payload) / size

	count := declared
	if available < declared {
		count = available
		result.addError("truncated frame: declared %d records, only %d available (%d payload bytes, record size %d)",
			declared, available, len(payload), size)
	}

	for i := 0; i < count; i++ {
		rec, err := d.layout.decodeRecord(payload[i*size : (i+1)*size])
		if err != nil {
			result.addError("record %d: %v", i, err)
			continue
		}
		result.Records = append(result.Records, rec)
	}

	return result
}

// decodeRecord unpacks a single sub-record of exactly RecordSize bytes
func (l *Layout) decodeRecord(b []byte) (SubRecord, error) {
	var rec SubRecord
	if len(b) != l.RecordSize {
		return rec, fmt.Errorf("record is %d bytes, want %d", len(b), l.RecordSize)
	}

	for _, f := range l.Fields {
		raw := readBits(b, f.Offset, f.Width)

		switch f.Kind {
		case FieldModuleID:
			rec.ModuleID = uint8(raw)
		case FieldPacketType:
			rec.PacketType = uint8(raw)
		case FieldLatitude:
			rec.Latitude = f.value(raw)
		case FieldLongitude:
			rec.Longitude = f.value(raw)
		case FieldAltitude:
			rec.Altitude = uint32(raw)
		case FieldSpeed:
			rec.Speed = uint32(raw)
		case FieldRateOfClimb:
			rec.RateOfClimb = uint32(raw)
		case FieldHopCount:
			rec.HopCount = uint32(raw)
		case FieldEmergency:
			flag := raw != 0
			rec.Emergency = &flag
		case FieldMatchSignal:
			flag := raw != 0
			rec.MatchSignal = &flag
		}
	}

	if rec.Latitude < -90 || rec.Latitude > 90 {
		return rec, fmt.Errorf("latitude %.4f out of range", rec.Latitude)
	}
	if rec.Longitude < -180 || rec.Longitude > 180 {
		return rec, fmt.Errorf("longitude %.4f out of range", rec.Longitude)
	}

	return rec, nil
}
