package glproto

import (
	"fmt"
)

// Encode packs a sub-record into the layout's bit table
func (l *Layout) Encode(rec SubRecord) ([]byte, error) {
	b := make([]byte, l.RecordSize)

	for _, f := range l.Fields {
		var v float64
		switch f.Kind {
		case FieldModuleID:
			v = float64(rec.ModuleID)
		case FieldPacketType:
			v = float64(rec.PacketType)
		case FieldLatitude:
			v = rec.Latitude
		case FieldLongitude:
			v = rec.Longitude
		case FieldAltitude:
			v = float64(rec.Altitude)
		case FieldSpeed:
			v = float64(rec.Speed)
		case FieldRateOfClimb:
			v = float64(rec.RateOfClimb)
		case FieldHopCount:
			v = float64(rec.HopCount)
		case FieldEmergency:
			if rec.Emergency != nil && *rec.Emergency {
				v = 1
			}
		case FieldMatchSignal:
			if rec.MatchSignal != nil && *rec.MatchSignal {
				v = 1
			}
		}

		raw, err := f.raw(v)
		if err != nil {
			return nil, fmt.Errorf("layout %s: %w", l.Name, err)
		}
		writeBits(b, f.Offset, f.Width, raw)
	}

	return b, nil
}

// EncodeFrame builds a complete frame: magic, count and packed records
func EncodeFrame(magic Magic, layout *Layout, records []SubRecord) ([]byte, error) {
	if layout == nil {
		layout = DefaultLayout
	}
	if len(records) > MaxRecords {
		return nil, fmt.Errorf("too many records: %d > %d", len(records), MaxRecords)
	}

	frame := make([]byte, 0, HeaderLen+len(records)*layout.RecordSize)
	frame = append(frame, magic[0], magic[1], byte(len(records)))

	for i, rec := range records {
		b, err := layout.Encode(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		frame = append(frame, b...)
	}

	return frame, nil
}
