package glproto

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maxValue(l *Layout, kind FieldKind) uint64 {
	for _, f := range l.Fields {
		if f.Kind == kind {
			return uint64(1)<<f.Width - 1
		}
	}
	return 0
}

func randomRecord(r *rand.Rand, l *Layout) SubRecord {
	coord := func(limit float64) float64 {
		return math.Round((r.Float64()*2*limit-limit)*1e4) / 1e4
	}
	rec := SubRecord{
		ModuleID:    uint8(r.Intn(256)),
		PacketType:  uint8(r.Int63n(int64(maxValue(l, FieldPacketType)) + 1)),
		Latitude:    coord(90),
		Longitude:   coord(180),
		Altitude:    uint32(r.Int63n(int64(maxValue(l, FieldAltitude)) + 1)),
		Speed:       uint32(r.Int63n(int64(maxValue(l, FieldSpeed)) + 1)),
		RateOfClimb: uint32(r.Int63n(int64(maxValue(l, FieldRateOfClimb)) + 1)),
		HopCount:    uint32(r.Int63n(int64(maxValue(l, FieldHopCount)) + 1)),
	}
	if l.Has(FieldEmergency) {
		v := r.Intn(2) == 1
		rec.Emergency = &v
	}
	if l.Has(FieldMatchSignal) {
		v := r.Intn(2) == 1
		rec.MatchSignal = &v
	}
	return rec
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for _, name := range LayoutNames() {
		layout, err := LayoutByName(name)
		require.NoError(t, err)

		t.Run(name, func(t *testing.T) {
			dec := NewDecoder(DefaultMagic, layout)
			for i := 0; i < 200; i++ {
				rec := randomRecord(r, layout)

				frame, err := EncodeFrame(DefaultMagic, layout, []SubRecord{rec})
				require.NoError(t, err)

				result := dec.Decode(frame)
				require.Empty(t, result.Errors)
				require.Len(t, result.Records, 1)
				got := result.Records[0]

				assert.Equal(t, rec.ModuleID, got.ModuleID)
				assert.Equal(t, rec.PacketType, got.PacketType)
				assert.InDelta(t, rec.Latitude, got.Latitude, CoordScale)
				assert.InDelta(t, rec.Longitude, got.Longitude, CoordScale)
				assert.Equal(t, rec.Altitude, got.Altitude)
				assert.Equal(t, rec.Speed, got.Speed)
				assert.Equal(t, rec.RateOfClimb, got.RateOfClimb)
				assert.Equal(t, rec.HopCount, got.HopCount)
				assert.Equal(t, rec.Emergency, got.Emergency)
				assert.Equal(t, rec.MatchSignal, got.MatchSignal)
			}
		})
	}
}

func TestEncode_RejectsOverflow(t *testing.T) {
	_, err := LayoutV2.Encode(SubRecord{ModuleID: 1, Speed: 64})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speed")

	_, err = LayoutV1.Encode(SubRecord{ModuleID: 1, Altitude: 2048})
	require.Error(t, err)

	_, err = LayoutV2.Encode(SubRecord{ModuleID: 1, Latitude: -210})
	require.Error(t, err)
}

func TestEncodeFrame_TooManyRecords(t *testing.T) {
	_, err := EncodeFrame(DefaultMagic, nil, make([]SubRecord, MaxRecords+1))
	assert.Error(t, err)
}

func TestEncodeFrame_Header(t *testing.T) {
	frame, err := EncodeFrame(DefaultMagic, LayoutV3, make([]SubRecord, 3))
	require.NoError(t, err)

	assert.Equal(t, []byte{'G', 'L', 3}, frame[:HeaderLen])
	assert.Len(t, frame, HeaderLen+3*11)
}
