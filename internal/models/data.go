package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// MessageType labels the kind of reading
type MessageType int

const (
	MessageTypeMesh     MessageType = 0
	MessageTypeSim      MessageType = 1
	MessageTypeMeshSim  MessageType = 2
	MessageTypeReserved MessageType = 3
)

// MessageTypeNames seeds the message_type table
var MessageTypeNames = map[MessageType]string{
	MessageTypeMesh:     "Mesh",
	MessageTypeSim:      "Sim",
	MessageTypeMeshSim:  "Mesh / Sim",
	MessageTypeReserved: "Reserved",
}

// Data is one persisted telemetry row. Rows are insert-only.
type Data struct {
	ID            int64           `json:"id" db:"id"`
	ModuleID      int             `json:"moduleId" db:"id_module"`
	SessionID     int64           `json:"sessionId" db:"id_session"`
	MessageTypeID MessageType     `json:"messageTypeId" db:"id_message_type"`
	Datetime      DBTime          `json:"datetime" db:"datetime"`
	DatetimeUnix  int64           `json:"datetimeUnix" db:"datetime_unix"`
	Lat           sql.NullFloat64 `json:"-" db:"lat"`
	Lon           sql.NullFloat64 `json:"-" db:"lon"`
	Alt           sql.NullFloat64 `json:"-" db:"alt"`
	GPSOk         bool            `json:"gpsOk" db:"gps_ok"`
	MessageNumber int             `json:"messageNumber" db:"message_number"`
	RSSI          sql.NullInt64   `json:"-" db:"rssi"`
	SNR           sql.NullInt64   `json:"-" db:"snr"`
	Source        sql.NullInt64   `json:"-" db:"source"`
	Jumps         sql.NullInt64   `json:"-" db:"jumps"`
	CreatedAt     DBTime          `json:"createdAt" db:"created_at"`
}

// SetPosition stores the GPS triple. A fix with a zero latitude or
// longitude is treated as no fix and nulls all three columns.
func (d *Data) SetPosition(lat, lon, alt float64) {
	d.GPSOk = lat != 0 && lon != 0
	if !d.GPSOk {
		d.Lat, d.Lon, d.Alt = sql.NullFloat64{}, sql.NullFloat64{}, sql.NullFloat64{}
		return
	}
	d.Lat = sql.NullFloat64{Float64: lat, Valid: true}
	d.Lon = sql.NullFloat64{Float64: lon, Valid: true}
	d.Alt = sql.NullFloat64{Float64: alt, Valid: true}
}

// SetTime fills both the timestamp and its unix form
func (d *Data) SetTime(t time.Time) {
	d.Datetime = NewDBTime(t)
	d.DatetimeUnix = t.Unix()
}

// Coords is the JSON form of a GPS fix
type Coords struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
	Alt *float64 `json:"alt"`
}

// EnrichedData is a Data row joined with its module, session and message type
type EnrichedData struct {
	Data
	ModuleName      string `json:"moduleName"`
	ModuleColor     string `json:"moduleColor"`
	SessionName     string `json:"sessionName"`
	MessageTypeName string `json:"messageTypeName"`
}

// MarshalJSON renders the module id in hex and flattens nullable columns
func (e EnrichedData) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID              int64       `json:"id"`
		ModuleID        string      `json:"idModule"`
		ModuleName      string      `json:"moduleName"`
		ModuleColor     string      `json:"moduleColor"`
		SessionID       int64       `json:"sessionId"`
		SessionName     string      `json:"sessionName"`
		MessageTypeID   MessageType `json:"messageType"`
		MessageTypeName string      `json:"messageTypeName"`
		Datetime        DBTime      `json:"datetime"`
		DatetimeUnix    int64       `json:"datetimeUnix"`
		Coords          Coords      `json:"coords"`
		GPSOk           bool        `json:"gpsOk"`
		MessageNumber   int         `json:"messageNumber"`
		RSSI            *int64      `json:"rssi"`
		SNR             *int64      `json:"snr"`
		Source          *int64      `json:"source"`
		Jumps           *int64      `json:"jumps"`
		CreatedAt       DBTime      `json:"createdAt"`
	}{
		ID:              e.ID,
		ModuleID:        ModuleHex(e.ModuleID),
		ModuleName:      e.ModuleName,
		ModuleColor:     e.ModuleColor,
		SessionID:       e.SessionID,
		SessionName:     e.SessionName,
		MessageTypeID:   e.MessageTypeID,
		MessageTypeName: e.MessageTypeName,
		Datetime:        e.Datetime,
		DatetimeUnix:    e.DatetimeUnix,
		Coords: Coords{
			Lat: nullFloat(e.Lat),
			Lon: nullFloat(e.Lon),
			Alt: nullFloat(e.Alt),
		},
		GPSOk:         e.GPSOk,
		MessageNumber: e.MessageNumber,
		RSSI:          nullInt(e.RSSI),
		SNR:           nullInt(e.SNR),
		Source:        nullInt(e.Source),
		Jumps:         nullInt(e.Jumps),
		CreatedAt:     e.CreatedAt,
	})
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

// CorruptedFrame is a forensic copy of a frame that failed to decode cleanly
type CorruptedFrame struct {
	ID            int64    `json:"id" db:"id"`
	ConnectionID  string   `json:"connectionId" db:"connection_id"`
	Provider      string   `json:"provider" db:"provider"`
	PacketNumber  int64    `json:"packetNumber" db:"packet_number"`
	RawHex        string   `json:"rawHex" db:"raw_hex"`
	ParsedAttempt JSONText `json:"parsedAttempt" db:"parsed_attempt"`
	Errors        JSONText `json:"errors" db:"errors"`
	ErrorReason   string   `json:"errorReason" db:"error_reason"`
	ReceivedAt    DBTime   `json:"receivedAt" db:"received_at"`
}
