package models

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gltrack/telemetry-server/pkg/glproto"
)

// EventType is the "type" discriminator of bus messages
type EventType string

const (
	EventTypeModuleData    EventType = "module_data"
	EventTypeCorruptedData EventType = "corrupted_data"
	EventTypeModuleUpdate  EventType = "module_update"
)

// ValidDataEvent is published on the valid channel for clean decodes
type ValidDataEvent struct {
	Type         EventType        `json:"type"`
	Data         ValidDataPayload `json:"data"`
	Provider     string           `json:"provider"`
	ConnectionID string           `json:"connectionId"`
	Timestamp    time.Time        `json:"timestamp"`
}

// ValidDataPayload carries the decoded sub-records
type ValidDataPayload struct {
	Packets      []glproto.SubRecord `json:"packets"`
	PacketNumber int64               `json:"packetNumber"`
}

// CorruptedDataEvent is published on the corrupted channel when a decode
// cycle produced any error
type CorruptedDataEvent struct {
	Type         EventType            `json:"type"`
	Data         CorruptedDataPayload `json:"data"`
	ErrorReason  string               `json:"errorReason"`
	Provider     string               `json:"provider"`
	ConnectionID string               `json:"connectionId"`
	Timestamp    time.Time            `json:"timestamp"`
}

// CorruptedDataPayload carries the raw frame and whatever was salvaged
type CorruptedDataPayload struct {
	RawHex        string              `json:"rawHex"`
	ParsedAttempt []glproto.SubRecord `json:"parsedAttempt"`
	Errors        []string            `json:"errors"`
	PacketNumber  int64               `json:"packetNumber"`
}

// ToCorruptedFrame converts the event into its persisted form
func (e *CorruptedDataEvent) ToCorruptedFrame() *CorruptedFrame {
	return &CorruptedFrame{
		ConnectionID:  e.ConnectionID,
		Provider:      e.Provider,
		PacketNumber:  e.Data.PacketNumber,
		RawHex:        e.Data.RawHex,
		ParsedAttempt: ToJSONText(e.Data.ParsedAttempt),
		Errors:        ToJSONText(e.Data.Errors),
		ErrorReason:   e.ErrorReason,
		ReceivedAt:    NewDBTime(e.Timestamp),
	}
}

// FrontendUpdate is republished for live viewers after a batch commits
type FrontendUpdate struct {
	Type      EventType    `json:"type"`
	Data      FrontendData `json:"data"`
	SessionID int64        `json:"sessionId"`
	Timestamp time.Time    `json:"timestamp"`
}

// FrontendData is the committed batch with its joined rows
type FrontendData struct {
	Rows         []*EnrichedData `json:"rows"`
	Provider     string          `json:"provider"`
	ConnectionID string          `json:"connectionId"`
	PacketNumber int64           `json:"packetNumber"`
	DBSaveTimeMs float64         `json:"dbSaveTimeMs"`
}

// DownlinkCommand asks the ingest server to write bytes to a provider
type DownlinkCommand struct {
	ConnectionID string `json:"connectionId"`
	Hex          string `json:"hex,omitempty"`
	Text         string `json:"text,omitempty"`
}

// ErrEmptyDownlink is returned when a command carries no payload
var ErrEmptyDownlink = errors.New("downlink has no payload")

// Payload returns the bytes to send. Hex takes precedence over text.
func (c DownlinkCommand) Payload() ([]byte, error) {
	if c.Hex != "" {
		clean := strings.NewReplacer(" ", "", ":", "").Replace(c.Hex)
		data, err := hex.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("decode hex payload: %w", err)
		}
		return data, nil
	}
	if c.Text != "" {
		return []byte(c.Text), nil
	}
	return nil, ErrEmptyDownlink
}
