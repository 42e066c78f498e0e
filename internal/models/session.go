package models

// Session groups readings over a time window. Hidden sessions are
// soft-deleted and never receive new data.
type Session struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Datetime    DBTime `json:"datetime" db:"datetime"`
	Hidden      bool   `json:"hidden" db:"hidden"`
	CreatedAt   DBTime `json:"createdAt" db:"created_at"`
}

// SessionStats summarizes the data of a session per module
type SessionStats struct {
	SessionID  int64         `json:"sessionId"`
	TotalRows  int64         `json:"totalRows"`
	ModuleRows []ModuleCount `json:"modules"`
	FirstSeen  *DBTime       `json:"firstSeen,omitempty"`
	LastSeen   *DBTime       `json:"lastSeen,omitempty"`
}

// ModuleCount is a row count for one module
type ModuleCount struct {
	ModuleID  int    `json:"moduleId"`
	ModuleHex string `json:"moduleHex"`
	Rows      int64  `json:"rows"`
}
