package domain

import "time"

// HistoryEntry represents a record of an invocation for later inspection
type HistoryEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Target    string            `json:"target"`
	Method    string            `json:"method"`             // package.Service.Method
	Request   string            `json:"request"`            // JSON request body
	Response  string            `json:"response,omitempty"` // JSON response body
	Duration  time.Duration     `json:"duration"`
	Status    string            `json:"status"`               // "success" or "error"
	ErrorKind string            `json:"error_kind,omitempty"` // Failure kind name
	Error     string            `json:"error,omitempty"`
	Code      string            `json:"code,omitempty"` // gRPC status code name
	Metadata  map[string]string `json:"metadata,omitempty"`
}
