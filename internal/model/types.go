package model

import (
	"encoding/json"
	"time"
)

// Message is the canonical email entity, keyed by the provider message id.
// The ingest engine is the only writer; the tool layer reads only.
type Message struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"threadId,omitempty"`
	FromName   string    `json:"fromName"`
	FromEmail  string    `json:"fromEmail"`
	ToName     string    `json:"toName"`
	ToEmail    string    `json:"toEmail"`
	Subject    string    `json:"subject"`
	BodyText   string    `json:"bodyText"`
	Snippet    string    `json:"snippet,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageSummary is the compact shape returned to the reasoning service.
type MessageSummary struct {
	ID          string  `json:"id"`
	Subject     string  `json:"subject"`
	FromName    string  `json:"fromName"`
	FromEmail   string  `json:"fromEmail"`
	Date        string  `json:"date"`
	BodyPreview string  `json:"bodyPreview"`
	Score       float64 `json:"score,omitempty"`
}

// SearchHit is a semantic index result.
type SearchHit struct {
	MessageID  string    `json:"messageId"`
	Subject    string    `json:"subject"`
	FromName   string    `json:"fromName"`
	FromEmail  string    `json:"fromEmail"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"receivedAt"`
	Score      float64   `json:"score"`
}

// ToolCall is a reasoning-service-issued request for one tool invocation.
// CallID correlates the result back within the same turn; TurnID makes
// stale results detectable after a barge-in.
type ToolCall struct {
	CallID    string          `json:"callId"`
	TurnID    string          `json:"turnId,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultStatus enumerates tool outcome states.
type ToolResultStatus string

const (
	ToolStatusOK    ToolResultStatus = "ok"
	ToolStatusError ToolResultStatus = "error"
)

// ToolResult answers exactly one ToolCall.
type ToolResult struct {
	CallID  string           `json:"callId"`
	Status  ToolResultStatus `json:"status"`
	Payload string           `json:"payload"`
}

// DeliveryReceipt acknowledges an outbound send.
type DeliveryReceipt struct {
	MessageID string    `json:"messageId"`
	Transport string    `json:"transport"`
	SentAt    time.Time `json:"sentAt"`
}

// IngestBatch summarises one ingest run. It is logged, not persisted.
type IngestBatch struct {
	RequestedCount int      `json:"requestedCount"`
	FetchedIDs     []string `json:"fetchedIds"`
	NewCount       int      `json:"newCount"`
	DuplicateCount int      `json:"duplicateCount"`
	BackfilledIDs  []string `json:"backfilledIds,omitempty"`
	FailedIDs      []string `json:"failedIds,omitempty"`
}
