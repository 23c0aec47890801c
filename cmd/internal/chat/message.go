package chat

import (
	"encoding/json"
	"time"
)

// Kind classifies a stored message record.
type Kind string

const (
	KindText   Kind = "text"
	KindMedia  Kind = "media"
	KindStatus Kind = "status-update"
)

// NormalizeKind maps free-form external type strings onto the stored kinds.
// Empty means text; the WhatsApp payload types (image, video, audio,
// document, sticker, ...) all collapse to media.
func NormalizeKind(s string) Kind {
	switch s {
	case "", "text":
		return KindText
	case "status", "status-update":
		return KindStatus
	default:
		return KindMedia
	}
}

// Message is the atomic stored unit. A conversation is derived: it is the
// set of all messages sharing one WaID and has no record of its own.
type Message struct {
	ID          string          `json:"id"`
	WaID        string          `json:"wa_id"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Body        string          `json:"body"`
	Kind        Kind            `json:"kind"`
	MediaURL    string          `json:"media_url,omitempty"`
	MediaType   string          `json:"media_type,omitempty"`
	Seq         int64           `json:"seq"`
	Status      Status          `json:"status"`
	Unread      bool            `json:"unread"`
	IsGroup     bool            `json:"is_group,omitempty"`
	ContactName string          `json:"contact_name,omitempty"`
	Origin      json.RawMessage `json:"origin,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`

	// StoreSeq is the store-wide insertion counter. It breaks ordering ties
	// across threads in the summary projection and is not part of the wire
	// representation.
	StoreSeq int64 `json:"-"`
}

// AppendInput describes a message append request. Zero Status means sent;
// zero Kind means text; zero Now means the store clock.
type AppendInput struct {
	WaID        string
	From        string
	To          string
	Body        string
	Kind        Kind
	MediaURL    string
	MediaType   string
	Status      Status
	IsGroup     bool
	ContactName string
	Origin      json.RawMessage
	Now         time.Time
}

// Summary is one row of the conversation list projection: the most recent
// message and a count per thread, computed as a grouped reduction over the
// message set rather than maintained as a separate mutable index.
type Summary struct {
	WaID     string    `json:"wa_id"`
	LastBody string    `json:"last_message"`
	LastAt   time.Time `json:"last_at"`
	Count    int64     `json:"count"`
}
