package model

import (
	"context"
	"net/http"
	"time"
)

// ContextKey is a string that can be stored in the context
type ContextKey string

// EventKind is a recognized delivery transition
type EventKind string

const (
	KindSent       EventKind = "sent"
	KindDelivered  EventKind = "delivered"
	KindBounced    EventKind = "bounced"
	KindComplained EventKind = "complained"
)

// Progress is a read-only snapshot of a batch's counters
type Progress struct {
	Total           int
	SentCount       int
	DeliveredCount  int
	BouncedCount    int
	ComplainedCount int
}

// Message is one outbound message descriptor handed to the provider. At
// least one of HTML and Text is set.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// SendResult is the provider outcome for one message. Exactly one of
// MessageID and Err is set.
type SendResult struct {
	MessageID string
	Err       error
}

// Provider is the abstraction of the outbound transactional email service
type Provider interface {
	// Send returns one result per message, in input order. A non-nil error
	// means the call as a whole failed and the outcome of messages without a
	// MessageID is unknown.
	Send(ctx context.Context, messages []Message) ([]SendResult, error)
}

// SignatureVerifier authenticates a raw webhook payload
type SignatureVerifier interface {
	Verify(payload []byte, headers http.Header) error
}

// EventHandler is the abstraction the events processor
type EventHandler interface {
	Start(ctx context.Context) error
	Stats(ctx context.Context) (HandlerStats, error)
}

// HandlerStats is the model for reporting the event processing statistics
type HandlerStats struct {
	Received int64 `json:"received"`
	Success  int64 `json:"success"`
	// NotFound counts events acknowledged without a matching batch
	NotFound int64 `json:"notFound"`
	Errors   int64 `json:"error"`
}

// DispatcherStats counts webhook outcomes
type DispatcherStats struct {
	Received int64 `json:"received"`
	Applied  int64 `json:"applied"`
	Ignored  int64 `json:"ignored"`
	NotFound int64 `json:"notFound"`
	Rejected int64 `json:"rejected"`
}

// EventRecord is an authenticated delivery event resolved to a batch
type EventRecord struct {
	BatchID    string    `bigquery:"batch_id"`
	MessageID  string    `bigquery:"message_id"`
	Type       string    `bigquery:"type"`
	Kind       string    `bigquery:"kind"`
	ReceivedAt time.Time `bigquery:"received_at"`
}

// EventSink is the abstraction of the event destination
type EventSink interface {
	Save(ctx context.Context, events []*EventRecord) error
}

// Valid reports whether k is one of the recognized kinds
func (k EventKind) Valid() bool {
	switch k {
	case KindSent, KindDelivered, KindBounced, KindComplained:
		return true
	}
	return false
}
