package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/gabihodoroga/email-batch-tracker/model"
)

var eventKinds = map[string]model.EventKind{
	"email.sent":       model.KindSent,
	"email.delivered":  model.KindDelivered,
	"email.bounced":    model.KindBounced,
	"email.complained": model.KindComplained,
}

type webhookEvent struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		EmailID string `json:"email_id"`
	} `json:"data"`
}

// DispatchResult describes an authenticated, parsed and resolved event
type DispatchResult struct {
	BatchID   string
	MessageID string
	Type      string
	Kind      model.EventKind
	// Applied is false for unrecognized types, duplicates and capped counters
	Applied bool
}

// WebhookDispatcher authenticates provider callbacks and applies them to the
// batch registry
type WebhookDispatcher struct {
	registry *BatchRegistry
	verifier model.SignatureVerifier
	sink     model.EventSink
	stats    model.DispatcherStats
}

// NewWebhookDispatcher creates a dispatcher. A nil verifier disables
// signature verification.
func NewWebhookDispatcher(registry *BatchRegistry, verifier model.SignatureVerifier, sink model.EventSink) *WebhookDispatcher {
	if verifier == nil {
		zap.L().Warn("webhook signature verification disabled: no secret configured, events are accepted unauthenticated")
	}
	if sink == nil {
		sink = NewEventSinkNop()
	}
	return &WebhookDispatcher{
		registry: registry,
		verifier: verifier,
		sink:     sink,
	}
}

// Dispatch handles one raw webhook delivery. Errors wrap one of
// model.ErrAuthenticationFailed, model.ErrMalformedPayload or model.ErrNotFound.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, payload []byte, headers http.Header) (*DispatchResult, error) {
	logger := zap.L().With(zap.Any("request_id", ctx.Value(model.ContextKey("request_id"))))
	ctx, span := tracer.Start(ctx, "webhook/dispatch")
	defer span.End()

	atomic.AddInt64(&d.stats.Received, 1)

	if d.verifier != nil {
		if err := d.verifier.Verify(payload, headers); err != nil {
			atomic.AddInt64(&d.stats.Rejected, 1)
			logger.Warn("dispatch: webhook signature rejected", zap.Error(err))
			return nil, errors.Wrap(model.ErrAuthenticationFailed, err.Error())
		}
	}

	event := &webhookEvent{}
	if err := json.Unmarshal(payload, event); err != nil {
		atomic.AddInt64(&d.stats.Rejected, 1)
		return nil, errors.Wrap(model.ErrMalformedPayload, err.Error())
	}
	if event.Data.EmailID == "" {
		atomic.AddInt64(&d.stats.Rejected, 1)
		return nil, errors.Wrap(model.ErrMalformedPayload, "data.email_id is missing")
	}
	span.SetAttributes(
		attribute.String("event.type", event.Type),
		attribute.String("event.email_id", event.Data.EmailID))

	batchID, err := d.registry.ResolveBatchByIdentifier(event.Data.EmailID)
	if err != nil {
		atomic.AddInt64(&d.stats.NotFound, 1)
		logger.Sugar().Infof("dispatch: no batch for email %s (%s)", event.Data.EmailID, event.Type)
		return nil, err
	}

	result := &DispatchResult{
		BatchID:   batchID,
		MessageID: event.Data.EmailID,
		Type:      event.Type,
		Kind:      eventKinds[event.Type],
	}
	result.Applied, err = d.registry.ApplyMessageEvent(batchID, event.Data.EmailID, result.Kind)
	if err != nil {
		atomic.AddInt64(&d.stats.NotFound, 1)
		return nil, err
	}
	if result.Applied {
		atomic.AddInt64(&d.stats.Applied, 1)
	} else {
		atomic.AddInt64(&d.stats.Ignored, 1)
	}
	logger.Sugar().Debugf("dispatch: %s for email %s in batch %s, applied=%t", event.Type, event.Data.EmailID, batchID, result.Applied)

	record := &model.EventRecord{
		BatchID:    batchID,
		MessageID:  event.Data.EmailID,
		Type:       event.Type,
		Kind:       string(result.Kind),
		ReceivedAt: time.Now().UTC(),
	}
	if err := d.sink.Save(ctx, []*model.EventRecord{record}); err != nil {
		logger.Error("dispatch: failed to archive event", zap.Error(err))
	}
	return result, nil
}

// Authenticated reports whether signature verification is enabled
func (d *WebhookDispatcher) Authenticated() bool {
	return d.verifier != nil
}

// Stats returns a snapshot of the dispatcher counters
func (d *WebhookDispatcher) Stats() model.DispatcherStats {
	return model.DispatcherStats{
		Received: atomic.LoadInt64(&d.stats.Received),
		Applied:  atomic.LoadInt64(&d.stats.Applied),
		Ignored:  atomic.LoadInt64(&d.stats.Ignored),
		NotFound: atomic.LoadInt64(&d.stats.NotFound),
		Rejected: atomic.LoadInt64(&d.stats.Rejected),
	}
}
