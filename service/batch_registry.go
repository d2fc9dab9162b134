package service

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gabihodoroga/email-batch-tracker/model"
)

type batch struct {
	mu       sync.Mutex
	id       string
	total    int
	counts   map[model.EventKind]int
	messages map[string]map[model.EventKind]bool
}

// increment bumps the counter for kind, capped at total. Callers hold b.mu.
func (b *batch) increment(kind model.EventKind) bool {
	if b.counts[kind] >= b.total {
		zap.L().Sugar().Warnf("batch %s: %s counter already at total %d, event dropped", b.id, kind, b.total)
		return false
	}
	b.counts[kind]++
	return true
}

// BatchRegistry is the in-memory source of truth for batches, identifier
// ownership and delivery counters. The identifier index is guarded by the
// registry lock; counters are guarded by each batch's own lock.
type BatchRegistry struct {
	mu      sync.RWMutex
	batches map[string]*batch
	index   map[string]string
}

func NewBatchRegistry() *BatchRegistry {
	return &BatchRegistry{
		batches: make(map[string]*batch),
		index:   make(map[string]string),
	}
}

// CreateBatch allocates a new batch expecting total messages
func (r *BatchRegistry) CreateBatch(total int) (string, error) {
	if total <= 0 {
		return "", errors.Wrapf(model.ErrInvalidArgument, "batch total must be positive, got %d", total)
	}
	b := &batch{
		id:       uuid.NewString(),
		total:    total,
		counts:   make(map[model.EventKind]int),
		messages: make(map[string]map[model.EventKind]bool),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.batches[b.id] != nil {
		b.id = uuid.NewString()
	}
	r.batches[b.id] = b
	return b.id, nil
}

// RecordIdentifiers assigns provider identifiers to a batch. Either all
// identifiers are recorded or, on conflict, none are.
func (r *BatchRegistry) RecordIdentifiers(batchID string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[batchID]
	if !ok {
		return errors.Wrapf(model.ErrNotFound, "batch %s", batchID)
	}
	for _, id := range ids {
		if id == "" {
			return errors.Wrap(model.ErrInvalidArgument, "empty provider identifier")
		}
		if owner, ok := r.index[id]; ok && owner != batchID {
			zap.L().Error("identifier already owned by another batch",
				zap.String("message_id", id),
				zap.String("owner", owner),
				zap.String("batch_id", batchID))
			return errors.Wrapf(model.ErrConflictingIdentifier, "identifier %s owned by batch %s", id, owner)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		r.index[id] = batchID
		if _, ok := b.messages[id]; !ok {
			b.messages[id] = make(map[model.EventKind]bool)
		}
	}
	return nil
}

// ResolveBatchByIdentifier returns the batch owning a provider identifier
func (r *BatchRegistry) ResolveBatchByIdentifier(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batchID, ok := r.index[id]
	if !ok {
		return "", errors.Wrapf(model.ErrNotFound, "identifier %s", id)
	}
	return batchID, nil
}

func (r *BatchRegistry) get(batchID string) (*batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[batchID]
	if !ok {
		return nil, errors.Wrapf(model.ErrNotFound, "batch %s", batchID)
	}
	return b, nil
}

// ApplyEvent increments the counter for kind. Unrecognized kinds are a
// no-op. The returned bool reports whether a counter changed.
func (r *BatchRegistry) ApplyEvent(batchID string, kind model.EventKind) (bool, error) {
	b, err := r.get(batchID)
	if err != nil {
		return false, err
	}
	if !kind.Valid() {
		zap.L().Sugar().Debugf("batch %s: unrecognized event kind %q ignored", batchID, kind)
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.increment(kind), nil
}

// ApplyMessageEvent is ApplyEvent deduplicated per (identifier, kind): a
// redelivered event for the same message never counts twice.
func (r *BatchRegistry) ApplyMessageEvent(batchID, messageID string, kind model.EventKind) (bool, error) {
	b, err := r.get(batchID)
	if err != nil {
		return false, err
	}
	if !kind.Valid() {
		zap.L().Sugar().Debugf("batch %s: unrecognized event kind %q ignored", batchID, kind)
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	seen, ok := b.messages[messageID]
	if !ok {
		return false, errors.Wrapf(model.ErrNotFound, "identifier %s in batch %s", messageID, batchID)
	}
	if seen[kind] {
		return false, nil
	}
	if !b.increment(kind) {
		return false, nil
	}
	seen[kind] = true
	return true, nil
}

// GetProgress returns a snapshot of the batch counters
func (r *BatchRegistry) GetProgress(batchID string) (model.Progress, error) {
	b, err := r.get(batchID)
	if err != nil {
		return model.Progress{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return model.Progress{
		Total:           b.total,
		SentCount:       b.counts[model.KindSent],
		DeliveredCount:  b.counts[model.KindDelivered],
		BouncedCount:    b.counts[model.KindBounced],
		ComplainedCount: b.counts[model.KindComplained],
	}, nil
}

// Identifiers returns the provider identifiers recorded for a batch
func (r *BatchRegistry) Identifiers(batchID string) ([]string, error) {
	b, err := r.get(batchID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.messages))
	for id := range b.messages {
		ids = append(ids, id)
	}
	return ids, nil
}
