package service

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gabihodoroga/email-batch-tracker/model"
)

// SendRequest is one batch send: the same content to every recipient
type SendRequest struct {
	From       string
	Subject    string
	HTML       string
	Text       string
	Recipients []string
}

// BatchSender registers a batch, sends it through the provider and records
// the returned identifiers
type BatchSender struct {
	registry *BatchRegistry
	provider model.Provider
}

func NewBatchSender(registry *BatchRegistry, provider model.Provider) *BatchSender {
	return &BatchSender{registry: registry, provider: provider}
}

// SendBatch returns the batch id whenever a batch was created, including
// alongside a *model.ProviderError. The batch is never rolled back.
func (s *BatchSender) SendBatch(ctx context.Context, req SendRequest) (string, error) {
	logger := zap.L().With(zap.Any("request_id", ctx.Value(model.ContextKey("request_id"))))
	ctx, span := tracer.Start(ctx, "batch/send")
	defer span.End()

	if len(req.Recipients) == 0 {
		return "", errors.Wrap(model.ErrInvalidArgument, "recipients must not be empty")
	}
	if req.HTML == "" && req.Text == "" {
		return "", errors.Wrap(model.ErrInvalidArgument, "one of html or text is required")
	}

	batchID, err := s.registry.CreateBatch(len(req.Recipients))
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("batch.id", batchID), attribute.Int("batch.total", len(req.Recipients)))
	logger.Sugar().Infof("sendBatch: batch %s created for %d recipients", batchID, len(req.Recipients))

	messages := make([]model.Message, len(req.Recipients))
	for i, to := range req.Recipients {
		messages[i] = model.Message{From: req.From, To: to, Subject: req.Subject, HTML: req.HTML, Text: req.Text}
	}

	results, sendErr := s.provider.Send(ctx, messages)

	ids := make([]string, 0, len(results))
	var failed error
	for _, r := range results {
		if r.MessageID != "" {
			ids = append(ids, r.MessageID)
		} else if r.Err != nil {
			failed = multierr.Append(failed, r.Err)
		}
	}

	if len(ids) > 0 {
		if err := s.registry.RecordIdentifiers(batchID, ids); err != nil {
			logger.Error("sendBatch: failed to record identifiers", zap.String("batch_id", batchID), zap.Error(err))
			return batchID, err
		}
	}

	if sendErr == nil && failed == nil && len(ids) < len(messages) {
		failed = errors.Errorf("provider returned %d results for %d messages", len(results), len(messages))
	}
	if sendErr != nil || failed != nil {
		perr := &model.ProviderError{
			BatchID:  batchID,
			Total:    len(messages),
			Recorded: len(ids),
			Err:      firstNonNil(sendErr, failed),
		}
		logger.Error("sendBatch: provider call failed", zap.Error(perr))
		return batchID, perr
	}

	logger.Sugar().Infof("sendBatch: batch %s sent, %d identifiers recorded", batchID, len(ids))
	return batchID, nil
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
