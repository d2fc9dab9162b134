package service

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pkg/errors"
	"github.com/resend/resend-go/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gabihodoroga/email-batch-tracker/model"
)

// ResendBatchLimit is the maximum number of emails per batch API call
const ResendBatchLimit = 100

// ResendProvider implements model.Provider with the Resend batch API
type ResendProvider struct {
	client *resend.Client
}

// NewResendProvider creates a provider. baseURL is optional and mainly used
// for testing.
func NewResendProvider(apiKey, baseURL string) (*ResendProvider, error) {
	client := resend.NewClient(apiKey)
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid resend base url %q", baseURL)
		}
		client.BaseURL = u
	}
	return &ResendProvider{client: client}, nil
}

// Send implements model.Provider. Messages are sent in chunks of
// ResendBatchLimit; a failed chunk marks all of its messages failed and the
// remaining chunks are still attempted.
func (p *ResendProvider) Send(ctx context.Context, messages []model.Message) ([]model.SendResult, error) {
	ctx, span := tracer.Start(ctx, "resend/send")
	defer span.End()

	results := make([]model.SendResult, len(messages))
	var errs error
	for start := 0; start < len(messages); start += ResendBatchLimit {
		end := start + ResendBatchLimit
		if end > len(messages) {
			end = len(messages)
		}
		if err := p.sendChunk(ctx, messages[start:end], results[start:end]); err != nil {
			chunkErr := errors.Wrapf(err, "resend batch %d-%d", start, end-1)
			for i := start; i < end; i++ {
				results[i] = model.SendResult{Err: chunkErr}
			}
			errs = multierr.Append(errs, chunkErr)
		}
	}
	return results, errs
}

func (p *ResendProvider) sendChunk(ctx context.Context, messages []model.Message, results []model.SendResult) error {
	params := make([]*resend.SendEmailRequest, len(messages))
	for i, m := range messages {
		params[i] = &resend.SendEmailRequest{
			From:    m.From,
			To:      []string{m.To},
			Subject: m.Subject,
			Html:    m.HTML,
			Text:    m.Text,
		}
	}

	resp, err := p.client.Batch.SendWithContext(ctx, params)
	if err != nil {
		return err
	}
	if len(resp.Data) != len(messages) {
		zap.L().Sugar().Warnf("resend: batch returned %d ids for %d emails", len(resp.Data), len(messages))
	}
	for i := range results {
		if i < len(resp.Data) && resp.Data[i].Id != "" {
			results[i] = model.SendResult{MessageID: resp.Data[i].Id}
		} else {
			results[i] = model.SendResult{Err: fmt.Errorf("no identifier returned for %s", messages[i].To)}
		}
	}
	return nil
}
