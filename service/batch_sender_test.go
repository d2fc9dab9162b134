package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabihodoroga/email-batch-tracker/model"
)

type fakeProvider struct {
	calls   [][]model.Message
	results func(messages []model.Message) ([]model.SendResult, error)
}

func (p *fakeProvider) Send(_ context.Context, messages []model.Message) ([]model.SendResult, error) {
	p.calls = append(p.calls, messages)
	return p.results(messages)
}

func okResults(messages []model.Message) ([]model.SendResult, error) {
	results := make([]model.SendResult, len(messages))
	for i, m := range messages {
		results[i] = model.SendResult{MessageID: "id-" + m.To}
	}
	return results, nil
}

func TestSendBatch(t *testing.T) {
	registry := NewBatchRegistry()
	provider := &fakeProvider{results: okResults}
	sender := NewBatchSender(registry, provider)

	batchID, err := sender.SendBatch(context.Background(), SendRequest{
		From:       "noreply@example.com",
		Subject:    "hi",
		HTML:       "<p>hi</p>",
		Recipients: []string{"a@example.com", "b@example.com"},
	})
	require.NoError(t, err)

	require.Len(t, provider.calls, 1)
	assert.Equal(t, model.Message{From: "noreply@example.com", To: "b@example.com", Subject: "hi", HTML: "<p>hi</p>"}, provider.calls[0][1])

	p, err := registry.GetProgress(batchID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Total)

	owner, err := registry.ResolveBatchByIdentifier("id-a@example.com")
	require.NoError(t, err)
	assert.Equal(t, batchID, owner)
}

func TestSendBatchEmptyRecipients(t *testing.T) {
	provider := &fakeProvider{results: okResults}
	_, err := NewBatchSender(NewBatchRegistry(), provider).SendBatch(context.Background(), SendRequest{From: "a@example.com", HTML: "<p>x</p>"})
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	assert.Empty(t, provider.calls)
}

func TestSendBatchRequiresBody(t *testing.T) {
	provider := &fakeProvider{results: okResults}
	_, err := NewBatchSender(NewBatchRegistry(), provider).SendBatch(context.Background(), SendRequest{
		From:       "a@example.com",
		Recipients: []string{"b@example.com"},
	})
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	assert.Empty(t, provider.calls)
}

func TestSendBatchPartialFailureKeepsBatch(t *testing.T) {
	registry := NewBatchRegistry()
	provider := &fakeProvider{results: func(messages []model.Message) ([]model.SendResult, error) {
		return []model.SendResult{
			{MessageID: "m1"},
			{Err: fmt.Errorf("rejected %s", messages[1].To)},
		}, nil
	}}

	batchID, err := NewBatchSender(registry, provider).SendBatch(context.Background(), SendRequest{
		From:       "noreply@example.com",
		Text:       "hi",
		Recipients: []string{"a@example.com", "b@example.com"},
	})
	require.Error(t, err)
	require.NotEmpty(t, batchID)

	var perr *model.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, batchID, perr.BatchID)
	assert.Equal(t, 1, perr.Recorded)
	assert.Equal(t, 2, perr.Total)

	ids, err := registry.Identifiers(batchID)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
}

func TestSendBatchTotalFailureKeepsBatch(t *testing.T) {
	registry := NewBatchRegistry()
	provider := &fakeProvider{results: func([]model.Message) ([]model.SendResult, error) {
		return nil, errors.New("connection reset")
	}}

	batchID, err := NewBatchSender(registry, provider).SendBatch(context.Background(), SendRequest{
		From:       "noreply@example.com",
		Text:       "hi",
		Recipients: []string{"a@example.com"},
	})
	var perr *model.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Zero(t, perr.Recorded)

	p, err := registry.GetProgress(batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Total)
}

func TestSendBatchConflictingIdentifier(t *testing.T) {
	registry := NewBatchRegistry()
	provider := &fakeProvider{results: func([]model.Message) ([]model.SendResult, error) {
		return []model.SendResult{{MessageID: "dup"}}, nil
	}}
	sender := NewBatchSender(registry, provider)

	req := SendRequest{From: "noreply@example.com", Text: "hi", Recipients: []string{"a@example.com"}}
	first, err := sender.SendBatch(context.Background(), req)
	require.NoError(t, err)

	second, err := sender.SendBatch(context.Background(), req)
	assert.True(t, errors.Is(err, model.ErrConflictingIdentifier))
	assert.NotEqual(t, first, second)

	owner, _ := registry.ResolveBatchByIdentifier("dup")
	assert.Equal(t, first, owner)
}
