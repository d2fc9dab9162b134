package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabihodoroga/email-batch-tracker/model"
)

type resendStub struct {
	mu       sync.Mutex
	requests [][]map[string]interface{}
	failCall int
}

func (s *resendStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var emails []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&emails); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.requests = append(s.requests, emails)
	call := len(s.requests)

	w.Header().Set("Content-Type", "application/json")
	if call == s.failCall {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"statusCode":500,"name":"internal_server_error","message":"boom"}`))
		return
	}
	data := make([]map[string]string, len(emails))
	for i := range emails {
		data[i] = map[string]string{"id": fmt.Sprintf("c%d-%d", call, i)}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func messages(n int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		out[i] = model.Message{From: "noreply@example.com", To: fmt.Sprintf("u%d@example.com", i), Subject: "s", HTML: "<p>x</p>"}
	}
	return out
}

func TestResendProviderChunks(t *testing.T) {
	stub := &resendStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	p, err := NewResendProvider("re_test", srv.URL+"/")
	require.NoError(t, err)

	results, err := p.Send(context.Background(), messages(ResendBatchLimit+5))
	require.NoError(t, err)
	require.Len(t, results, ResendBatchLimit+5)
	require.Len(t, stub.requests, 2)
	assert.Len(t, stub.requests[0], ResendBatchLimit)
	assert.Len(t, stub.requests[1], 5)
	assert.Equal(t, "c1-0", results[0].MessageID)
	assert.Equal(t, "c2-4", results[ResendBatchLimit+4].MessageID)
	assert.Equal(t, []interface{}{"u0@example.com"}, stub.requests[0][0]["to"])
}

func TestResendProviderFailedChunk(t *testing.T) {
	stub := &resendStub{failCall: 1}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	p, err := NewResendProvider("re_test", srv.URL+"/")
	require.NoError(t, err)

	results, err := p.Send(context.Background(), messages(ResendBatchLimit+1))
	require.Error(t, err)
	require.Len(t, results, ResendBatchLimit+1)
	for _, r := range results[:ResendBatchLimit] {
		assert.Empty(t, r.MessageID)
		assert.Error(t, r.Err)
	}
	assert.Equal(t, "c2-0", results[ResendBatchLimit].MessageID)
}

func TestResendProviderTextOnly(t *testing.T) {
	stub := &resendStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	p, err := NewResendProvider("re_test", srv.URL+"/")
	require.NoError(t, err)

	results, err := p.Send(context.Background(), []model.Message{
		{From: "noreply@example.com", To: "a@example.com", Subject: "s", Text: "plain body"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1-0", results[0].MessageID)

	require.Len(t, stub.requests, 1)
	sent := stub.requests[0][0]
	assert.Equal(t, "plain body", sent["text"])
	assert.NotContains(t, sent, "html")
}
