package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookSend(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, zap.NewNop().Sugar())
	err := n.Send(context.Background(), "ops", "backup failed twice")
	require.NoError(t, err)

	assert.Equal(t, "ops", got.Target)
	assert.Equal(t, "backup failed twice", got.Message)
	assert.NotEmpty(t, got.SentAt)
}

func TestWebhookSendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, zap.NewNop().Sugar())
	err := n.Send(context.Background(), "ops", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	n := NewWebhook(srv.URL, zap.NewNop().Sugar())
	assert.Error(t, n.Send(context.Background(), "ops", "hello"))
}
