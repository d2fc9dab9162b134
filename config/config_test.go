package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"LOG_LEVEL", "PORT", "TRACE_SAMPLE", "RESEND_API_KEY", "RESEND_BASE_URL",
		"RESEND_WEBHOOK_SECRET", "DEFAULT_FROM", "PUBSUB_PROJECT", "PUBSUB_SUBSCRIPTION",
		"BIGQUERY_PROJECT", "BIGQUERY_DATASET", "BIGQUERY_TABLE",
	} {
		t.Setenv(k, "")
	}
}

func TestSetup(t *testing.T) {
	clearEnv(t)
	t.Setenv("RESEND_API_KEY", "re_test")
	t.Setenv("RESEND_WEBHOOK_SECRET", "whsec_abc")
	t.Setenv("PORT", "3000")

	require.NoError(t, Setup())
	cfg := GetConfig()
	assert.Equal(t, "re_test", cfg.ResendAPIKey)
	assert.Equal(t, "whsec_abc", cfg.WebhookSecret)
	assert.Equal(t, "3000", cfg.Port)
	assert.False(t, cfg.PubsubEnabled())
	assert.False(t, cfg.BigQueryEnabled())
}

func TestSetupRequiresAPIKey(t *testing.T) {
	clearEnv(t)
	assert.Error(t, Setup())
}

func TestSetupOptionalGroups(t *testing.T) {
	clearEnv(t)
	t.Setenv("RESEND_API_KEY", "re_test")
	t.Setenv("PUBSUB_SUBSCRIPTION", "events")
	assert.Error(t, Setup())

	t.Setenv("PUBSUB_PROJECT", "p")
	require.NoError(t, Setup())
	assert.True(t, GetConfig().PubsubEnabled())

	t.Setenv("BIGQUERY_TABLE", "events")
	assert.Error(t, Setup())

	t.Setenv("BIGQUERY_PROJECT", "p")
	t.Setenv("BIGQUERY_DATASET", "mail")
	require.NoError(t, Setup())
	assert.True(t, GetConfig().BigQueryEnabled())
}
