package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

var config *Config

// Config hold entire app configuration seetings. All value are read from environment variables
type Config struct {
	Port               string
	LogLevel           string
	TraceSample        string
	ResendAPIKey       string
	ResendBaseURL      string
	WebhookSecret      string
	DefaultFrom        string
	PubsubProject      string
	PubSubSubscription string
	BigQueryProject    string
	BigQueryDataset    string
	BigQueryTable      string
}

// PubsubEnabled reports whether the Pub/Sub event ingress is configured
func (c *Config) PubsubEnabled() bool {
	return c.PubSubSubscription != ""
}

// BigQueryEnabled reports whether the BigQuery event archive is configured
func (c *Config) BigQueryEnabled() bool {
	return c.BigQueryTable != ""
}

// Setup read all the environment variables and validate the configuration.
// A .env file in the working directory is loaded first when present; real
// environment variables take precedence.
func Setup() error {
	_ = godotenv.Load()

	config = &Config{}

	config.LogLevel = os.Getenv("LOG_LEVEL")
	config.Port = os.Getenv("PORT")
	config.TraceSample = os.Getenv("TRACE_SAMPLE")
	config.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	if config.ResendAPIKey == "" {
		return errors.New("RESEND_API_KEY environment variable is required")
	}
	config.ResendBaseURL = os.Getenv("RESEND_BASE_URL")
	config.WebhookSecret = os.Getenv("RESEND_WEBHOOK_SECRET")
	config.DefaultFrom = os.Getenv("DEFAULT_FROM")

	config.PubsubProject = os.Getenv("PUBSUB_PROJECT")
	config.PubSubSubscription = os.Getenv("PUBSUB_SUBSCRIPTION")
	if (config.PubsubProject == "") != (config.PubSubSubscription == "") {
		return errors.New("PUBSUB_PROJECT and PUBSUB_SUBSCRIPTION must be set together")
	}

	config.BigQueryProject = os.Getenv("BIGQUERY_PROJECT")
	config.BigQueryDataset = os.Getenv("BIGQUERY_DATASET")
	config.BigQueryTable = os.Getenv("BIGQUERY_TABLE")
	set := 0
	for _, v := range []string{config.BigQueryProject, config.BigQueryDataset, config.BigQueryTable} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("BIGQUERY_PROJECT, BIGQUERY_DATASET and BIGQUERY_TABLE must be set together")
	}
	return nil
}

// GetConfig returns the current app configuration
func GetConfig() *Config {
	return config
}
