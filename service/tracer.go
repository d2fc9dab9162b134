package service

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/gabihodoroga/email-batch-tracker/service")
