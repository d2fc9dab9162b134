package service

import (
	"context"

	"github.com/gabihodoroga/email-batch-tracker/model"
)

// EventSinkNop discards events; used when no archive is configured
type EventSinkNop struct{}

func NewEventSinkNop() model.EventSink {
	return EventSinkNop{}
}

func (EventSinkNop) Save(context.Context, []*model.EventRecord) error {
	return nil
}
