package service

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gabihodoroga/email-batch-tracker/model"
)

// EventSinkBigQuery archives resolved delivery events to a BigQuery table
type EventSinkBigQuery struct {
	client   *bigquery.Client
	inserter *bigquery.Inserter
}

func NewEventSinkBigQuery(ctx context.Context, project, dataset, table string) (model.EventSink, error) {

	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bigquery client")
	}

	perms, err := client.Dataset(dataset).Table(table).IAM().TestPermissions(ctx, []string{
		"bigquery.tables.updateData",
	})

	if err != nil {
		return nil, errors.Wrapf(err,
			"failed to get bigquery table permission permissions, project: %s, dataset: %s, table: %s",
			project,
			dataset,
			table)
	}

	if len(perms) == 0 {
		return nil, fmt.Errorf(
			"required permissions (bigquery.tables.updateData) not found for project: %s, dataset: %s, table: %s",
			project,
			dataset,
			table)
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("EventSinkBigQuery: context done, closing client")
		client.Close()
	}()

	return &EventSinkBigQuery{
		client:   client,
		inserter: client.Dataset(dataset).Table(table).Inserter(),
	}, nil
}

// Save implements model.EventSink
func (s *EventSinkBigQuery) Save(ctx context.Context, events []*model.EventRecord) error {
	logger := zap.L().With(zap.Any("request_id", ctx.Value(model.ContextKey("request_id"))))
	logger.Debug("EventSinkBigQuery.save: begin request")

	ctx, span := tracer.Start(ctx, "bigquery/save")
	defer span.End()

	if err := s.inserter.Put(ctx, events); err != nil {
		return errors.Wrap(err, "failed to insert rows")
	}

	logger.Sugar().Debugf("EventSinkBigQuery.save: %d rows saved", len(events))
	return nil
}
