package service

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/dchest/uniuri"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gabihodoroga/email-batch-tracker/model"
)

// EventHandlerPubsub implements the EventHandler using Pub/Sub. Each message
// carries a raw webhook body as data and the signature headers as attributes.
type EventHandlerPubsub struct {
	host         string
	project      string
	subscription string
	dispatcher   *WebhookDispatcher
	stats        *model.HandlerStats
}

func NewEventHandlerPubsub(host, project, subscription string, dispatcher *WebhookDispatcher) (model.EventHandler, error) {
	return &EventHandlerPubsub{
		host:         host,
		project:      project,
		subscription: subscription,
		dispatcher:   dispatcher,
		stats:        &model.HandlerStats{},
	}, nil
}

// Start implements model.EventHandler and start listening for events
func (c *EventHandlerPubsub) Start(ctx context.Context) error {

	var client *pubsub.Client
	var err error

	if c.host != "" {
		// This is mainly used for testing
		conn, err := grpc.Dial(c.host, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		// Use the connection when creating a pubsub client.
		client, err = pubsub.NewClient(ctx, c.project, option.WithGRPCConn(conn))
		if err != nil {
			return err
		}
	} else {
		client, err = pubsub.NewClient(ctx, c.project)

		if err != nil {
			return errors.Wrap(err, "failed to create PubSub client")
		}
	}

	sub := client.Subscription(c.subscription)

	if c.host == "" {
		perms, err := sub.IAM().TestPermissions(ctx, []string{
			"pubsub.subscriptions.consume",
		})

		if err != nil {
			return errors.Wrapf(err,
				"failed to get the subscription permissions, project %s, subscription %s",
				c.project,
				c.subscription)
		}

		if len(perms) == 0 {
			return fmt.Errorf(
				"required permissions (pubsub.subscriptions.consume) not found for project %s, subscription %s",
				c.project,
				c.subscription)
		}
	}

	go func() {
		for {
			zap.L().Sugar().Infof("begin receive messages from subscription %s.", sub.String())
			err := sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {

				atomic.AddInt64(&c.stats.Received, 1)
				requestID := uniuri.NewLen(10)
				logger := zap.L().With(zap.Any("request_id", requestID))
				newCtx := context.WithValue(msgCtx, model.ContextKey("request_id"), requestID)
				newCtx, span := tracer.Start(newCtx, "pubsub/receive")
				defer span.End()

				logger.Sugar().Debugf("pubsubFunc: got message with id %s", msg.ID)
				err := c.handleMessage(newCtx, msg)
				switch {
				case err == nil:
					logger.Sugar().Debugf("pubsubFunc: message with id %s acknowledged", msg.ID)
					msg.Ack()
					atomic.AddInt64(&c.stats.Success, 1)
				case errors.Is(err, model.ErrNotFound):
					// a redelivery would fail signature verification once the
					// svix timestamp is older than its tolerance, so no retry
					logger.Sugar().Infof("pubsubFunc: message with id %s matches no batch, acknowledged", msg.ID)
					msg.Ack()
					atomic.AddInt64(&c.stats.NotFound, 1)
				default:
					logger.Error(fmt.Sprintf("pubsubFunc: dropping message with id %s", msg.ID), zap.Error(err))
					msg.Ack()
					atomic.AddInt64(&c.stats.Errors, 1)
				}
			})
			zap.L().Sugar().Infof("pubsub receive exit for subscription %s", sub.String())

			if err != nil {
				zap.L().Error(fmt.Sprintf("pubsub receive error for subscription %s, receive will be retried in 2 seconds", sub.String()), zap.Error(err))
				time.Sleep(time.Second * 2)
				continue
			}
			// if no error is received then the context has been canceled and we just exist
			zap.L().Sugar().Infof("receive done on subscription %s. No messages will be processed.", sub.String())
			client.Close()
			return
		}
	}()

	return nil
}

// Stats implements model.EventHandler
func (c *EventHandlerPubsub) Stats(ctx context.Context) (model.HandlerStats, error) {
	return model.HandlerStats{
		Received: atomic.LoadInt64(&c.stats.Received),
		Success:  atomic.LoadInt64(&c.stats.Success),
		NotFound: atomic.LoadInt64(&c.stats.NotFound),
		Errors:   atomic.LoadInt64(&c.stats.Errors),
	}, nil
}

func (c *EventHandlerPubsub) handleMessage(ctx context.Context, msg *pubsub.Message) error {
	headers := http.Header{}
	for k, v := range msg.Attributes {
		headers.Set(k, v)
	}
	_, err := c.dispatcher.Dispatch(ctx, msg.Data, headers)
	return err
}
