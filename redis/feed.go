// Package redis bridges change events between dashboard instances and
// hosts the async export queue.
package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/salesboard/salesboard/dispatch"
)

const channelPrefix = "salesboard:changes:"

// Feed carries change notifications over redis pub/sub so multiple
// dashboard processes sharing one database observe each other's writes.
// It implements dispatch.Source on the consuming side.
type Feed struct {
	client *goredis.Client
}

func NewFeed(addr, password string, db int) (*Feed, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Feed{client: client}, nil
}

// Publish announces a local write to the other instances.
func (f *Feed) Publish(ctx context.Context, topic dispatch.Topic) error {
	if err := f.client.Publish(ctx, channelPrefix+string(topic), "1").Err(); err != nil {
		return fmt.Errorf("failed to publish %s change: %w", topic, err)
	}

	return nil
}

// Subscribe implements dispatch.Source. The returned channel closes when
// the pub/sub connection drops; the dispatcher resubscribes.
func (f *Feed) Subscribe(ctx context.Context) (<-chan dispatch.Event, error) {
	sub := f.client.Subscribe(ctx,
		channelPrefix+string(dispatch.TopicDeals),
		channelPrefix+string(dispatch.TopicTargets),
		channelPrefix+string(dispatch.TopicUsers),
	)

	// Wait for the subscription to be confirmed before reporting success.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to redis feed: %w", err)
	}

	events := make(chan dispatch.Event)

	go func() {
		defer close(events)
		defer func() {
			_ = sub.Close()
		}()

		messages := sub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}

				topic := dispatch.Topic(strings.TrimPrefix(msg.Channel, channelPrefix))

				select {
				case events <- dispatch.Event{Topic: topic}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (f *Feed) Close() error {
	return f.client.Close()
}
