package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/salesboard/salesboard/dispatch"
)

const notifyChannel = "salesboard_changes"

// Listener implements dispatch.Source over LISTEN/NOTIFY. It holds a
// dedicated connection per subscription; when the connection drops the
// event channel closes and the dispatcher resubscribes.
type Listener struct {
	dsn string
}

func NewListener(dsn string) *Listener {
	return &Listener{dsn: dsn}
}

func (l *Listener) Subscribe(ctx context.Context) (<-chan dispatch.Event, error) {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect listener: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to listen on %s: %w", notifyChannel, err)
	}

	events := make(chan dispatch.Event)

	go func() {
		defer close(events)
		defer func() {
			_ = conn.Close(context.Background())
		}()

		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				return
			}

			topic, ok := topicForTable(notification.Payload)
			if !ok {
				continue
			}

			select {
			case events <- dispatch.Event{Topic: topic}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

func topicForTable(table string) (dispatch.Topic, bool) {
	switch table {
	case "deals":
		return dispatch.TopicDeals, true
	case "targets":
		return dispatch.TopicTargets, true
	case "users":
		return dispatch.TopicUsers, true
	default:
		return "", false
	}
}
