package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/salesboard/salesboard/redis/tasks"
)

// Client wraps asynq client functionality for enqueuing dashboard tasks.
type Client struct {
	client *asynq.Client
}

func NewClient(addr, password string, db int) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// EnqueueExport schedules an export snapshot. userID optionally limits
// the snapshot to one rep.
func (c *Client) EnqueueExport(ctx context.Context, requestedBy, userID string) error {
	task, err := tasks.NewExportSnapshotTask(requestedBy, userID)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue export task: %w", err)
	}

	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
