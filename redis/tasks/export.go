// Package tasks defines the background tasks the dashboard enqueues
// over asynq.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/salesboard/salesboard/export"
	"github.com/salesboard/salesboard/models"
)

const TypeExportSnapshot = "export:snapshot"

// ExportSnapshotPayload describes one export request. UserID optionally
// restricts the snapshot to a single rep.
type ExportSnapshotPayload struct {
	RequestedBy string `json:"requested_by"`
	UserID      string `json:"user_id,omitempty"`
}

func NewExportSnapshotTask(requestedBy, userID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ExportSnapshotPayload{
		RequestedBy: requestedBy,
		UserID:      userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export payload: %w", err)
	}

	return asynq.NewTask(TypeExportSnapshot, payload), nil
}

// ExportHandler renders the current deal set to a CSV file in the data
// folder.
type ExportHandler struct {
	store      models.Store
	dataFolder string
	log        *zap.Logger
	now        func() time.Time
}

func NewExportHandler(store models.Store, dataFolder string, log *zap.Logger) *ExportHandler {
	if log == nil {
		log = zap.NewNop()
	}

	return &ExportHandler{
		store:      store,
		dataFolder: dataFolder,
		log:        log,
		now:        time.Now,
	}
}

func (h *ExportHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload ExportSnapshotPayload

	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal export payload: %v: %w", err, asynq.SkipRetry)
	}

	users, err := h.store.Users().Select(ctx)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}

	deals, err := h.store.Deals().Select(ctx, models.DealSelectParams{})
	if err != nil {
		return fmt.Errorf("failed to load deals: %w", err)
	}

	var filter export.Filter
	if payload.UserID != "" {
		filter = export.ByUser(payload.UserID)
	}

	if err := os.MkdirAll(h.dataFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create data folder: %w", err)
	}

	path := filepath.Join(h.dataFolder, export.Filename(h.now()))

	fd, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}

	if err := export.WriteDeals(fd, deals, export.NameResolver(users), filter); err != nil {
		_ = fd.Close()
		return fmt.Errorf("failed to write export: %w", err)
	}

	if err := fd.Close(); err != nil {
		return err
	}

	h.log.Info("export snapshot written",
		zap.String("path", path),
		zap.String("requested_by", payload.RequestedBy),
		zap.Int("deals", len(deals)),
	)

	return nil
}
