package redis

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/salesboard/salesboard/redis/tasks"
)

// StartWorker runs the asynq server processing dashboard tasks until ctx
// is done.
func StartWorker(ctx context.Context, addr, password string, db int, handler *tasks.ExportHandler, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: addr, Password: password, DB: db},
		asynq.Config{Concurrency: 2},
	)

	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeExportSnapshot, handler)

	go func() {
		<-ctx.Done()
		log.Info("shutting down task worker")
		srv.Shutdown()
	}()

	return srv.Run(mux)
}
