package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/ledgersync"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerSync runs a full ledger sync for one user.
	TaskLedgerSync = "ledger:sync"
	// TaskNightlySync fans out a ledger sync per connected user.
	TaskNightlySync = "ledger:sync:nightly"
)

// LedgerSyncPayload identifies the user to sync.
type LedgerSyncPayload struct {
	UserID string `json:"userId"`
}

// NewLedgerSyncTask constructs an Asynq task for one user's sync.
func NewLedgerSyncTask(payload LedgerSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerSync, data), nil
}

// NewNightlySyncTask constructs the fan-out task registered with the
// scheduler.
func NewNightlySyncTask() *asynq.Task {
	return asynq.NewTask(TaskNightlySync, nil)
}

// ConnectionLister enumerates users with an active platform connection.
type ConnectionLister interface {
	ListActiveUserIDs(ctx context.Context) ([]string, error)
}

// SyncTaskHandlers builds the Asynq handlers for ledger sync tasks.
type SyncTaskHandlers struct {
	service     *ledgersync.Service
	connections ConnectionLister
	client      *Client
	logger      *slog.Logger
}

// NewSyncTaskHandlers constructs the handler set.
func NewSyncTaskHandlers(service *ledgersync.Service, connections ConnectionLister, client *Client, logger *slog.Logger) *SyncTaskHandlers {
	return &SyncTaskHandlers{service: service, connections: connections, client: client, logger: logger}
}

// HandleLedgerSync processes TaskLedgerSync tasks. The sync itself already
// tolerates partial failure, so a completed run is a completed task even when
// the report carries failures; only run-level errors surface to Asynq, and
// those are not retried.
func (h *SyncTaskHandlers) HandleLedgerSync(ctx context.Context, t *asynq.Task) error {
	var payload LedgerSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	report, err := h.service.Run(ctx, payload.UserID)
	if err != nil {
		h.logger.Error("background sync failed",
			slog.String("user_id", payload.UserID),
			slog.Any("error", err))
		return asynq.SkipRetry
	}
	if report.Failed() {
		h.logger.Warn("background sync completed with failures",
			slog.String("user_id", payload.UserID),
			slog.String("run_id", report.RunID.String()))
	}
	return nil
}

// HandleNightlySync enqueues one sync task per connected user.
func (h *SyncTaskHandlers) HandleNightlySync(ctx context.Context, t *asynq.Task) error {
	userIDs, err := h.connections.ListActiveUserIDs(ctx)
	if err != nil {
		return err
	}
	for _, userID := range userIDs {
		if _, err := h.client.EnqueueLedgerSync(ctx, LedgerSyncPayload{UserID: userID}); err != nil {
			h.logger.Error("enqueue nightly sync",
				slog.String("user_id", userID),
				slog.Any("error", err))
		}
	}
	h.logger.Info("nightly sync fan-out", slog.Int("users", len(userIDs)))
	return nil
}
