package queue

import (
	"context"
	"errors"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"
	"stableflow/pkg/logger"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
)

// recordGrace is added to the processing timeout so the settlement service can
// record a timed-out attempt before River cancels the job context.
const recordGrace = 15 * time.Second

// SettlementWorker runs settlement for River jobs and maps each outcome onto River's
// job lifecycle. Completed and cancelled finish the job. Retrying, or an item another
// delivery is still processing, snoozes it. Dead-lettered cancels it.
type SettlementWorker struct {
	river.WorkerDefaults[SettlementArgs]
	settlement ports.SettlementService
	timeout    time.Duration
	log        zerolog.Logger
}

// NewSettlementWorker creates a worker bound to the settlement service.
func NewSettlementWorker(settlement ports.SettlementService, processingTimeout time.Duration, log zerolog.Logger) *SettlementWorker {
	return &SettlementWorker{
		settlement: settlement,
		timeout:    processingTimeout + recordGrace,
		log:        logger.WithComponent(log, "settlement-worker"),
	}
}

// Timeout implements river.Worker.
func (w *SettlementWorker) Timeout(*river.Job[SettlementArgs]) time.Duration {
	return w.timeout
}

// Work implements river.Worker.
func (w *SettlementWorker) Work(ctx context.Context, job *river.Job[SettlementArgs]) error {
	item := job.Args.Item
	out, err := w.settlement.Process(ctx, item)
	if err != nil {
		w.log.Error().Err(err).
			Str("transaction_id", item.TransactionID.String()).
			Int("attempt", job.Attempt).
			Msg("Settlement attempt could not be recorded")
		if apperror.IsPermanent(err) {
			return river.JobCancel(err)
		}
		return err
	}

	switch {
	case out.TransactionState == domain.TransactionStatusCompleted,
		out.TransactionState == domain.TransactionStatusCancelled:
		return nil
	case out.SettlementState == domain.SettlementStatusRetrying, out.RetryAfter > 0:
		return river.JobSnooze(out.RetryAfter)
	case out.SettlementState == domain.SettlementStatusDeadLetter:
		return river.JobCancel(errors.New(out.FailureReason))
	default:
		return nil
	}
}
