package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"expensetracker/internal/amqp"
	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
	"expensetracker/internal/log"
	"expensetracker/internal/services"
)

// Importer runs one import for a user.
type Importer interface {
	Import(ctx context.Context, userID string, from, to *core.Date) (services.ImportResult, error)
}

// Consumer delivers queued import requests to a handler until ctx ends.
type Consumer interface {
	ConsumeImportRequests(ctx context.Context, handler func(context.Context, *amqp.ImportRequestMessage) error) error
}

// ImportWorker executes queued import requests one at a time.
type ImportWorker struct {
	importer Importer
	consumer Consumer
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	err     error
}

func NewImportWorker(importer Importer, consumer Consumer, logger *log.Logger) *ImportWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ImportWorker{
		importer: importer,
		consumer: consumer,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleImportRequest runs the import a message asks for. Errors that a
// redelivery cannot fix are wrapped with amqp.ErrDiscard.
func (w *ImportWorker) HandleImportRequest(ctx context.Context, msg *amqp.ImportRequestMessage) error {
	w.logger.InfoContext(ctx, "Processing import request",
		"id", msg.ID,
		log.FieldUserID, msg.UserID)

	from, to, err := msg.Window()
	if err != nil {
		return fmt.Errorf("import request %s: %w: %w", msg.ID, amqp.ErrDiscard, err)
	}

	start := time.Now()
	result, err := w.importer.Import(ctx, msg.UserID, from, to)
	if err != nil {
		w.logger.ErrorContext(ctx, "Import request failed",
			"id", msg.ID,
			log.FieldUserID, msg.UserID,
			log.FieldError, err,
			"retry", !permanent(err))
		if permanent(err) {
			return fmt.Errorf("import request %s: %w: %w", msg.ID, amqp.ErrDiscard, err)
		}
		return fmt.Errorf("import request %s: %w", msg.ID, err)
	}

	w.logger.InfoContext(ctx, "Import request completed",
		"id", msg.ID,
		log.FieldUserID, msg.UserID,
		log.FieldImported, result.Imported,
		log.FieldInserted, result.Inserted,
		log.FieldUpdated, result.Updated,
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// permanent reports whether err will fail again on redelivery. Rate limits,
// provider outages and storage trouble are worth another try.
func permanent(err error) bool {
	switch {
	case core.IsValidation(err), core.IsNotFound(err):
		return true
	case errors.Is(err, core.ErrNoLinkedAccount),
		errors.Is(err, core.ErrLinkExpired),
		errors.Is(err, core.ErrUnauthorized):
		return true
	case gateway.Retryable(err):
		return false
	}
	var apiErr *gateway.APIError
	return errors.As(err, &apiErr) || errors.Is(err, gateway.ErrConfiguration)
}

// Start begins consuming in the background. It returns an error if the
// worker is already running.
func (w *ImportWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("import worker is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	w.err = nil

	go w.run(runCtx, w.doneCh)

	w.logger.InfoContext(ctx, "Import worker started")
	return nil
}

func (w *ImportWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	err := w.consumer.ConsumeImportRequests(ctx, w.HandleImportRequest)
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.ErrorContext(ctx, "Message consumption failed", log.FieldError, err)
	}

	w.mu.Lock()
	w.running = false
	if !errors.Is(err, context.Canceled) {
		w.err = err
	}
	w.mu.Unlock()
}

// Done is closed when consumption stops.
func (w *ImportWorker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doneCh == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return w.doneCh
}

// Err returns why consumption stopped on its own, if it did.
func (w *ImportWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stop cancels consumption and waits for the current message to finish.
func (w *ImportWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.doneCh
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		slog.InfoContext(ctx, "Import worker stopped gracefully", log.FieldComponent, log.ComponentWorker)
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Import worker stop timed out", log.FieldComponent, log.ComponentWorker)
		return ctx.Err()
	}
}

// IsRunning returns whether the worker is consuming.
func (w *ImportWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
