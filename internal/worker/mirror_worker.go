package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/backup"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/sheets"
)

// Snapshotter is the part of the record store the mirror reads.
type Snapshotter interface {
	ListAll(ctx context.Context) ([]core.Expense, []core.Category, error)
}

// Config tunes a MirrorWorker.
type Config struct {
	// Location buckets timestamps into the Fecha column.
	Location *time.Location
	// Debounce delays a mirror after an event so bursts collapse into one.
	Debounce time.Duration
}

// MirrorWorker keeps a spreadsheet in step with the record store. Each
// mirror rewrites every row using the same cells as gastos.csv.
type MirrorWorker struct {
	store    Snapshotter
	sheet    sheets.RowWriter
	loc      *time.Location
	debounce time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastStart time.Time
}

func NewMirrorWorker(store Snapshotter, sheet sheets.RowWriter, cfg Config, logger *log.Logger) *MirrorWorker {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &MirrorWorker{
		store:    store,
		sheet:    sheet,
		loc:      cfg.Location,
		debounce: cfg.Debounce,
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      time.Now,
	}
}

// HandleEvent mirrors the store unless a mirror that started after the
// event already covered it.
func (w *MirrorWorker) HandleEvent(ctx context.Context, ev *amqp.BackupEvent) error {
	w.logger.InfoContext(ctx, "Processing backup event",
		log.FieldEventKind, string(ev.Kind),
		"timestamp", ev.Timestamp)

	if w.debounce > 0 {
		wait := ev.Timestamp.Add(w.debounce).Sub(w.now())
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	if w.coveredBy(ev.Timestamp) {
		w.logger.DebugContext(ctx, "Event already mirrored", log.FieldEventKind, string(ev.Kind))
		return nil
	}
	return w.Mirror(ctx)
}

func (w *MirrorWorker) coveredBy(ts time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.lastStart.IsZero() && ts.Before(w.lastStart)
}

// Mirror rewrites the whole sheet from a fresh snapshot.
func (w *MirrorWorker) Mirror(ctx context.Context) error {
	start := w.now()

	expenses, _, err := w.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	if err := w.sheet.ReplaceRows(ctx, backup.CSVColumns(), backup.CSVRows(expenses, w.loc)); err != nil {
		return fmt.Errorf("mirror to sheet: %w", err)
	}

	w.mu.Lock()
	if start.After(w.lastStart) {
		w.lastStart = start
	}
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Sheet mirror completed",
		log.FieldExpenses, len(expenses),
		log.FieldOperation, log.OpMirror,
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// StartupMirror brings the sheet up to date after worker downtime. Failures
// are logged and not fatal, the next event retries.
func (w *MirrorWorker) StartupMirror(ctx context.Context) {
	if err := w.Mirror(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Startup mirror failed", log.FieldError, err.Error())
	}
}
