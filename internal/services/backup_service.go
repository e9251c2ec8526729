package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"gastos/internal/amqp"
	"gastos/internal/backup"
	"gastos/internal/log"
	"gastos/internal/ports"
)

var (
	// ErrBusy is returned when an export, import or resolve is already running.
	ErrBusy = errors.New("another backup task is running")
	// ErrNoPendingConflicts is returned by conflict operations when no import
	// left anything to decide.
	ErrNoPendingConflicts = errors.New("no pending conflicts")
)

// User-facing messages. Causes are logged, never shown.
const (
	MsgGenericFailure = "Something went wrong. Please try again."
	MsgMalformed      = "The selected file is not a valid backup."
	MsgBusy           = "Another backup task is still running."
)

// EventPublisher is satisfied by *amqp.Client.
type EventPublisher interface {
	PublishBackupEvent(ctx context.Context, ev *amqp.BackupEvent) error
}

// ImportOutcome is what the UI shows after an import.
type ImportOutcome struct {
	Success   bool
	Inserted  int
	Conflicts int
	Message   string
}

// BackupService runs one backup task at a time and keeps the conflict
// session of the last import until it is resolved.
type BackupService struct {
	packager  *backup.Packager
	resolver  *backup.Resolver
	publisher EventPublisher
	logger    *log.Logger
	sem       *semaphore.Weighted

	mu       sync.Mutex
	pending  *backup.Session
	onChange []func()
}

// NewBackupService accepts a nil publisher when no broker is configured.
func NewBackupService(store ports.RecordStore, packager *backup.Packager, publisher EventPublisher, logger *log.Logger) *BackupService {
	if logger == nil {
		logger = log.Discard()
	}
	return &BackupService{
		packager:  packager,
		resolver:  backup.NewResolver(store),
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentBackup),
		sem:       semaphore.NewWeighted(1),
	}
}

// OnChange registers fn to run after any operation that wrote expenses.
func (s *BackupService) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *BackupService) acquire() error {
	if !s.sem.TryAcquire(1) {
		return ErrBusy
	}
	return nil
}

// Export writes a backup into the cache directory.
func (s *BackupService) Export(ctx context.Context, includePhotos bool) (backup.ExportResult, error) {
	if err := s.acquire(); err != nil {
		return backup.ExportResult{}, err
	}
	defer s.sem.Release(1)

	res, err := s.packager.ExportArchive(ctx, includePhotos)
	if err != nil {
		s.logger.ErrorContext(ctx, "Export failed", log.NewFields().
			WithError(err).
			WithOperation(log.OpExport).
			ToSlice()...)
		return backup.ExportResult{}, err
	}

	ev := amqp.NewBackupEvent(amqp.EventExport)
	ev.Path = res.Path
	ev.Expenses = res.Expenses
	s.publish(ctx, ev)
	return res, nil
}

// Import merges a backup file into the record store. Conflicts are kept as
// the pending session, replacing any earlier one.
func (s *BackupService) Import(ctx context.Context, handle string, replaceAll bool) (ImportOutcome, error) {
	if err := s.acquire(); err != nil {
		return ImportOutcome{Message: MsgBusy}, err
	}
	defer s.sem.Release(1)

	res, err := s.packager.ImportArchive(ctx, handle, replaceAll)
	if err != nil {
		s.logger.ErrorContext(ctx, "Import failed", log.NewFields().
			WithError(err).
			WithOperation(log.OpImport).
			ToSlice()...)
		return ImportOutcome{Message: UserMessage(err)}, err
	}

	var session *backup.Session
	if len(res.Conflicts) > 0 {
		session = backup.NewSession(s.resolver, res.Conflicts)
	}
	s.mu.Lock()
	s.pending = session
	s.mu.Unlock()

	s.changed()

	ev := amqp.NewBackupEvent(amqp.EventImport)
	ev.Path = handle
	ev.Inserted = res.Inserted
	ev.Conflicts = len(res.Conflicts)
	s.publish(ctx, ev)

	return ImportOutcome{
		Success:   res.Success,
		Inserted:  res.Inserted,
		Conflicts: len(res.Conflicts),
	}, nil
}

// PendingSession returns the unresolved conflict session, or nil.
func (s *BackupService) PendingSession() *backup.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Decide records a decision for the conflict last returned by Next. When the
// queue drains the batches are applied and the result is returned with
// applied set.
func (s *BackupService) Decide(ctx context.Context, d backup.Decision, applyToRemaining bool) (res backup.Resolution, applied bool, err error) {
	return s.decide(ctx, func(session *backup.Session) error {
		if applyToRemaining {
			return session.DecideRemaining(d)
		}
		return session.Decide(d)
	})
}

// DecideAt is Decide for a caller that names the conflict it answers. A
// stale index fails with backup.ErrStaleDecision and records nothing.
func (s *BackupService) DecideAt(ctx context.Context, index int, d backup.Decision, applyToRemaining bool) (res backup.Resolution, applied bool, err error) {
	return s.decide(ctx, func(session *backup.Session) error {
		return session.DecideAt(index, d, applyToRemaining)
	})
}

func (s *BackupService) decide(ctx context.Context, record func(*backup.Session) error) (backup.Resolution, bool, error) {
	session := s.PendingSession()
	if session == nil {
		return backup.Resolution{}, false, ErrNoPendingConflicts
	}
	if err := record(session); err != nil {
		return backup.Resolution{}, false, err
	}
	if session.State() != backup.Applying {
		return backup.Resolution{}, false, nil
	}

	res, err := s.apply(ctx, session)
	return res, true, err
}

// ResolveConflicts applies a full selection of the pending conflicts by index.
func (s *BackupService) ResolveConflicts(ctx context.Context, discard, replace, duplicate []int) (backup.Resolution, error) {
	session := s.PendingSession()
	if session == nil {
		return backup.Resolution{}, ErrNoPendingConflicts
	}
	if err := session.Select(discard, replace, duplicate); err != nil {
		return backup.Resolution{}, err
	}
	return s.apply(ctx, session)
}

func (s *BackupService) apply(ctx context.Context, session *backup.Session) (backup.Resolution, error) {
	if err := s.acquire(); err != nil {
		return backup.Resolution{}, err
	}
	defer s.sem.Release(1)

	res, err := session.Apply(ctx)

	s.mu.Lock()
	if s.pending == session {
		s.pending = nil
	}
	s.mu.Unlock()

	if res.Replaced > 0 || res.Duplicated > 0 {
		s.changed()
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Conflict resolution failed", log.NewFields().
			WithError(err).
			WithOperation(log.OpResolve).
			ToSlice()...)
		return res, fmt.Errorf("resolve conflicts: %w", err)
	}

	s.logger.InfoContext(ctx, "Conflicts resolved",
		log.FieldOperation, log.OpResolve,
		"discarded", res.Discarded,
		"replaced", res.Replaced,
		"duplicated", res.Duplicated)

	ev := amqp.NewBackupEvent(amqp.EventResolve)
	ev.Discarded = res.Discarded
	ev.Replaced = res.Replaced
	ev.Duplicated = res.Duplicated
	s.publish(ctx, ev)
	return res, nil
}

func (s *BackupService) changed() {
	s.mu.Lock()
	fns := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *BackupService) publish(ctx context.Context, ev *amqp.BackupEvent) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP client not available, skipping event", log.FieldEventKind, string(ev.Kind))
		return
	}
	if err := s.publisher.PublishBackupEvent(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish backup event",
			log.FieldEventKind, string(ev.Kind),
			log.FieldError, err.Error())
	}
}

// UserMessage maps an error from this package to text safe to show a user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return MsgBusy
	case errors.Is(err, backup.ErrMalformed):
		return MsgMalformed
	default:
		return MsgGenericFailure
	}
}
