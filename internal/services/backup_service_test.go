package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/amqp"
	"gastos/internal/backup"
	"gastos/internal/core"
	"gastos/internal/files"
	"gastos/internal/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.BackupEvent
	err    error
}

func (p *recordingPublisher) PublishBackupEvent(_ context.Context, ev *amqp.BackupEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) kinds() []amqp.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

// blockingStore stalls ListAll until released so a task can be held open.
type blockingStore struct {
	*memory.Store
	started chan struct{}
	release chan struct{}
}

func (s *blockingStore) ListAll(ctx context.Context) ([]core.Expense, []core.Category, error) {
	close(s.started)
	<-s.release
	return s.Store.ListAll(ctx)
}

func newBackupService(t *testing.T, store *memory.Store, pub EventPublisher) (*BackupService, string) {
	t.Helper()
	dir := t.TempDir()
	packager := backup.NewPackager(store, files.Local{}, files.NewPhotoStore(filepath.Join(dir, "photos"), ""), backup.Options{
		CacheDir: filepath.Join(dir, "cache"),
		Location: time.UTC,
	})
	return NewBackupService(store, packager, pub, nil), dir
}

func writeBackup(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "in.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const coffeeBackup = `{
	"exportTimestampMillis": 1,
	"expenses": [
		{"name": "Coffee", "amount": 3.5, "timestampMillis": 1704441600000, "description": "imported"},
		{"name": "Bread", "amount": 1.1, "timestampMillis": 1704441600000}
	],
	"categories": []
}`

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	_, err := store.InsertExpense(context.Background(), core.Expense{
		Name:      "Coffee",
		Amount:    decimal.RequireFromString("3.50"),
		Timestamp: time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC).UnixMilli(),
	})
	require.NoError(t, err)
	return store
}

func TestBackupService_ImportCreatesPendingSession(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	store := seededStore(t)
	svc, dir := newBackupService(t, store, pub)

	changes := 0
	svc.OnChange(func() { changes++ })

	out, err := svc.Import(ctx, writeBackup(t, dir, coffeeBackup), false)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, out.Conflicts)
	assert.Equal(t, 1, changes)

	session := svc.PendingSession()
	require.NotNil(t, session)
	assert.Equal(t, 1, session.Len())

	_, _, ok := session.Next()
	require.True(t, ok)
	res, applied, err := svc.Decide(ctx, backup.Replace, false)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, res.Replaced)
	assert.Nil(t, svc.PendingSession())
	assert.Equal(t, 2, changes)

	stored, err := store.GetExpense(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "imported", stored.Description)

	assert.Equal(t, []amqp.EventKind{amqp.EventImport, amqp.EventResolve}, pub.kinds())
}

func TestBackupService_ResolveConflictsBySelection(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	svc, dir := newBackupService(t, store, nil)

	_, err := svc.Import(ctx, writeBackup(t, dir, coffeeBackup), false)
	require.NoError(t, err)

	_, err = svc.ResolveConflicts(ctx, nil, nil, []int{3})
	assert.ErrorIs(t, err, backup.ErrInvalidSelection)
	require.NotNil(t, svc.PendingSession(), "a rejected selection keeps the session")

	res, err := svc.ResolveConflicts(ctx, nil, nil, []int{0})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicated)

	all, _, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = svc.ResolveConflicts(ctx, []int{0}, nil, nil)
	assert.ErrorIs(t, err, ErrNoPendingConflicts)
}

func TestBackupService_DecideAtRejectsStaleIndex(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	svc, dir := newBackupService(t, store, nil)

	_, err := svc.Import(ctx, writeBackup(t, dir, coffeeBackup), false)
	require.NoError(t, err)

	_, applied, err := svc.DecideAt(ctx, 1, backup.Replace, false)
	assert.ErrorIs(t, err, backup.ErrStaleDecision)
	assert.False(t, applied)
	require.NotNil(t, svc.PendingSession(), "a stale answer keeps the session")

	res, applied, err := svc.DecideAt(ctx, 0, backup.Discard, false)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, res.Discarded)

	stored, err := store.GetExpense(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, "imported", stored.Description)
}

func TestBackupService_DecideWithoutSession(t *testing.T) {
	svc, _ := newBackupService(t, memory.New(), nil)
	_, _, err := svc.Decide(context.Background(), backup.Discard, true)
	assert.ErrorIs(t, err, ErrNoPendingConflicts)
}

func TestBackupService_ImportWithoutConflictsClearsSession(t *testing.T) {
	ctx := context.Background()
	svc, dir := newBackupService(t, seededStore(t), nil)

	_, err := svc.Import(ctx, writeBackup(t, dir, coffeeBackup), false)
	require.NoError(t, err)
	require.NotNil(t, svc.PendingSession())

	_, err = svc.Import(ctx, writeBackup(t, dir, `{"exportTimestampMillis": 1, "expenses": [], "categories": []}`), false)
	require.NoError(t, err)
	assert.Nil(t, svc.PendingSession())
}

func TestBackupService_MalformedImport(t *testing.T) {
	svc, dir := newBackupService(t, memory.New(), nil)

	out, err := svc.Import(context.Background(), writeBackup(t, dir, `{"expenses": []}`), false)
	require.Error(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, MsgMalformed, out.Message)
}

func TestBackupService_Busy(t *testing.T) {
	ctx := context.Background()
	store := &blockingStore{
		Store:   memory.New(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	dir := t.TempDir()
	packager := backup.NewPackager(store, files.Local{}, files.NewPhotoStore(dir, ""), backup.Options{CacheDir: dir})
	svc := NewBackupService(store, packager, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Export(ctx, false)
		done <- err
	}()
	<-store.started

	out, err := svc.Import(ctx, filepath.Join(dir, "whatever.json"), false)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, MsgBusy, out.Message)

	_, err = svc.Export(ctx, true)
	assert.ErrorIs(t, err, ErrBusy)

	close(store.release)
	require.NoError(t, <-done)
}

func TestBackupService_PublishFailureDoesNotFail(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, _ := newBackupService(t, memory.New(), pub)

	res, err := svc.Export(context.Background(), false)
	require.NoError(t, err)
	assert.FileExists(t, res.Path)
	assert.Equal(t, []amqp.EventKind{amqp.EventExport}, pub.kinds())
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, MsgBusy, UserMessage(ErrBusy))
	assert.Equal(t, MsgMalformed, UserMessage(&backup.Error{Kind: backup.MalformedDocument, Op: "decode"}))
	assert.Equal(t, MsgGenericFailure, UserMessage(errors.New("disk full")))
}
