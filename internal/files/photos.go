package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"gastos/internal/core"
	"gastos/internal/ports"
)

var (
	// ErrNoContentRoot is returned when a content locator must be resolved
	// but no content root is configured.
	ErrNoContentRoot = fmt.Errorf("%w: no content root configured", ports.ErrPhotoUnavailable)
	// ErrNotReadable is returned for references that only make sense inside
	// an archive.
	ErrNotReadable = fmt.Errorf("%w: not a filesystem reference", ports.ErrPhotoUnavailable)
)

// PhotoStore keeps app-owned photo copies under Dir. Content locators are
// resolved under ContentRoot, which mirrors the device media store.
type PhotoStore struct {
	Dir         string
	ContentRoot string
}

var _ ports.PhotoStore = (*PhotoStore)(nil)

func NewPhotoStore(dir, contentRoot string) *PhotoStore {
	return &PhotoStore{Dir: dir, ContentRoot: contentRoot}
}

// OpenPhoto returns an error satisfying errors.Is(err, fs.ErrNotExist) when
// the referenced file is gone.
func (s *PhotoStore) OpenPhoto(_ context.Context, ref core.PhotoRef) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open photo %s: %w", ref, err)
	}
	return f, nil
}

// Save copies r into Dir under a uuid-prefixed name derived from hint.
func (s *PhotoStore) Save(_ context.Context, hint string, r io.Reader) (core.PhotoRef, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return core.NoPhoto, fmt.Errorf("create photo directory: %w", err)
	}

	base := core.SanitizeFileName(filepath.Base(hint))
	if base == "" || base == "." || base == "_" {
		base = "photo.jpg"
	}
	path := filepath.Join(s.Dir, uuid.NewString()+"_"+base)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return core.NoPhoto, fmt.Errorf("create photo file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return core.NoPhoto, fmt.Errorf("write photo file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return core.NoPhoto, fmt.Errorf("close photo file: %w", err)
	}
	return core.LocalPhoto(path), nil
}

// Remove deletes an app-local photo. Other reference kinds are left alone.
func (s *PhotoStore) Remove(_ context.Context, ref core.PhotoRef) error {
	if ref.Kind != core.PhotoLocalFile || ref.IsZero() {
		return nil
	}
	if err := os.Remove(ref.Value); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove photo %s: %w", ref.Value, err)
	}
	return nil
}

func (s *PhotoStore) resolve(ref core.PhotoRef) (string, error) {
	switch ref.Kind {
	case core.PhotoLocalFile:
		return ref.Value, nil
	case core.PhotoContentLocator:
		if s.ContentRoot == "" {
			return "", ErrNoContentRoot
		}
		rel := filepath.FromSlash(strings.TrimLeft(ref.ContentPath(), "/"))
		path := filepath.Join(s.ContentRoot, rel)
		if !strings.HasPrefix(path, filepath.Clean(s.ContentRoot)+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: content locator %s escapes content root", ports.ErrPhotoUnavailable, ref)
		}
		return path, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrNotReadable, ref)
	}
}
