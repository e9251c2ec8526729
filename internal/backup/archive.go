package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/ports"
)

// Archive entry names.
const (
	DataEntry = "data.json"
	CSVEntry  = "gastos.csv"

	exportPrefix     = "gastos_"
	exportTimeFormat = "20060102_150405"
)

// Options configures a Packager.
type Options struct {
	// CacheDir receives exported files and import spool files.
	CacheDir string
	// Location buckets timestamps for file names and CSV dates.
	Location *time.Location
	Logger   *log.Logger
	Now      func() time.Time
}

// Packager produces and consumes backup artifacts.
type Packager struct {
	store    ports.RecordStore
	files    ports.FileAccess
	photos   ports.PhotoStore
	detector *Detector
	codec    Codec
	cacheDir string
	loc      *time.Location
	now      func() time.Time
	logger   *log.Logger
}

func NewPackager(store ports.RecordStore, files ports.FileAccess, photos ports.PhotoStore, opts Options) *Packager {
	p := &Packager{
		store:    store,
		files:    files,
		photos:   photos,
		detector: NewDetector(store),
		cacheDir: opts.CacheDir,
		loc:      opts.Location,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if p.cacheDir == "" {
		p.cacheDir = os.TempDir()
	}
	if p.loc == nil {
		p.loc = time.Local
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = log.Discard()
	}
	p.logger = p.logger.WithComponent(log.ComponentBackup)
	p.codec = Codec{Now: p.now}
	return p
}

// ExportResult describes a finished export.
type ExportResult struct {
	Path          string
	Expenses      int
	Categories    int
	Photos        int
	// SkippedPhotos counts refs whose source could not be read. They are
	// cleared in the document and get no images/ entry, so every photo ref
	// maps to exactly one entry only when this is zero.
	SkippedPhotos int
}

// ExportArchive snapshots the record store into the cache directory. Without
// photos the result is a plain JSON document; with photos it is a zip holding
// data.json, gastos.csv and images/. The output only appears under its final
// name once fully written.
func (p *Packager) ExportArchive(ctx context.Context, includePhotos bool) (ExportResult, error) {
	const op = "export"

	expenses, categories, err := p.store.ListAll(ctx)
	if err != nil {
		return ExportResult{}, ioErr(op, fmt.Errorf("read snapshot: %w", err))
	}

	base := exportPrefix + p.now().In(p.loc).Format(exportTimeFormat)
	res := ExportResult{Expenses: len(expenses), Categories: len(categories)}

	if !includePhotos {
		data, err := Marshal(p.codec.Encode(expenses, categories))
		if err != nil {
			return ExportResult{}, err
		}
		res.Path = filepath.Join(p.cacheDir, base+".json")
		err = p.writeAtomic(ctx, res.Path, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})
		if err != nil {
			return ExportResult{}, ioErr(op, err)
		}
		p.logger.InfoContext(ctx, "Backup exported",
			log.FieldFile, res.Path,
			log.FieldIncludePhotos, false,
			log.FieldExpenses, res.Expenses,
			log.FieldCategories, res.Categories)
		return res, nil
	}

	plan := PlanPhotos(expenses, categories, p.loc)
	res.Path = filepath.Join(p.cacheDir, base+".zip")
	err = p.writeAtomic(ctx, res.Path, func(w io.Writer) error {
		written, skipped, err := p.writeZip(ctx, w, plan, expenses, categories)
		res.Photos, res.SkippedPhotos = written, skipped
		return err
	})
	if err != nil {
		return ExportResult{}, ioErr(op, err)
	}

	p.logger.InfoContext(ctx, "Backup exported",
		log.FieldFile, res.Path,
		log.FieldIncludePhotos, true,
		log.FieldExpenses, res.Expenses,
		log.FieldCategories, res.Categories,
		log.FieldPhotos, res.Photos)
	return res, nil
}

// writeZip writes the photos first so that references to unreadable sources
// can be cleared before the document is encoded.
func (p *Packager) writeZip(ctx context.Context, w io.Writer, plan *PhotoPlan, expenses []core.Expense, categories []core.Category) (int, int, error) {
	zw := zip.NewWriter(w)
	modified := p.now()
	written, skipped := 0, 0

	for _, entry := range plan.Entries {
		if err := ctx.Err(); err != nil {
			return written, skipped, err
		}
		src, err := p.photos.OpenPhoto(ctx, entry.Source)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ports.ErrPhotoUnavailable) {
			p.logger.WarnContext(ctx, "Photo skipped",
				log.FieldFile, entry.Source.String(),
				log.FieldError, err.Error())
			plan.Drop(entry.Source)
			skipped++
			continue
		}
		if err != nil {
			return written, skipped, err
		}

		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     path.Join(core.ArchiveImagesDir, entry.Name),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			src.Close()
			return written, skipped, err
		}
		_, err = io.Copy(fw, src)
		src.Close()
		if err != nil {
			return written, skipped, fmt.Errorf("copy %s: %w", entry.Name, err)
		}
		written++
	}

	outE, outC := plan.Rewrite(expenses, categories)

	data, err := Marshal(p.codec.Encode(outE, outC))
	if err != nil {
		return written, skipped, err
	}
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: DataEntry, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return written, skipped, err
	}
	if _, err := fw.Write(data); err != nil {
		return written, skipped, err
	}

	fw, err = zw.CreateHeader(&zip.FileHeader{Name: CSVEntry, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return written, skipped, err
	}
	if err := WriteCSV(fw, outE, p.loc); err != nil {
		return written, skipped, err
	}

	return written, skipped, zw.Close()
}

// writeAtomic writes to <dest>.tmp and renames it into place. The temp file
// is removed on any failure.
func (p *Packager) writeAtomic(ctx context.Context, dest string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp := dest + ".tmp"

	w, err := p.files.OpenForWrite(ctx, tmp)
	if err != nil {
		return err
	}
	if err := fill(w); err != nil {
		w.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ImportResult is what an import pass reports back to the caller.
type ImportResult struct {
	Success    bool
	Inserted   int
	Categories int
	Photos     int
	// Conflicts are not written yet; they wait for a user decision.
	Conflicts []Conflict
}

// ImportArchive reads a backup (zip by extension, JSON otherwise) and merges
// it into the record store.
//
// The merge is not one transaction. Once categories are written they stay
// written even if a later step fails, and so do the non-conflicting
// expenses. A malformed document aborts before anything is written.
func (p *Packager) ImportArchive(ctx context.Context, handle string, replaceAll bool) (ImportResult, error) {
	const op = "import"
	name := p.files.DisplayName(handle)

	var (
		doc   Document
		remap map[string]core.PhotoRef
		err   error
	)
	if strings.EqualFold(filepath.Ext(name), ".zip") {
		doc, remap, err = p.readZip(ctx, handle)
	} else {
		doc, err = p.readJSON(ctx, handle)
	}
	if err != nil {
		return ImportResult{}, ioErr(op, err)
	}
	if err := ctx.Err(); err != nil {
		p.discardPhotos(remap)
		return ImportResult{}, ioErr(op, err)
	}

	res, err := p.merge(ctx, doc, remap, replaceAll)
	if err != nil {
		return ImportResult{}, ioErr(op, err)
	}

	p.logger.InfoContext(ctx, "Backup imported", log.NewFields().
		WithImport(name, replaceAll, res.Inserted, len(res.Conflicts)).
		WithOperation(log.OpImport).
		ToSlice()...)
	return res, nil
}

func (p *Packager) readJSON(ctx context.Context, handle string) (Document, error) {
	rc, err := p.files.OpenForRead(ctx, handle)
	if err != nil {
		return Document{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", p.files.DisplayName(handle), err)
	}
	return Decode(data)
}

// readZip spools the stream to a temp file so entries can be read in any
// order, decodes data.json, then copies images/* into the photo store. The
// returned table maps archive paths to the new local references.
func (p *Packager) readZip(ctx context.Context, handle string) (Document, map[string]core.PhotoRef, error) {
	spool, size, err := p.spool(ctx, handle)
	if err != nil {
		return Document{}, nil, err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	zr, err := zip.NewReader(spool, size)
	if err != nil {
		return Document{}, nil, fmt.Errorf("open zip: %w", err)
	}

	var dataFile *zip.File
	var images []*zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == DataEntry:
			dataFile = f
		case strings.HasPrefix(f.Name, core.ArchiveImagesDir+"/") && !f.FileInfo().IsDir():
			images = append(images, f)
		}
	}
	if dataFile == nil {
		return Document{}, nil, malformed("decode document", "archive has no %s", DataEntry)
	}

	data, err := readEntry(dataFile)
	if err != nil {
		return Document{}, nil, err
	}
	doc, err := Decode(data)
	if err != nil {
		return Document{}, nil, err
	}

	remap := make(map[string]core.PhotoRef, len(images))
	for _, f := range images {
		if err := ctx.Err(); err != nil {
			p.discardPhotos(remap)
			return Document{}, nil, err
		}
		ref, err := p.extractPhoto(ctx, f)
		if err != nil {
			p.discardPhotos(remap)
			return Document{}, nil, err
		}
		remap[f.Name] = ref
	}
	return doc, remap, nil
}

func (p *Packager) spool(ctx context.Context, handle string) (*os.File, int64, error) {
	rc, err := p.files.OpenForRead(ctx, handle)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()

	if err := os.MkdirAll(p.cacheDir, 0755); err != nil {
		return nil, 0, fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(p.cacheDir, "import-*.zip")
	if err != nil {
		return nil, 0, fmt.Errorf("create spool file: %w", err)
	}
	size, err := io.Copy(tmp, rc)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, fmt.Errorf("spool %s: %w", p.files.DisplayName(handle), err)
	}
	return tmp, size, nil
}

func (p *Packager) extractPhoto(ctx context.Context, f *zip.File) (core.PhotoRef, error) {
	rc, err := f.Open()
	if err != nil {
		return core.NoPhoto, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	ref, err := p.photos.Save(ctx, path.Base(f.Name), rc)
	if err != nil {
		return core.NoPhoto, fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return ref, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

// discardPhotos removes photos extracted by an import that aborted before
// touching the record store.
func (p *Packager) discardPhotos(remap map[string]core.PhotoRef) {
	for _, ref := range remap {
		if err := p.photos.Remove(context.Background(), ref); err != nil {
			p.logger.Warn("Failed to remove extracted photo", log.FieldFile, ref.String(), log.FieldError, err.Error())
		}
	}
}

func (p *Packager) merge(ctx context.Context, doc Document, remap map[string]core.PhotoRef, replaceAll bool) (ImportResult, error) {
	relocate := func(ref core.PhotoRef) core.PhotoRef {
		if ref.Kind != core.PhotoArchivePath {
			return ref
		}
		if local, ok := remap[ref.Value]; ok {
			return local
		}
		return ref
	}

	// Until categories are stored nothing references the extracted photos.
	if replaceAll {
		if err := p.store.DeleteAllExpenses(ctx); err != nil {
			p.discardPhotos(remap)
			return ImportResult{}, fmt.Errorf("clear expenses: %w", err)
		}
	}

	categories := make([]core.Category, 0, len(doc.Categories))
	for _, c := range doc.Categories {
		c.Photo = relocate(c.Photo)
		existing, err := p.store.FindCategoryByName(ctx, c.Name)
		switch {
		case err == nil && !existing.Photo.IsZero():
			c.Photo = existing.Photo
		case err != nil && !errors.Is(err, ports.ErrNotFound):
			p.discardPhotos(remap)
			return ImportResult{}, fmt.Errorf("lookup category %q: %w", c.Name, err)
		}
		categories = append(categories, c)
	}
	if err := p.store.InsertCategories(ctx, categories); err != nil {
		p.discardPhotos(remap)
		return ImportResult{}, fmt.Errorf("insert categories: %w", err)
	}

	incoming := make([]core.Expense, len(doc.Expenses))
	for i, e := range doc.Expenses {
		e.ID = 0
		e.Photo = relocate(e.Photo)
		incoming[i] = e
	}

	toInsert := incoming
	var conflicts []Conflict
	if !replaceAll {
		var err error
		toInsert, conflicts, err = p.detector.Classify(ctx, incoming)
		if err != nil {
			return ImportResult{}, err
		}
	}
	if err := p.store.InsertExpenses(ctx, toInsert); err != nil {
		return ImportResult{}, fmt.Errorf("insert expenses: %w", err)
	}

	return ImportResult{
		Success:    true,
		Inserted:   len(toInsert),
		Categories: len(categories),
		Photos:     len(remap),
		Conflicts:  conflicts,
	}, nil
}
