package backup

import (
	"fmt"
	"time"

	"gastos/internal/core"
)

const (
	photoExt            = ".jpg"
	categoryPhotoPrefix = "Categoria_"
	expenseDateFormat   = "20060102"
)

// PhotoEntry is one image file to be written under images/.
type PhotoEntry struct {
	Source core.PhotoRef
	Name   string
}

// PhotoPlan maps every distinct photo reference of a snapshot to a unique
// file name inside the archive.
type PhotoPlan struct {
	Entries []PhotoEntry
	byRef   map[string]string
	used    map[string]struct{}
}

// PlanPhotos names expense photos first, in snapshot order, then category
// photos. Expense names are <YYYYMMDD>_<name>.jpg, category names
// Categoria_<name>.jpg; collisions get _(n) before the extension.
func PlanPhotos(expenses []core.Expense, categories []core.Category, loc *time.Location) *PhotoPlan {
	p := &PhotoPlan{
		byRef: make(map[string]string),
		used:  make(map[string]struct{}),
	}
	for _, e := range expenses {
		p.assign(e.Photo, e.Time(loc).Format(expenseDateFormat)+"_"+core.SanitizeFileName(e.Name))
	}
	for _, c := range categories {
		p.assign(c.Photo, categoryPhotoPrefix+core.SanitizeFileName(c.Name))
	}
	return p
}

func (p *PhotoPlan) assign(ref core.PhotoRef, stem string) {
	if ref.IsZero() {
		return
	}
	key := ref.String()
	if _, ok := p.byRef[key]; ok {
		return
	}
	name := stem + photoExt
	for n := 1; p.taken(name); n++ {
		name = fmt.Sprintf("%s_(%d)%s", stem, n, photoExt)
	}
	p.byRef[key] = name
	p.used[name] = struct{}{}
	p.Entries = append(p.Entries, PhotoEntry{Source: ref, Name: name})
}

func (p *PhotoPlan) taken(name string) bool {
	_, ok := p.used[name]
	return ok
}

// Lookup returns the archive file name assigned to ref.
func (p *PhotoPlan) Lookup(ref core.PhotoRef) (string, bool) {
	if ref.IsZero() {
		return "", false
	}
	name, ok := p.byRef[ref.String()]
	return name, ok
}

// Drop forgets ref, so Rewrite clears it. Used when the source is missing.
func (p *PhotoPlan) Drop(ref core.PhotoRef) {
	delete(p.byRef, ref.String())
}

// Rewrite returns copies of the snapshot with every planned photo reference
// replaced by its images/<name> path. References the plan does not know are
// cleared.
func (p *PhotoPlan) Rewrite(expenses []core.Expense, categories []core.Category) ([]core.Expense, []core.Category) {
	outE := make([]core.Expense, len(expenses))
	for i, e := range expenses {
		e.Photo = p.archiveRef(e.Photo)
		outE[i] = e
	}
	outC := make([]core.Category, len(categories))
	for i, c := range categories {
		c.Photo = p.archiveRef(c.Photo)
		outC[i] = c
	}
	return outE, outC
}

func (p *PhotoPlan) archiveRef(ref core.PhotoRef) core.PhotoRef {
	name, ok := p.Lookup(ref)
	if !ok {
		return core.NoPhoto
	}
	return core.ArchivePhoto(name)
}
