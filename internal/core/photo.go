package core

import (
	"path"
	"strings"
)

// PhotoKind tells which of the three photo reference flavours a PhotoRef holds.
type PhotoKind int

const (
	PhotoNone PhotoKind = iota
	// PhotoContentLocator is a device content locator such as content://media/42.
	PhotoContentLocator
	// PhotoLocalFile is a file owned by the app's photo storage.
	PhotoLocalFile
	// PhotoArchivePath is a path relative to the root of a backup archive.
	PhotoArchivePath
)

const (
	contentScheme = "content://"
	// ArchiveImagesDir is the folder holding photos inside a backup archive.
	ArchiveImagesDir = "images"
)

var photoKindNames = map[PhotoKind]string{
	PhotoNone:           "none",
	PhotoContentLocator: "content",
	PhotoLocalFile:      "file",
	PhotoArchivePath:    "archive",
}

func (k PhotoKind) String() string {
	if s, ok := photoKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParsePhotoKind is the inverse of PhotoKind.String.
func ParsePhotoKind(s string) (PhotoKind, bool) {
	for k, name := range photoKindNames {
		if name == s {
			return k, true
		}
	}
	return PhotoNone, false
}

// PhotoRef is an optional reference to a photo.
type PhotoRef struct {
	Kind  PhotoKind
	Value string
}

// NoPhoto is the empty reference.
var NoPhoto = PhotoRef{}

func ContentPhoto(uri string) PhotoRef {
	if uri == "" {
		return NoPhoto
	}
	return PhotoRef{Kind: PhotoContentLocator, Value: uri}
}

func LocalPhoto(p string) PhotoRef {
	if p == "" {
		return NoPhoto
	}
	return PhotoRef{Kind: PhotoLocalFile, Value: p}
}

// ArchivePhoto builds the archive-relative reference images/<name>.
func ArchivePhoto(name string) PhotoRef {
	if name == "" {
		return NoPhoto
	}
	return PhotoRef{Kind: PhotoArchivePath, Value: path.Join(ArchiveImagesDir, name)}
}

// ParsePhotoRef classifies a raw reference coming from a backup document or
// user input.
func ParsePhotoRef(raw string) PhotoRef {
	switch {
	case raw == "":
		return NoPhoto
	case strings.HasPrefix(raw, contentScheme):
		return PhotoRef{Kind: PhotoContentLocator, Value: raw}
	case strings.HasPrefix(raw, ArchiveImagesDir+"/"):
		return PhotoRef{Kind: PhotoArchivePath, Value: raw}
	default:
		return PhotoRef{Kind: PhotoLocalFile, Value: raw}
	}
}

func (p PhotoRef) IsZero() bool {
	return p.Kind == PhotoNone || p.Value == ""
}

// String returns the raw reference, empty when there is no photo.
func (p PhotoRef) String() string {
	if p.IsZero() {
		return ""
	}
	return p.Value
}

// ContentPath strips the content:// scheme from a content locator.
func (p PhotoRef) ContentPath() string {
	return strings.TrimPrefix(p.Value, contentScheme)
}

// SanitizeFileName maps every rune outside [A-Za-z0-9._-] to '_'.
func SanitizeFileName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
