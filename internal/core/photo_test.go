package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePhotoRef(t *testing.T) {
	tests := []struct {
		raw  string
		kind PhotoKind
	}{
		{"", PhotoNone},
		{"content://media/external/images/42", PhotoContentLocator},
		{"images/20240105_Coffee.jpg", PhotoArchivePath},
		{"/data/user/0/photos/abc.jpg", PhotoLocalFile},
		{"imagesX/a.jpg", PhotoLocalFile},
	}
	for _, tt := range tests {
		ref := ParsePhotoRef(tt.raw)
		assert.Equal(t, tt.kind, ref.Kind, tt.raw)
		assert.Equal(t, tt.raw, ref.String(), tt.raw)
	}
}

func TestPhotoConstructors(t *testing.T) {
	assert.True(t, ContentPhoto("").IsZero())
	assert.True(t, LocalPhoto("").IsZero())
	assert.True(t, ArchivePhoto("").IsZero())

	ref := ArchivePhoto("Categoria_Bar.jpg")
	assert.Equal(t, PhotoArchivePath, ref.Kind)
	assert.Equal(t, "images/Categoria_Bar.jpg", ref.Value)

	assert.Equal(t, "media/7", ContentPhoto("content://media/7").ContentPath())
}

func TestPhotoKindRoundTrip(t *testing.T) {
	for _, k := range []PhotoKind{PhotoNone, PhotoContentLocator, PhotoLocalFile, PhotoArchivePath} {
		got, ok := ParsePhotoKind(k.String())
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParsePhotoKind("bogus")
	assert.False(t, ok)
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "Caf__Pausa", SanitizeFileName("Café Pausa"))
	assert.Equal(t, "a-b_c.d", SanitizeFileName("a-b_c.d"))
	assert.Equal(t, "__", SanitizeFileName("/;"))
}
