package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/core"
)

func TestPlanPhotosNaming(t *testing.T) {
	day := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC).UnixMilli()
	expenses := []core.Expense{
		{Name: "Coffee", Timestamp: day, Photo: core.LocalPhoto("/p/a.jpg")},
		{Name: "Coffee", Timestamp: day, Photo: core.LocalPhoto("/p/b.jpg")},
		{Name: "Coffee", Timestamp: day, Photo: core.LocalPhoto("/p/c.jpg")},
		{Name: "Café Pausa", Timestamp: day, Photo: core.ContentPhoto("content://media/1")},
		{Name: "Shared", Timestamp: day, Photo: core.LocalPhoto("/p/a.jpg")},
		{Name: "NoPhoto", Timestamp: day},
	}
	categories := []core.Category{
		{Name: "Bar/Pub", Photo: core.LocalPhoto("/p/bar.jpg")},
		{Name: "Empty"},
	}

	plan := PlanPhotos(expenses, categories, time.UTC)

	names := make([]string, len(plan.Entries))
	for i, e := range plan.Entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{
		"20240105_Coffee.jpg",
		"20240105_Coffee_(1).jpg",
		"20240105_Coffee_(2).jpg",
		"20240105_Caf__Pausa.jpg",
		"Categoria_Bar_Pub.jpg",
	}, names)

	name, ok := plan.Lookup(core.LocalPhoto("/p/a.jpg"))
	require.True(t, ok)
	assert.Equal(t, "20240105_Coffee.jpg", name)
}

func TestPlanPhotosDistinctNames(t *testing.T) {
	day := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC).UnixMilli()
	var expenses []core.Expense
	for i := 0; i < 25; i++ {
		expenses = append(expenses, core.Expense{
			Name:      "Same",
			Timestamp: day,
			Photo:     core.LocalPhoto("/p/" + string(rune('a'+i)) + ".jpg"),
		})
	}
	plan := PlanPhotos(expenses, nil, time.UTC)
	require.Len(t, plan.Entries, 25)

	seen := map[string]bool{}
	for _, e := range plan.Entries {
		assert.False(t, seen[e.Name], "duplicate name %s", e.Name)
		seen[e.Name] = true
	}
}

func TestPlanRewriteAndDrop(t *testing.T) {
	expenses := []core.Expense{
		{Name: "Kept", Photo: core.LocalPhoto("/p/kept.jpg")},
		{Name: "Gone", Photo: core.LocalPhoto("/p/gone.jpg")},
	}
	categories := []core.Category{{Name: "Casa", Photo: core.LocalPhoto("/p/kept.jpg")}}
	plan := PlanPhotos(expenses, categories, time.UTC)
	plan.Drop(core.LocalPhoto("/p/gone.jpg"))

	outE, outC := plan.Rewrite(expenses, categories)
	assert.Equal(t, core.PhotoArchivePath, outE[0].Photo.Kind)
	assert.True(t, outE[1].Photo.IsZero())
	assert.Equal(t, outE[0].Photo, outC[0].Photo)

	// Inputs are untouched.
	assert.Equal(t, core.PhotoLocalFile, expenses[0].Photo.Kind)
}
