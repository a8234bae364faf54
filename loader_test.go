package sheetsql

import (
	"context"
	"sync"
	"testing"

	"github.com/nao1215/sheetsql/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader() *Loader {
	return NewLoader(NewCatalog(nil), NewCache(), LoaderOptions{ChunkSize: 2})
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := salesBook(t)
	loader := newTestLoader()

	rel, key, err := loader.Load(ctx, path, "Sales", 0)
	require.NoError(t, err)

	assert.Equal(t, 3, key.HeaderRow)
	assert.Equal(t, "Sales", key.Sheet)
	assert.Equal(t, []model.Column{
		{Name: "Region", Kind: model.KindString},
		{Name: "Amount", Kind: model.KindInteger},
		{Name: "Day", Kind: model.KindDate},
	}, rel.Columns())
	require.Equal(t, 3, rel.Len())
	v, ok := rel.Value(1, "Amount")
	require.True(t, ok)
	assert.Equal(t, int64(5), v.AsInt())

	again, key2, err := loader.Load(ctx, path, "Sales", 0)
	require.NoError(t, err)
	assert.Same(t, rel, again)
	assert.Equal(t, key, key2)
	assert.Equal(t, 1, loader.Cache().Len())
}

func TestLoader_HeaderOverride(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := salesBook(t)
	loader := newTestLoader()

	_, inferred, err := loader.Load(ctx, path, "Sales", 0)
	require.NoError(t, err)
	rel, key, err := loader.Load(ctx, path, "Sales", 4)
	require.NoError(t, err)

	assert.NotEqual(t, inferred, key)
	assert.Equal(t, 4, rel.HeaderRow())
	assert.Equal(t, 2, rel.Len())
	assert.Equal(t, 2, loader.Cache().Len())
}

func TestLoader_Errors(t *testing.T) {
	t.Parallel()

	path := salesBook(t)

	tests := []struct {
		name   string
		sheet  string
		header int
		want   error
	}{
		{name: "unknown sheet", sheet: "Missing", want: ErrSheetNotFound},
		{name: "header beyond the last row", sheet: "Regions", header: 99, want: ErrHeaderOutOfRange},
		{name: "negative header row", sheet: "Regions", header: -1, want: ErrHeaderOutOfRange},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := newTestLoader().Load(context.Background(), path, tt.sheet, tt.header)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrLoad)
		})
	}
}

func TestLoader_ReloadLeavesEarlierRelationsIntact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := salesBook(t)
	loader := newTestLoader()

	before, keyBefore, err := loader.Load(ctx, path, "Regions", 0)
	require.NoError(t, err)
	require.Equal(t, 2, before.Len())

	writeWorkbook(t, path, map[string][][]any{
		"Regions": {
			{"Region", "Manager"},
			{"North", "Ito"},
		},
	}, "Regions")

	after, keyAfter, err := loader.Reload(ctx, path, "Regions", 0)
	require.NoError(t, err)

	assert.NotEqual(t, keyBefore.Fingerprint, keyAfter.Fingerprint)
	assert.Equal(t, 1, after.Len())
	assert.Equal(t, 2, before.Len())
	v, _ := before.Value(0, "Region")
	assert.Equal(t, "East", v.String())
	assert.False(t, loader.Cache().Contains(keyBefore))
}

func TestLoader_CacheHitIgnoresFileChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := salesBook(t)
	loader := newTestLoader()

	first, _, err := loader.Load(ctx, path, "Regions", 0)
	require.NoError(t, err)

	writeWorkbook(t, path, map[string][][]any{
		"Sales": {
			{"Quarterly report"},
			{},
			{"Region", "Amount", "Day"},
			{"East", 10, "2024-01-05"},
			{"West", 5, "2024-02-01"},
			{"East", 7, "2024-03-01"},
		},
		"Regions": {
			{"Region", "Manager"},
			{"East", "Kim"},
			{"West", "Lee"},
			{"SENTINEL", "X"},
		},
	}, "Sales", "Regions")

	cached, _, err := loader.Load(ctx, path, "Regions", 0)
	require.NoError(t, err)
	assert.Same(t, first, cached)
	assert.False(t, hasRegion(cached, "SENTINEL"))

	fresh, _, err := loader.Reload(ctx, path, "Regions", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.Len())
	assert.True(t, hasRegion(fresh, "SENTINEL"))
	assert.Equal(t, 2, first.Len())
	assert.False(t, hasRegion(first, "SENTINEL"))
}

func hasRegion(rel *model.Relation, region string) bool {
	for i := 0; i < rel.Len(); i++ {
		if v, ok := rel.Value(i, "Region"); ok && v.String() == region {
			return true
		}
	}
	return false
}

func TestLoader_InvalidateUnchangedFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := salesBook(t)
	loader := newTestLoader()

	_, _, err := loader.Load(ctx, path, "Sales", 0)
	require.NoError(t, err)
	_, _, err = loader.Load(ctx, path, "Regions", 0)
	require.NoError(t, err)

	n, err := loader.Invalidate(ctx, path, "Sales")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, loader.Cache().Len())
}

func TestLoader_CancelledLoadIsNotCached(t *testing.T) {
	t.Parallel()

	path := salesBook(t)
	loader := newTestLoader()
	_, err := loader.Catalog().Open(context.Background(), path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = loader.Load(ctx, path, "Sales", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, loader.Cache().Len())
}

func TestLoader_LiveCallerSurvivesCancelledPeer(t *testing.T) {
	t.Parallel()

	path := salesBook(t)
	loader := newTestLoader()
	_, err := loader.Catalog().Open(context.Background(), path)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	const n = 8
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Fails unless a live caller has already cached the relation.
		_, _, _ = loader.Load(cancelled, path, "Sales", 3)
	}()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, _, err := loader.Load(context.Background(), path, "Sales", 3)
			if assert.NoError(t, err) {
				assert.Equal(t, 3, rel.Len())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, loader.Cache().Len())
}

func TestLoader_ConcurrentLoadsShareOneRelation(t *testing.T) {
	t.Parallel()

	path := salesBook(t)
	loader := newTestLoader()

	const n = 8
	got := make([]*model.Relation, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, _, err := loader.Load(context.Background(), path, "Sales", 0)
			assert.NoError(t, err)
			got[i] = rel
		}()
	}
	wg.Wait()

	for _, rel := range got[1:] {
		assert.Same(t, got[0], rel)
	}
	assert.Equal(t, 1, loader.Cache().Len())
}

func TestLoader_InspectHeader(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := salesBook(t)
	loader := newTestLoader()

	insp, err := loader.InspectHeader(ctx, path, "Sales", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, insp.Row)
	assert.True(t, insp.Inferred)
	require.Len(t, insp.Scores, len(insp.Sample))
	assert.Equal(t, 3, insp.Scores[2])

	insp, err = loader.InspectHeader(ctx, path, "Sales", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, insp.Row)
	assert.False(t, insp.Inferred)
}
