package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/o2r-project/o2r-finder/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T) (*Pipeline, Config) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BasePath = t.TempDir()
	p := NewPipeline(cfg, nil, nil, nil)
	p.now = func() time.Time { return time.Date(2017, 5, 1, 12, 0, 0, 0, time.UTC) }
	return p, cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func compendiumRecord() model.Document {
	return model.Document{
		"_id":       "58a2e0ea1d68491233b925e8",
		"__v":       int64(0),
		"id":        "0ShuS",
		"user":      "0000-0001-6021-1617",
		"createdAt": "2017-02-14T10:44:26.573Z",
		"metadata": map[string]any{
			"o2r": map[string]any{
				"title": "Capacity of container ships",
				"identifier": map[string]any{
					"doi":    "10.1006/jeem.1994.1031",
					"doiurl": "https://dx.doi.org/10.1006/jeem.1994.1031",
				},
			},
			"raw":    map[string]any{"title": "untrusted"},
			"zenodo": map[string]any{"title": "ignored"},
		},
	}
}

func TestTransform_Compendium(t *testing.T) {
	p, cfg := newTestPipeline(t)
	root := cfg.CompendiumRoot("0ShuS")
	writeFile(t, filepath.Join(root, "main.Rmd"), "the analysis")
	writeFile(t, filepath.Join(root, "data", "data.csv"), "a,b")
	writeFile(t, filepath.Join(root, "data", "image.png"), "\x89PNG")

	record := compendiumRecord()
	doc, err := p.Transform(context.Background(), Compendium, record)
	require.NoError(t, err)

	assert.Equal(t, "58a2e0ea1d68491233b925e8", doc["id"])
	assert.Equal(t, "0ShuS", doc["compendium_id"])
	assert.NotContains(t, doc, "_id")
	assert.NotContains(t, doc, "__v")
	assert.Equal(t, "0000-0001-6021-1617", doc["user"])

	metadata := doc["metadata"].(map[string]any)
	assert.Len(t, metadata, 1)
	assert.Contains(t, metadata, "o2r")

	assert.Equal(t, []string{
		"10.1006/jeem.1994.1031",
		"//dx.doi.org/10.1006/jeem.1994.1031",
	}, doc["_special"])

	files := doc["files"].(map[string]any)
	assert.Equal(t, "/api/v1/compendium/0ShuS/data", files["path"])
	children := files["children"].([]any)
	require.Len(t, children, 2)
	assert.Equal(t, "/api/v1/compendium/0ShuS/data/data", children[0].(map[string]any)["path"])

	texts := doc["texts"].([]any)
	require.Len(t, texts, 3)
	byPath := map[string]map[string]any{}
	for _, tx := range texts {
		m := tx.(map[string]any)
		byPath[m["path"].(string)] = m
	}
	assert.Equal(t, "a,b", byPath["data/data.csv"]["content"])
	assert.Equal(t, "the analysis", byPath["main.Rmd"]["content"])
	assert.Equal(t, "image/png", byPath["data/image.png"]["type"])
	assert.NotContains(t, byPath["data/image.png"], "content")

	// input record untouched
	assert.Equal(t, "0ShuS", record["id"])
	assert.Contains(t, record, "_id")
	assert.Contains(t, record["metadata"].(map[string]any), "raw")

	entries := p.Log().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, LogEntry{
		Time:    time.Date(2017, 5, 1, 12, 0, 0, 0, time.UTC),
		ID:      "0ShuS",
		Entity:  Compendium,
		Outcome: OutcomeSuccess,
	}, entries[0])
}

func TestTransform_CompendiumWithoutDirectory(t *testing.T) {
	p, _ := newTestPipeline(t)

	doc, err := p.Transform(context.Background(), Compendium, compendiumRecord())
	require.NoError(t, err)
	assert.NotContains(t, doc, "files")
	assert.NotContains(t, doc, "texts")
}

func TestTransform_KeepsExistingFiles(t *testing.T) {
	p, cfg := newTestPipeline(t)
	writeFile(t, filepath.Join(cfg.CompendiumRoot("0ShuS"), "main.Rmd"), "x")

	record := compendiumRecord()
	record["files"] = map[string]any{"path": "/upstream"}

	doc, err := p.Transform(context.Background(), Compendium, record)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "/upstream"}, doc["files"])
	assert.NotContains(t, doc, "texts")

	p.cfg.ReloadFileTree = true
	doc, err = p.Transform(context.Background(), Compendium, record)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/compendium/0ShuS/data", doc["files"].(map[string]any)["path"])
}

func TestTransform_CompendiumWithoutMetadata(t *testing.T) {
	p, _ := newTestPipeline(t)
	record := compendiumRecord()
	delete(record, "metadata")

	doc, err := p.Transform(context.Background(), Compendium, record)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, doc["metadata"])
	assert.NotContains(t, doc, "_special")
}

func TestTransform_CompendiumFailure(t *testing.T) {
	p, _ := newTestPipeline(t)
	record := compendiumRecord()
	delete(record, "id")

	doc, err := p.Transform(context.Background(), Compendium, record)
	assert.Nil(t, doc)

	var terr *TransformError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, Compendium, terr.Entity)
	assert.ErrorIs(t, err, errMissingDomainID)

	entries := p.Log().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "error: record has no id", entries[0].Outcome)
}

func TestTransform_Job(t *testing.T) {
	p, _ := newTestPipeline(t)
	record := model.Document{
		"_id":           "58a2e0ea1d68491233b925f0",
		"__v":           int64(3),
		"id":            "jK7ab",
		"compendium_id": "0ShuS",
		"steps":         map[string]any{"validate_bag": map[string]any{"status": "success"}},
	}

	doc, err := p.Transform(context.Background(), Job, record)
	require.NoError(t, err)
	assert.Equal(t, model.Document{
		"id":            "58a2e0ea1d68491233b925f0",
		"job_id":        "jK7ab",
		"compendium_id": "0ShuS",
		"steps":         map[string]any{"validate_bag": map[string]any{"status": "success"}},
	}, doc)
}

func TestTransform_Idempotent(t *testing.T) {
	p, cfg := newTestPipeline(t)
	writeFile(t, filepath.Join(cfg.CompendiumRoot("0ShuS"), "main.Rmd"), "stable")

	first, err := p.Transform(context.Background(), Compendium, compendiumRecord())
	require.NoError(t, err)
	second, err := p.Transform(context.Background(), Compendium, compendiumRecord())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFor(t *testing.T) {
	p, _ := newTestPipeline(t)

	fn, err := p.For(Job)
	require.NoError(t, err)
	doc, err := fn(context.Background(), model.Document{"_id": "abc", "id": "j1"})
	require.NoError(t, err)
	assert.Equal(t, "j1", doc["job_id"])

	_, err = p.For(Entity("session"))
	assert.ErrorIs(t, err, errUnknownEntity)
}

func TestLog_Ring(t *testing.T) {
	log := NewLog(3)
	for i := 0; i < 5; i++ {
		log.Append(LogEntry{ID: fmt.Sprint(i)})
	}

	entries := log.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"2", "3", "4"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
	assert.Equal(t, 3, log.Cap())
}

func TestLog_ConcurrentAppend(t *testing.T) {
	log := NewLog(20)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				log.Append(LogEntry{ID: "x", Outcome: OutcomeSuccess})
			}
		}()
	}
	wg.Wait()

	entries := log.Entries()
	assert.Len(t, entries, 20)
	for _, e := range entries {
		assert.Equal(t, "x", e.ID)
	}
}

func TestSpecialValues(t *testing.T) {
	got := specialValues(map[string]any{
		"identifier": map[string]any{
			"doi":    "10.1115/1.2128636",
			"doiurl": "https://doi.org/10.1115/1.2128636",
		},
		"keywords": []any{"ships", "http://example.org/vocab/term", "not a url ://"},
		"title":    "plain text",
	})

	assert.Equal(t, []string{
		"10.1115/1.2128636",
		"//doi.org/10.1115/1.2128636",
		"//example.org/vocab/term",
	}, got)
}
