package index

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/o2r-project/o2r-finder/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMapping = `{
  "enabled": true,
  "dynamic": true,
  "properties": {
    "period": {
      "enabled": true,
      "dynamic": true,
      "properties": {
        "begin": {"enabled": true, "dynamic": false, "fields": [{"name": "begin", "type": "datetime", "index": true, "docvalues": true}]},
        "end": {"enabled": true, "dynamic": false, "fields": [{"name": "end", "type": "datetime", "index": true, "docvalues": true}]}
      }
    },
    "area": {"enabled": true, "dynamic": false, "fields": [{"name": "area", "type": "geoshape", "index": true, "docvalues": true}]}
  }
}`

func mustDocument(t *testing.T, s string) model.Document {
	t.Helper()
	var doc model.Document
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	return doc
}

func box(minLon, minLat, maxLon, maxLat float64) map[string]any {
	return map[string]any{
		"type": "Polygon",
		"coordinates": []any{[]any{
			[]any{minLon, minLat}, []any{maxLon, minLat}, []any{maxLon, maxLat},
			[]any{minLon, maxLat}, []any{minLon, minLat},
		}},
	}
}

func newTestEngine(t *testing.T, partitions ...string) *Bleve {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InMemory = true
	engine, err := NewBleve(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	for _, p := range partitions {
		m, err := NewMapping(nil, []byte(testMapping))
		require.NoError(t, err)
		require.NoError(t, engine.CreatePartition(context.Background(), p, m))
	}
	return engine
}

func seed(t *testing.T, engine *Bleve) {
	t.Helper()
	ctx := context.Background()
	docs := map[string]model.Document{
		"finland": {"title": "lakes of finland", "area": box(24, 60, 26, 62),
			"period": map[string]any{"begin": "2000-01-01T00:00:00Z", "end": "2000-12-31T00:00:00Z"}},
		"ruhr": {"title": "coal mining", "area": box(6.5, 51.2, 7.8, 51.7),
			"period": map[string]any{"begin": "2010-01-01T00:00:00Z", "end": "2010-12-31T00:00:00Z"}},
		"kongo": {"title": "river basin", "area": box(15, -5, 17, -3),
			"period": map[string]any{"begin": "2005-01-01T00:00:00Z", "end": "2005-12-31T00:00:00Z"}},
		"brazil": {"title": "rain forest", "area": box(-50, -15, -45, -10),
			"period":   map[string]any{"begin": "2015-03-01T00:00:00Z", "end": "2015-10-01T00:00:00Z"},
			"_special": []string{"10.1115/1.2128636", "//dx.doi.org/10.1115/1.2128636"}},
	}
	for id, doc := range docs {
		require.NoError(t, engine.Upsert(ctx, "compendia", id, doc))
	}
}

func hitIDs(res *Result) []string {
	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	return ids
}

func TestNewMapping(t *testing.T) {
	m, err := NewMapping([]byte(`{"default_analyzer": "standard"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "standard", m.DefaultAnalyzer)
	assertReserved(t, m)

	m, err = NewMapping(nil, []byte(testMapping))
	require.NoError(t, err)
	assertReserved(t, m)
	assert.Contains(t, m.DefaultMapping.Properties, "area")

	_, err = NewMapping([]byte(`{`), nil)
	assert.Error(t, err)
	_, err = NewMapping(nil, []byte(`[]`))
	assert.Error(t, err)
}

func assertReserved(t *testing.T, m *mapping.IndexMappingImpl) {
	t.Helper()
	source := m.DefaultMapping.Properties[SourceField]
	require.NotNil(t, source)
	require.Len(t, source.Fields, 1)
	assert.True(t, source.Fields[0].Store)
	assert.False(t, source.Fields[0].Index)

	special := m.DefaultMapping.Properties[SpecialField]
	require.NotNil(t, special)
	require.Len(t, special.Fields, 1)
	assert.Equal(t, "keyword", special.Fields[0].Analyzer)
}

func TestEngine_UpsertSearchDelete(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, "compendia")
	seed(t, engine)

	n, err := engine.Count(ctx, "compendia")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)

	req, err := SimpleRequest("coal", "coal", 10)
	require.NoError(t, err)
	res, err := engine.Search(ctx, []string{"compendia"}, req)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, "ruhr", res.Hits[0].ID)
	assert.Equal(t, "coal mining", res.Hits[0].Source["title"])
	assert.Greater(t, res.MaxScore, 0.0)

	// upsert replaces
	require.NoError(t, engine.Upsert(ctx, "compendia", "ruhr", model.Document{"title": "steel works"}))
	res, err = engine.Search(ctx, []string{"compendia"}, mustSimple(t, "coal"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.Total)

	require.NoError(t, engine.Delete(ctx, "compendia", "ruhr"))
	require.NoError(t, engine.Delete(ctx, "compendia", "never-indexed"))
	n, err = engine.Count(ctx, "compendia")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func mustSimple(t *testing.T, q string) *bleve.SearchRequest {
	t.Helper()
	req, err := SimpleRequest(q, q, 10)
	require.NoError(t, err)
	return req
}

func TestEngine_SourceKeepsOriginalShape(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, "compendia")
	require.NoError(t, engine.Upsert(ctx, "compendia", "x", model.Document{"title": "ships", "area": box(1, 1, 2, 2)}))

	res, err := engine.Search(ctx, []string{"compendia"}, mustSimple(t, "ships"))
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	area := res.Hits[0].Source["area"].(map[string]any)
	assert.Equal(t, "Polygon", area["type"])
}

func TestEngine_SpecialField(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, "compendia")
	seed(t, engine)

	req, err := SimpleRequest(`\/\/dx.doi.org\/10.1115\/1.2128636`, "//dx.doi.org/10.1115/1.2128636", 10)
	require.NoError(t, err)
	res, err := engine.Search(ctx, []string{"compendia"}, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Total)
	assert.Equal(t, []string{"brazil"}, hitIDs(res))
}

func TestEngine_MatchAll(t *testing.T) {
	engine := newTestEngine(t, "compendia", "jobs")
	seed(t, engine)
	require.NoError(t, engine.Upsert(context.Background(), "jobs", "j1", model.Document{"status": "success"}))

	req, err := SimpleRequest("*", "*", 10)
	require.NoError(t, err)
	res, err := engine.Search(context.Background(), []string{"compendia", "jobs"}, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.Total)
}

func TestEngine_MissingPartition(t *testing.T) {
	engine := newTestEngine(t, "compendia")

	_, err := engine.Search(context.Background(), []string{"compendia", "nope"}, mustSimple(t, "x"))
	var se *SearchError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode())
	assert.Equal(t, "no such index [nope]", se.Reason())

	err = engine.Upsert(context.Background(), "nope", "1", model.Document{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEngine_Partitions(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	exists, err := engine.PartitionExists(ctx, "compendia")
	require.NoError(t, err)
	assert.False(t, exists)

	m, err := NewMapping(nil, nil)
	require.NoError(t, err)
	require.NoError(t, engine.CreatePartition(ctx, "compendia", m))
	assert.ErrorIs(t, engine.CreatePartition(ctx, "compendia", m), ErrPartitionExists)

	exists, err = engine.PartitionExists(ctx, "compendia")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []string{"compendia"}, engine.Partitions())

	require.NoError(t, engine.DeletePartition(ctx, "compendia"))
	exists, err = engine.PartitionExists(ctx, "compendia")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.ErrorIs(t, engine.OpenPartition(ctx, "compendia"), model.ErrNotFound)
}

func TestEngine_OnDisk(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()

	engine, err := NewBleve(cfg, nil)
	require.NoError(t, err)
	m, err := NewMapping(nil, nil)
	require.NoError(t, err)
	require.NoError(t, engine.CreatePartition(ctx, "jobs", m))
	require.NoError(t, engine.Upsert(ctx, "jobs", "j1", model.Document{"status": "success"}))
	require.NoError(t, engine.Close())
	assert.ErrorIs(t, engine.Ping(ctx), ErrClosed)

	reopened, err := NewBleve(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	exists, err := reopened.PartitionExists(ctx, "jobs")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, reopened.OpenPartition(ctx, "jobs"))
	require.NoError(t, reopened.Ping(ctx))

	n, err := reopened.Count(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	assert.ErrorIs(t, reopened.OpenPartition(ctx, "compendia"), model.ErrNotFound)
}

func TestParseRequest_Temporal(t *testing.T) {
	engine := newTestEngine(t, "compendia")
	seed(t, engine)

	req, err := ParseRequest([]byte(`{
		"query": {"bool": {
			"must": {"match_all": {}},
			"filter": [
				{"range": {"period.begin": {"from": "2015-01-01T00:00:00.000Z"}}},
				{"range": {"period.end": {"to": "2016-01-02T00:00:00.000Z"}}}
			]
		}},
		"from": 0,
		"size": 10
	}`), 10)
	require.NoError(t, err)

	res, err := engine.Search(context.Background(), []string{"compendia"}, req.SearchRequest)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Total)
	assert.Equal(t, []string{"brazil"}, hitIDs(res))
}

const europe = `[[[-7.294921874999999, 38.54816542304656], [34.013671875, 38.54816542304656],
	[34.013671875, 68.6245436634471], [-7.294921874999999, 68.6245436634471],
	[-7.294921874999999, 38.54816542304656]]]`

func TestParseRequest_GeoShape(t *testing.T) {
	engine := newTestEngine(t, "compendia")
	seed(t, engine)

	req, err := ParseRequest([]byte(`{"query": {"bool": {
		"must": {"match_all": {}},
		"filter": {"geo_shape": {"area": {
			"shape": {"type": "polygon", "coordinates": `+europe+`},
			"relation": "within"
		}}}
	}}}`), 10)
	require.NoError(t, err)

	res, err := engine.Search(context.Background(), []string{"compendia"}, req.SearchRequest)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Total)
	assert.ElementsMatch(t, []string{"finland", "ruhr"}, hitIDs(res))
}

// polygon renders a closed rectangle as a geo_shape query shape.
func polygon(minLon, minLat, maxLon, maxLat float64) string {
	b, _ := json.Marshal(box(minLon, minLat, maxLon, maxLat))
	return string(b)
}

func TestParseRequest_Disjoint(t *testing.T) {
	engine := newTestEngine(t, "compendia")
	seed(t, engine)

	tests := []struct {
		name  string
		shape string
		want  []string
	}{
		{"europe", `{"type": "polygon", "coordinates": ` + europe + `}`, []string{"kongo", "brazil"}},
		{"kongo envelope", polygon(14, -6, 18, -2), []string{"finland", "ruhr", "brazil"}},
		{"australia", polygon(113, -44, 154, -10), []string{"finland", "ruhr", "kongo", "brazil"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(`{"query": {"geo_shape": {"area": {
				"shape": `+tt.shape+`, "relation": "disjoint"}}}}`), 10)
			require.NoError(t, err)

			res, err := engine.Search(context.Background(), []string{"compendia"}, req.SearchRequest)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, hitIDs(res))
		})
	}
}

func TestParseRequest_Relations(t *testing.T) {
	engine := newTestEngine(t, "compendia")
	seed(t, engine)

	tests := []struct {
		name     string
		shape    string
		relation string
		want     []string
	}{
		{"contains kongo", polygon(15.5, -4.5, 16.5, -3.5), "contains", []string{"kongo"}},
		{"intersects finland", polygon(25, 61, 27, 63), "intersects", []string{"finland"}},
		{"default relation", polygon(25, 61, 27, 63), "", []string{"finland"}},
		{"within nothing", polygon(113, -44, 154, -10), "within", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(`{"query": {"geo_shape": {"area": {
				"shape": `+tt.shape+`, "relation": "`+tt.relation+`"}}}}`), 10)
			require.NoError(t, err)

			res, err := engine.Search(context.Background(), []string{"compendia"}, req.SearchRequest)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, hitIDs(res))
		})
	}
}

func TestParseRequest_Indices(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"no selection", `{"query": {"match_all": {}}}`, nil},
		{"terms", `{"query": {"terms": {"_index": ["compendia"]}}}`, []string{"compendia"}},
		{"term", `{"query": {"term": {"_index": "jobs"}}}`, []string{"jobs"}},
		{"term with value", `{"query": {"term": {"_index": {"value": "jobs"}}}}`, []string{"jobs"}},
		{"bool must", `{"query": {"bool": {"must": {"terms": {"_index": ["jobs", "compendia"]}}}}}`, []string{"jobs", "compendia"}},
		{"bool filter array", `{"query": {"bool": {"must": {"match": {"title": "x"}}, "filter": [{"term": {"_index": "compendia"}}]}}}`, []string{"compendia"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.body), 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Indices)
		})
	}
}

func TestParseRequest_IndexClauseMatchesAll(t *testing.T) {
	engine := newTestEngine(t, "compendia")
	seed(t, engine)

	req, err := ParseRequest([]byte(`{"query": {"bool": {
		"must": [{"terms": {"_index": ["compendia"]}}, {"match": {"title": "forest"}}]
	}}}`), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"compendia"}, req.Indices)

	res, err := engine.Search(context.Background(), []string{"compendia"}, req.SearchRequest)
	require.NoError(t, err)
	assert.Equal(t, []string{"brazil"}, hitIDs(res))
}

func TestParseRequest_Clauses(t *testing.T) {
	engine := newTestEngine(t, "compendia")
	seed(t, engine)

	tests := []struct {
		name string
		body string
		want []string
	}{
		{"match", `{"query": {"match": {"title": "forest"}}}`, []string{"brazil"}},
		{"match with operator", `{"query": {"match": {"title": {"query": "rain desert", "operator": "and"}}}}`, []string{}},
		{"match phrase", `{"query": {"match_phrase": {"title": "coal mining"}}}`, []string{"ruhr"}},
		{"term", `{"query": {"term": {"_special": "10.1115/1.2128636"}}}`, []string{"brazil"}},
		{"terms", `{"query": {"terms": {"title": ["lakes", "river"]}}}`, []string{"finland", "kongo"}},
		{"prefix", `{"query": {"prefix": {"title": {"value": "min"}}}}`, []string{"ruhr"}},
		{"ids", `{"query": {"ids": {"values": ["kongo"]}}}`, []string{"kongo"}},
		{"must not", `{"query": {"bool": {"must_not": {"match": {"title": "coal"}}}}}`, []string{"finland", "kongo", "brazil"}},
		{"should only", `{"query": {"bool": {"should": [{"match": {"title": "lakes"}}, {"match": {"title": "forest"}}]}}}`, []string{"finland", "brazil"}},
		{"query string", `{"query": {"query_string": {"query": "river"}}}`, []string{"kongo"}},
		{"special query string", `{"query": {"query_string": {"default_field": "_special", "query": "//dx.doi.org/10.1115/1.2128636"}}}`, []string{"brazil"}},
		{"empty body", `{}`, []string{"finland", "ruhr", "kongo", "brazil"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.body), 10)
			require.NoError(t, err)
			res, err := engine.Search(context.Background(), []string{"compendia"}, req.SearchRequest)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, hitIDs(res))
		})
	}
}

func TestParseRequest_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantReason bool
	}{
		{"not json", `{"query":`, true},
		{"unknown key", `{"aggs": {}}`, false},
		{"analyzer key", `{"query": {"match_all": {}}, "analyzer": "standard"}`, false},
		{"index term not a string", `{"query": {"term": {"_index": 3}}}`, true},
		{"empty index terms", `{"query": {"terms": {"_index": []}}}`, true},
		{"unknown clause", `{"query": {"fuzzy_thing": {}}}`, true},
		{"two clauses", `{"query": {"match_all": {}, "match_none": {}}}`, true},
		{"negative size", `{"size": -1}`, true},
		{"range without bound", `{"query": {"range": {"x": {}}}}`, true},
		{"unknown relation", `{"query": {"geo_shape": {"area": {"shape": {"type": "point", "coordinates": [1, 2]}, "relation": "near"}}}}`, true},
		{"unclosed ring", `{"query": {"geo_shape": {"area": {"shape": {"type": "polygon", "coordinates": [[[34.0, 38.5], [34.0, 68.6], [-7.2, 68.6], [-7.2, 38.5]]]}, "relation": "within"}}}}`, false},
		{"too few positions", `{"query": {"geo_shape": {"area": {"shape": {"type": "polygon", "coordinates": [[[1, 1], [2, 2], [1, 1]]]}}}}}`, false},
		{"unsupported shape", `{"query": {"geo_shape": {"area": {"shape": {"type": "hexagon", "coordinates": [1, 2]}}}}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.body), 10)
			var se *SearchError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusBadRequest, se.StatusCode())
			if tt.wantReason {
				assert.NotEmpty(t, se.Reason())
			} else {
				assert.Empty(t, se.Reason())
			}
		})
	}
}

func TestParseRequest_SizeAndSort(t *testing.T) {
	req, err := ParseRequest([]byte(`{"size": 3, "from": 2, "sort": ["title", {"_score": {"order": "desc"}}]}`), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, req.Size)
	assert.Equal(t, 2, req.From)
	assert.Len(t, req.Sort, 2)

	req, err = ParseRequest([]byte(`{}`), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, req.Size)
}

func TestShapeCoordinates(t *testing.T) {
	typ, coords, err := shape{Type: "Polygon", Coordinates: json.RawMessage(europe)}.coordinates()
	require.NoError(t, err)
	assert.Equal(t, "polygon", typ)
	require.Len(t, coords, 1)
	assert.Len(t, coords[0][0], 5)

	typ, coords, err = shape{Type: "point", Coordinates: json.RawMessage(`[7.6, 51.9]`)}.coordinates()
	require.NoError(t, err)
	assert.Equal(t, "point", typ)
	assert.Equal(t, []float64{7.6, 51.9}, coords[0][0][0])

	_, _, err = shape{Type: "point", Coordinates: json.RawMessage(`[200, 0]`)}.coordinates()
	assert.ErrorIs(t, err, errInvalidShape)

	_, _, err = shape{Type: "envelope", Coordinates: json.RawMessage(`[[1, 2], [3, 4], [5, 6]]`)}.coordinates()
	assert.ErrorIs(t, err, errInvalidShape)

	_, coords, err = shape{Type: "MultiPolygon", Coordinates: json.RawMessage(`[` + europe + `,` + europe + `]`)}.coordinates()
	require.NoError(t, err)
	assert.Len(t, coords, 2)
}

func TestSearchError(t *testing.T) {
	se := &SearchError{Causes: []string{"outer", "inner"}}
	assert.Equal(t, "inner", se.Reason())
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode())
	assert.Contains(t, se.Error(), "inner")

	assert.Empty(t, (&SearchError{Status: 400}).Reason())
}

func TestConfig(t *testing.T) {
	t.Setenv("FINDER_INDEX_COMPENDIA", "o2r-compendia")
	t.Setenv("FINDER_RECREATE_INDEX", "false")

	var cfg Config
	cfg.ApplyDefaults()
	cfg.ApplyEnvOverrides()
	cfg.ResolvePaths("/etc/finder", "/var/lib/finder")

	assert.Equal(t, "/var/lib/finder/index", cfg.Dir)
	assert.Equal(t, "o2r-compendia", cfg.Partitions.Compendia.Name)
	assert.Equal(t, "jobs", cfg.Partitions.Jobs.Name)
	assert.False(t, cfg.RecreateOnStartup)
	require.NoError(t, cfg.Validate())

	cfg.Partitions.Jobs.Name = "o2r-compendia"
	assert.Error(t, cfg.Validate())
}
