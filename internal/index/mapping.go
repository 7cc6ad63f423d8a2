package index

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/o2r-project/o2r-finder/pkg/model"
)

const (
	// AllField is the catch-all field every dynamic text field feeds.
	AllField = "_all"
	// SourceField stores the document as JSON so hits can return it whole.
	SourceField = "_source"
	// SpecialField holds identifier strings that must match verbatim.
	SpecialField = "_special"
)

// NewMapping composes a partition mapping. settings is an index-level
// mapping document (analysis, default analyzer, dynamic behaviour). doc,
// when not empty, becomes the default document mapping. The source and
// special fields are always mapped the way the engine needs them.
func NewMapping(settings, doc []byte) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, im); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	}
	if len(doc) > 0 {
		dm := bleve.NewDocumentMapping()
		if err := json.Unmarshal(doc, dm); err != nil {
			return nil, fmt.Errorf("parse mapping: %w", err)
		}
		im.DefaultMapping = dm
	}

	reserveFields(im.DefaultMapping)

	if err := im.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	return im, nil
}

func reserveFields(dm *mapping.DocumentMapping) {
	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	source.IncludeTermVectors = false
	source.DocValues = false

	special := bleve.NewKeywordFieldMapping()
	special.Store = false
	special.IncludeInAll = false
	special.IncludeTermVectors = false

	delete(dm.Properties, SourceField)
	delete(dm.Properties, SpecialField)
	dm.AddFieldMappingsAt(SourceField, source)
	dm.AddFieldMappingsAt(SpecialField, special)
}

// prepare returns the value handed to bleve for doc: a copy with GeoJSON
// type names lower-cased and the serialized source attached.
func prepare(doc model.Document) (map[string]any, error) {
	source, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode source: %w", err)
	}
	out := normalizeGeoJSON(map[string]any(doc)).(map[string]any)
	out[SourceField] = string(source)
	return out, nil
}

func normalizeGeoJSON(v any) any {
	switch val := v.(type) {
	case model.Document:
		return normalizeGeoJSON(map[string]any(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = normalizeGeoJSON(x)
		}
		if typ, ok := out["type"].(string); ok {
			if _, hasCoords := out["coordinates"]; hasCoords {
				out["type"] = strings.ToLower(typ)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = normalizeGeoJSON(x)
		}
		return out
	default:
		return v
	}
}

// decodeSource restores a stored source. A missing source yields an empty document.
func decodeSource(v any) (model.Document, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return model.Document{}, nil
	}
	var doc model.Document
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	return doc, nil
}
