package model

// Document is a JSON object as it travels between the primary store, the
// transform pipeline and the search index.
//
//	"id" holds the primary-store identifier once a record is transformed.
//	"createdAt" and "updatedAt" are managed by the upstream services.
type Document map[string]interface{}

// serverManagedFields never leave the gateway.
var serverManagedFields = []string{"id", "createdAt", "updatedAt", "_index", "_type", "_id"}

func (doc Document) GetID() string {
	if id, ok := doc["id"].(string); ok {
		return id
	}
	return ""
}

func (doc Document) GetString(key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func (doc Document) HasKey(key string) bool {
	_, exists := doc[key]
	return exists
}

// Clone returns a shallow copy. Nested maps and slices are shared.
func (doc Document) Clone() Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// Public returns a copy without identifiers and timestamps managed by the
// storage layer.
func (doc Document) Public() Document {
	out := doc.Clone()
	for _, k := range serverManagedFields {
		delete(out, k)
	}
	return out
}
