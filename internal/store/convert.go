package store

import (
	"github.com/o2r-project/o2r-finder/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ToDocument converts a decoded BSON document to plain Go values: ObjectIDs
// become hex strings and dates become time.Time.
func ToDocument(m bson.M) model.Document {
	if m == nil {
		return nil
	}
	return model.Document(convertBsonM(m))
}

func convertBsonM(m bson.M) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = convertBsonValue(v)
	}
	return result
}

func convertBsonValue(v any) any {
	switch val := v.(type) {
	case bson.M:
		return convertBsonM(val)
	case map[string]any:
		return convertBsonM(val)
	case bson.D:
		result := make(map[string]any, len(val))
		for _, e := range val {
			result[e.Key] = convertBsonValue(e.Value)
		}
		return result
	case bson.A:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = convertBsonValue(item)
		}
		return result
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return map[string]uint32{"T": val.T, "I": val.I}
	case primitive.Decimal128:
		return val.String()
	default:
		return v
	}
}
