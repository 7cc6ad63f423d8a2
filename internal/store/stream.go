package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/o2r-project/o2r-finder/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Op is a change stream operation type.
type Op string

const (
	OpInsert  Op = "insert"
	OpUpdate  Op = "update"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
)

// ErrInvalidated is reported when the watched collection was dropped or
// renamed. The stream cannot be resumed from its last token.
var ErrInvalidated = errors.New("change stream invalidated")

// Event is a normalized change on one document.
type Event struct {
	Op         Op
	Collection string
	DocumentID string
	// Document is the full post-image for insert, update and replace.
	Document model.Document
	Token    bson.Raw
}

// ChangeStream yields normalized events in receipt order.
type ChangeStream interface {
	// Next blocks until an event is available. It returns false when the
	// stream ends; Err then reports why.
	Next(ctx context.Context) bool
	Event() Event
	// ResumeToken is the token of the last event returned by Next, or the
	// token the stream was opened with.
	ResumeToken() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// RawEvent is the change stream document as delivered by MongoDB.
type RawEvent struct {
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	FullDocument  bson.M              `bson:"fullDocument,omitempty"`
	DocumentKey   bson.M              `bson:"documentKey,omitempty"`
	Ns            struct {
		DB   string `bson:"db"`
		Coll string `bson:"coll"`
	} `bson:"ns"`
	ResumeToken bson.Raw `bson:"_id"`
}

// Normalize turns a raw event into an Event. ok is false for events that
// carry nothing to apply, such as an update whose document is already gone.
func Normalize(raw *RawEvent) (evt Event, ok bool, err error) {
	op := Op(raw.OperationType)
	switch op {
	case OpInsert, OpUpdate, OpReplace, OpDelete:
	case "invalidate":
		return Event{}, false, ErrInvalidated
	default:
		return Event{}, false, nil
	}

	id, err := extractDocumentID(raw.DocumentKey)
	if err != nil {
		return Event{}, false, err
	}

	evt = Event{
		Op:         op,
		Collection: raw.Ns.Coll,
		DocumentID: id,
		Token:      raw.ResumeToken,
	}
	if op != OpDelete {
		if raw.FullDocument == nil {
			return Event{}, false, nil
		}
		evt.Document = ToDocument(raw.FullDocument)
	}
	return evt, true, nil
}

func extractDocumentID(docKey bson.M) (string, error) {
	if docKey == nil {
		return "", errors.New("event has no documentKey")
	}
	id, ok := docKey["_id"]
	if !ok {
		return "", errors.New("documentKey has no _id")
	}
	return formatID(id), nil
}

// formatID formats a MongoDB _id value as a string.
func formatID(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

type mongoStream struct {
	stream *mongo.ChangeStream
	token  bson.Raw
	event  Event
	err    error
}

func (s *mongoStream) Next(ctx context.Context) bool {
	for s.stream.Next(ctx) {
		var raw RawEvent
		if err := s.stream.Decode(&raw); err != nil {
			s.err = fmt.Errorf("decode change event: %w", err)
			return false
		}
		evt, ok, err := Normalize(&raw)
		if err != nil {
			if errors.Is(err, ErrInvalidated) {
				s.token = nil
			}
			s.err = err
			return false
		}
		s.token = raw.ResumeToken
		if !ok {
			continue
		}
		s.event = evt
		return true
	}
	if err := s.stream.Err(); err != nil {
		s.err = err
	}
	return false
}

func (s *mongoStream) Event() Event          { return s.event }
func (s *mongoStream) ResumeToken() bson.Raw { return s.token }
func (s *mongoStream) Err() error            { return s.err }

func (s *mongoStream) Close(ctx context.Context) error {
	return s.stream.Close(ctx)
}
