// Package gateway shapes search requests for the index and sanitizes what
// comes back. The HTTP binding lives in gateway/rest.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/o2r-project/o2r-finder/internal/index"
	"github.com/o2r-project/o2r-finder/pkg/model"
)

// Fallback messages when the engine gives no reason.
const (
	SimpleQueryFailed  = "simple query failed"
	ComplexQueryFailed = "complex query failed"
)

// allResources selects every partition.
const allResources = "all"

// Response is the sanitized search answer.
type Response struct {
	Hits Hits `json:"hits"`
}

type Hits struct {
	Total    uint64  `json:"total"`
	MaxScore float64 `json:"max_score"`
	Hits     []Hit   `json:"hits"`
}

// Hit carries only the score and the public part of the source.
type Hit struct {
	Score  float64        `json:"_score"`
	Source model.Document `json:"_source"`
}

// QueryError is a failed search as the caller sees it.
type QueryError struct {
	Status  int
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *QueryError) Unwrap() error { return e.Err }

// Resource names a partition callers may select.
type Resource struct {
	Name      string
	Partition string
}

// ResourcesFrom exposes the configured partitions as "compendia" and "jobs".
func ResourcesFrom(cfg index.Config) []Resource {
	return []Resource{
		{Name: "compendia", Partition: cfg.Partitions.Compendia.Name},
		{Name: "jobs", Partition: cfg.Partitions.Jobs.Name},
	}
}

// Service runs simple and complex searches against the index.
type Service struct {
	engine      index.Engine
	cfg         Config
	defaultSize int

	names      []string
	partitions map[string]string
	logger     *slog.Logger
}

// NewService returns a service over the given resources. Their order is
// the order partitions are searched in when no resource is selected.
func NewService(engine index.Engine, cfg Config, defaultSize int, resources []Resource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		engine:      engine,
		cfg:         cfg,
		defaultSize: defaultSize,
		partitions:  make(map[string]string, len(resources)),
		logger:      logger.With("component", "gateway"),
	}
	for _, r := range resources {
		if _, dup := s.partitions[r.Name]; dup {
			continue
		}
		s.partitions[r.Name] = r.Partition
		s.names = append(s.names, r.Name)
	}
	return s
}

// SimpleSearch runs a plain search string. q is nil when the caller sent
// no query at all.
func (s *Service) SimpleSearch(ctx context.Context, q *string, resources string) (*Response, error) {
	if q == nil {
		return nil, model.ErrNoQuery
	}
	partitions, err := s.resolve(resources)
	if err != nil {
		return nil, err
	}

	normalized := s.normalize(*q)
	req, err := index.SimpleRequest(escapeSlashes(normalized), normalized, s.defaultSize)
	if err != nil {
		return nil, s.mapError(err, SimpleQueryFailed)
	}

	s.logger.Debug("Starting a simple search", "query", normalized, "partitions", partitions)
	res, err := s.engine.Search(ctx, partitions, req)
	if err != nil {
		return nil, s.mapError(err, SimpleQueryFailed)
	}
	s.logger.Debug("Simple query successful", "total", res.Total)
	return sanitize(res), nil
}

// ComplexSearch runs an Elasticsearch style request body over every partition,
// or over the partitions its _index clauses select.
func (s *Service) ComplexSearch(ctx context.Context, body []byte) (*Response, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, model.ErrNoQuery
	}

	req, err := index.ParseRequest(body, s.defaultSize)
	if err != nil {
		return nil, s.mapError(err, ComplexQueryFailed)
	}

	partitions := s.all()
	if len(req.Indices) > 0 {
		partitions = s.targets(req.Indices)
		if len(partitions) == 0 {
			return sanitize(&index.Result{}), nil
		}
	}

	res, err := s.engine.Search(ctx, partitions, req.SearchRequest)
	if err != nil {
		return nil, s.mapError(err, ComplexQueryFailed)
	}
	s.logger.Debug("Complex query successful", "total", res.Total, "partitions", partitions)
	return sanitize(res), nil
}

// normalize decodes q and, with URI search on, drops the scheme of a URL so
// it matches the scheme-less form kept in the special field.
func (s *Service) normalize(q string) string {
	if decoded, err := url.QueryUnescape(q); err == nil {
		q = decoded
	}
	if s.cfg.URISearch {
		if i := strings.Index(q, "://"); i >= 0 {
			q = "//" + q[i+len("://"):]
		}
	}
	return q
}

func escapeSlashes(q string) string {
	return strings.ReplaceAll(q, "/", `\/`)
}

// resolve maps a comma separated resource list to partitions. Blank
// elements are ignored; an empty list or "all" selects everything.
func (s *Service) resolve(resources string) ([]string, error) {
	var (
		out     []string
		seen    = make(map[string]bool)
		unknown []string
		all     bool
	)
	for _, name := range strings.Split(resources, ",") {
		name = strings.TrimSpace(name)
		switch {
		case name == "":
		case name == allResources:
			all = true
		case seen[name]:
		default:
			seen[name] = true
			p, ok := s.partitions[name]
			if !ok {
				unknown = append(unknown, name)
				continue
			}
			out = append(out, p)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownResource, strings.Join(unknown, ","))
	}
	if all || len(out) == 0 {
		return s.all(), nil
	}
	return out, nil
}

func (s *Service) all() []string {
	out := make([]string, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.partitions[name])
	}
	return out
}

// targets maps _index selections to partitions. A name may be a resource
// or a partition; names matching neither select nothing.
func (s *Service) targets(names []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range names {
		for _, r := range s.names {
			p := s.partitions[r]
			if (name == r || name == p) && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *Service) mapError(err error, fallback string) error {
	var se *index.SearchError
	if errors.As(err, &se) {
		msg := se.Reason()
		if msg == "" {
			msg = fallback
		}
		s.logger.Debug("Error querying index", "status", se.StatusCode(), "error", err)
		return &QueryError{Status: se.StatusCode(), Message: msg, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &QueryError{Status: http.StatusGatewayTimeout, Message: fallback, Err: err}
	}
	if model.IsCanceled(err) {
		return model.ErrCanceled
	}
	s.logger.Error("Index search failed", "error", err)
	return &QueryError{Status: http.StatusInternalServerError, Message: fallback, Err: err}
}

func sanitize(res *index.Result) *Response {
	out := &Response{Hits: Hits{
		Total:    res.Total,
		MaxScore: res.MaxScore,
		Hits:     make([]Hit, 0, len(res.Hits)),
	}}
	for _, h := range res.Hits {
		out.Hits.Hits = append(out.Hits.Hits, Hit{Score: h.Score, Source: h.Source.Public()})
	}
	return out
}
