package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// indexField names the pseudo field that selects partitions.
const indexField = "_index"

// Request is a parsed search body.
type Request struct {
	*bleve.SearchRequest
	// Indices holds the names selected by term or terms clauses on _index.
	// Empty means every partition.
	Indices []string
}

// ParseRequest turns a structured search body into a bleve request. The
// body follows the Elasticsearch request shape: query, from, size and sort,
// with query clauses match_all, match_none, bool, match, match_phrase,
// multi_match, term, terms, prefix, wildcard, regexp, ids, range,
// query_string and geo_shape. A term or terms clause on _index, either as
// the whole query or as a bool must or filter entry, selects partitions
// instead of matching a field. Rejections are *SearchError with status 400.
func ParseRequest(body []byte, defaultSize int) (*Request, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, badQuery(fmt.Errorf("failed to parse search request: %w", err))
	}

	size, from := defaultSize, 0
	var q query.Query = bleve.NewMatchAllQuery()
	var sortBy []string
	var indices []string

	for _, key := range sortedKeys(top) {
		raw := top[key]
		var err error
		switch key {
		case "query":
			if raw, indices, err = extractIndices(raw); err == nil {
				q, err = parseClause(raw)
			}
		case "size":
			err = json.Unmarshal(raw, &size)
		case "from":
			err = json.Unmarshal(raw, &from)
		case "sort":
			sortBy, err = parseSort(raw)
		case "_source", "track_total_hits":
			// every hit carries its full source and an exact total
		default:
			return nil, unsupportedRequest(fmt.Errorf("unknown key [%s] in search request", key))
		}
		if err != nil {
			return nil, asSearchError(err)
		}
	}

	if size < 0 || from < 0 {
		return nil, badQuery(fmt.Errorf("[from] and [size] must not be negative"))
	}

	req := bleve.NewSearchRequestOptions(q, size, from, false)
	if len(sortBy) > 0 {
		req.SortBy(sortBy)
	}
	if err := req.Validate(); err != nil {
		return nil, badQuery(err)
	}
	return &Request{SearchRequest: req, Indices: indices}, nil
}

var matchAllClause = json.RawMessage(`{"match_all": {}}`)

// extractIndices pulls _index selections out of the query and puts
// match_all in their place.
func extractIndices(raw json.RawMessage) (json.RawMessage, []string, error) {
	if names, ok, err := indexClause(raw); ok || err != nil {
		return matchAllClause, names, err
	}

	var clause map[string]json.RawMessage
	if err := json.Unmarshal(raw, &clause); err != nil {
		return raw, nil, nil
	}
	body, ok := clause["bool"]
	if !ok || len(clause) != 1 {
		return raw, nil, nil
	}
	var b map[string]json.RawMessage
	if err := json.Unmarshal(body, &b); err != nil {
		return raw, nil, nil
	}

	var indices []string
	changed := false
	for _, occur := range []string{"must", "filter"} {
		list, isArray, err := clauseList(b[occur])
		if err != nil {
			return raw, nil, nil
		}
		for i, item := range list {
			names, ok, err := indexClause(item)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
			indices = append(indices, names...)
			list[i] = matchAllClause
			changed = true
		}
		if !changed || len(list) == 0 {
			continue
		}
		if isArray {
			b[occur], _ = json.Marshal(list)
		} else {
			b[occur] = list[0]
		}
	}
	if !changed {
		return raw, nil, nil
	}
	body, _ = json.Marshal(b)
	out, _ := json.Marshal(map[string]json.RawMessage{"bool": body})
	return out, indices, nil
}

// indexClause reports whether raw is a term or terms clause on _index and
// returns the selected names.
func indexClause(raw json.RawMessage) ([]string, bool, error) {
	var clause map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &clause); err != nil || len(clause) != 1 {
		return nil, false, nil
	}
	for kind, fields := range clause {
		value, ok := fields[indexField]
		if !ok || len(fields) != 1 {
			return nil, false, nil
		}
		switch kind {
		case "term":
			v, _, err := objectOrValue(value, "value")
			if err != nil {
				return nil, true, fmt.Errorf("[term] malformed: %w", err)
			}
			name, ok := v.(string)
			if !ok {
				return nil, true, fmt.Errorf("[%s] needs a string value", indexField)
			}
			return []string{name}, true, nil
		case "terms":
			var names []string
			if err := json.Unmarshal(value, &names); err != nil {
				return nil, true, fmt.Errorf("[terms] field [%s] needs an array of strings: %w", indexField, err)
			}
			if len(names) == 0 {
				return nil, true, fmt.Errorf("[terms] field [%s] needs at least one name", indexField)
			}
			return names, true, nil
		}
	}
	return nil, false, nil
}

func clauseList(raw json.RawMessage) ([]json.RawMessage, bool, error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		var list []json.RawMessage
		err := json.Unmarshal(raw, &list)
		return list, true, err
	}
	return []json.RawMessage{raw}, false, nil
}

// asSearchError keeps shape errors cause-free and turns everything else
// into a 400 with causes.
func asSearchError(err error) *SearchError {
	var se *SearchError
	if errors.As(err, &se) {
		return se
	}
	return badQuery(err)
}

func parseClause(raw json.RawMessage) (query.Query, error) {
	var clause map[string]json.RawMessage
	if err := json.Unmarshal(raw, &clause); err != nil {
		return nil, fmt.Errorf("query clause must be an object: %w", err)
	}
	if len(clause) != 1 {
		return nil, fmt.Errorf("query clause must have exactly one type, got %d", len(clause))
	}

	for kind, body := range clause {
		switch kind {
		case "match_all":
			return bleve.NewMatchAllQuery(), nil
		case "match_none":
			return bleve.NewMatchNoneQuery(), nil
		case "bool":
			return parseBool(body)
		case "match":
			return parseMatch(body, false)
		case "match_phrase":
			return parseMatch(body, true)
		case "multi_match":
			return parseMultiMatch(body)
		case "term":
			return parseTerm(body)
		case "terms":
			return parseTerms(body)
		case "prefix", "wildcard", "regexp":
			return parsePattern(kind, body)
		case "ids":
			return parseIDs(body)
		case "range":
			return parseRange(body)
		case "query_string":
			return parseQueryString(body)
		case "geo_shape":
			return parseGeoShape(body)
		default:
			return nil, fmt.Errorf("no [query] registered for [%s]", kind)
		}
	}
	return nil, nil
}

// clauses accepts a single clause or an array of clauses.
func clauses(raw json.RawMessage) ([]query.Query, error) {
	list, _, err := clauseList(raw)
	if err != nil {
		return nil, err
	}

	out := make([]query.Query, 0, len(list))
	for _, item := range list {
		q, err := parseClause(item)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func parseBool(raw json.RawMessage) (query.Query, error) {
	var b struct {
		Must               json.RawMessage `json:"must"`
		Filter             json.RawMessage `json:"filter"`
		Should             json.RawMessage `json:"should"`
		MustNot            json.RawMessage `json:"must_not"`
		MinimumShouldMatch *int            `json:"minimum_should_match"`
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("[bool] malformed: %w", err)
	}

	must, err := clauses(b.Must)
	if err != nil {
		return nil, err
	}
	filter, err := clauses(b.Filter)
	if err != nil {
		return nil, err
	}
	should, err := clauses(b.Should)
	if err != nil {
		return nil, err
	}
	mustNot, err := clauses(b.MustNot)
	if err != nil {
		return nil, err
	}

	required := append(must, filter...)
	if len(required) == 0 && len(should) == 0 {
		if len(mustNot) == 0 {
			return bleve.NewMatchAllQuery(), nil
		}
		required = []query.Query{bleve.NewMatchAllQuery()}
	}

	bq := bleve.NewBooleanQuery()
	if len(required) > 0 {
		bq.AddMust(required...)
	}
	if len(should) > 0 {
		bq.AddShould(should...)
		switch {
		case b.MinimumShouldMatch != nil:
			bq.SetMinShould(float64(*b.MinimumShouldMatch))
		case len(required) == 0:
			bq.SetMinShould(1)
		}
	}
	if len(mustNot) > 0 {
		bq.AddMustNot(mustNot...)
	}
	return bq, nil
}

// fieldClause unpacks {"<field>": <value>}.
func fieldClause(kind string, raw json.RawMessage) (string, json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", nil, fmt.Errorf("[%s] malformed: %w", kind, err)
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("[%s] query must name exactly one field", kind)
	}
	for field, value := range m {
		return field, value, nil
	}
	return "", nil, nil
}

// objectOrValue decodes either a bare value or an object carrying key.
func objectOrValue(raw json.RawMessage, key string) (any, map[string]json.RawMessage, error) {
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, nil, err
		}
		var v any
		if inner, ok := obj[key]; ok {
			if err := json.Unmarshal(inner, &v); err != nil {
				return nil, nil, err
			}
		}
		return v, obj, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, nil, err
	}
	return v, nil, nil
}

func parseMatch(raw json.RawMessage, phrase bool) (query.Query, error) {
	kind := "match"
	if phrase {
		kind = "match_phrase"
	}
	field, value, err := fieldClause(kind, raw)
	if err != nil {
		return nil, err
	}
	v, obj, err := objectOrValue(value, "query")
	if err != nil {
		return nil, fmt.Errorf("[%s] malformed: %w", kind, err)
	}
	if v == nil {
		return nil, fmt.Errorf("[%s] requires a query", kind)
	}
	text := fmt.Sprint(v)

	if phrase {
		q := bleve.NewMatchPhraseQuery(text)
		q.SetField(field)
		return q, nil
	}
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	if op, ok := obj["operator"]; ok {
		var s string
		if err := json.Unmarshal(op, &s); err != nil {
			return nil, fmt.Errorf("[match] operator: %w", err)
		}
		switch strings.ToLower(s) {
		case "and":
			q.SetOperator(query.MatchQueryOperatorAnd)
		case "or":
			q.SetOperator(query.MatchQueryOperatorOr)
		default:
			return nil, fmt.Errorf("[match] unknown operator [%s]", s)
		}
	}
	return q, nil
}

func parseMultiMatch(raw json.RawMessage) (query.Query, error) {
	var mm struct {
		Query  string   `json:"query"`
		Fields []string `json:"fields"`
	}
	if err := json.Unmarshal(raw, &mm); err != nil {
		return nil, fmt.Errorf("[multi_match] malformed: %w", err)
	}
	if len(mm.Fields) == 0 {
		q := bleve.NewMatchQuery(mm.Query)
		q.SetField(AllField)
		return q, nil
	}
	qs := make([]query.Query, len(mm.Fields))
	for i, f := range mm.Fields {
		q := bleve.NewMatchQuery(mm.Query)
		q.SetField(f)
		qs[i] = q
	}
	return bleve.NewDisjunctionQuery(qs...), nil
}

func termQuery(field string, v any) (query.Query, error) {
	switch val := v.(type) {
	case string:
		q := bleve.NewTermQuery(val)
		q.SetField(field)
		return q, nil
	case float64:
		inclusive := true
		q := bleve.NewNumericRangeInclusiveQuery(&val, &val, &inclusive, &inclusive)
		q.SetField(field)
		return q, nil
	case bool:
		q := bleve.NewBoolFieldQuery(val)
		q.SetField(field)
		return q, nil
	default:
		return nil, fmt.Errorf("[term] unsupported value %v for field [%s]", v, field)
	}
}

func parseTerm(raw json.RawMessage) (query.Query, error) {
	field, value, err := fieldClause("term", raw)
	if err != nil {
		return nil, err
	}
	v, _, err := objectOrValue(value, "value")
	if err != nil {
		return nil, fmt.Errorf("[term] malformed: %w", err)
	}
	return termQuery(field, v)
}

func parseTerms(raw json.RawMessage) (query.Query, error) {
	field, value, err := fieldClause("terms", raw)
	if err != nil {
		return nil, err
	}
	var values []any
	if err := json.Unmarshal(value, &values); err != nil {
		return nil, fmt.Errorf("[terms] field [%s] needs an array: %w", field, err)
	}
	if len(values) == 0 {
		return bleve.NewMatchNoneQuery(), nil
	}
	qs := make([]query.Query, 0, len(values))
	for _, v := range values {
		q, err := termQuery(field, v)
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return bleve.NewDisjunctionQuery(qs...), nil
}

func parsePattern(kind string, raw json.RawMessage) (query.Query, error) {
	field, value, err := fieldClause(kind, raw)
	if err != nil {
		return nil, err
	}
	v, _, err := objectOrValue(value, "value")
	if err != nil {
		return nil, fmt.Errorf("[%s] malformed: %w", kind, err)
	}
	pattern, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("[%s] needs a string value", kind)
	}

	switch kind {
	case "prefix":
		q := bleve.NewPrefixQuery(pattern)
		q.SetField(field)
		return q, nil
	case "wildcard":
		q := bleve.NewWildcardQuery(pattern)
		q.SetField(field)
		return q, nil
	default:
		q := bleve.NewRegexpQuery(pattern)
		q.SetField(field)
		return q, nil
	}
}

func parseIDs(raw json.RawMessage) (query.Query, error) {
	var ids struct {
		Values []string `json:"values"`
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("[ids] malformed: %w", err)
	}
	return bleve.NewDocIDQuery(ids.Values), nil
}

func parseQueryString(raw json.RawMessage) (query.Query, error) {
	var qs struct {
		Query        string `json:"query"`
		DefaultField string `json:"default_field"`
	}
	if err := json.Unmarshal(raw, &qs); err != nil {
		return nil, fmt.Errorf("[query_string] malformed: %w", err)
	}
	if qs.DefaultField == SpecialField {
		q := bleve.NewTermQuery(qs.Query)
		q.SetField(SpecialField)
		return q, nil
	}
	q := bleve.NewQueryStringQuery(qs.Query)
	if _, err := q.Parse(); err != nil {
		return nil, fmt.Errorf("failed to parse query [%s]: %w", qs.Query, err)
	}
	return q, nil
}

func parseRange(raw json.RawMessage) (query.Query, error) {
	field, value, err := fieldClause("range", raw)
	if err != nil {
		return nil, err
	}
	var r struct {
		From         any   `json:"from"`
		To           any   `json:"to"`
		Gte          any   `json:"gte"`
		Gt           any   `json:"gt"`
		Lte          any   `json:"lte"`
		Lt           any   `json:"lt"`
		IncludeLower *bool `json:"include_lower"`
		IncludeUpper *bool `json:"include_upper"`
	}
	if err := json.Unmarshal(value, &r); err != nil {
		return nil, fmt.Errorf("[range] malformed: %w", err)
	}

	lower, lowerInc := r.From, true
	if r.IncludeLower != nil {
		lowerInc = *r.IncludeLower
	}
	if r.Gte != nil {
		lower, lowerInc = r.Gte, true
	}
	if r.Gt != nil {
		lower, lowerInc = r.Gt, false
	}
	upper, upperInc := r.To, true
	if r.IncludeUpper != nil {
		upperInc = *r.IncludeUpper
	}
	if r.Lte != nil {
		upper, upperInc = r.Lte, true
	}
	if r.Lt != nil {
		upper, upperInc = r.Lt, false
	}
	if lower == nil && upper == nil {
		return nil, fmt.Errorf("[range] on field [%s] needs a bound", field)
	}

	if isNumber(lower) && isNumber(upper) {
		var minV, maxV *float64
		if f, ok := lower.(float64); ok {
			minV = &f
		}
		if f, ok := upper.(float64); ok {
			maxV = &f
		}
		q := bleve.NewNumericRangeInclusiveQuery(minV, maxV, &lowerInc, &upperInc)
		q.SetField(field)
		return q, nil
	}

	start, startOK := parseDate(lower)
	end, endOK := parseDate(upper)
	if startOK && endOK {
		q := bleve.NewDateRangeInclusiveQuery(start, end, &lowerInc, &upperInc)
		q.SetField(field)
		return q, nil
	}

	lo, _ := lower.(string)
	hi, _ := upper.(string)
	q := bleve.NewTermRangeInclusiveQuery(lo, hi, &lowerInc, &upperInc)
	q.SetField(field)
	return q, nil
}

func isNumber(v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(float64)
	return ok
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseDate accepts nil as an open bound.
func parseDate(v any) (time.Time, bool) {
	if v == nil {
		return time.Time{}, true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseGeoShape(raw json.RawMessage) (query.Query, error) {
	field, value, err := fieldClause("geo_shape", raw)
	if err != nil {
		return nil, err
	}
	var g struct {
		Shape    *shape `json:"shape"`
		Relation string `json:"relation"`
	}
	if err := json.Unmarshal(value, &g); err != nil {
		return nil, invalidShape(fmt.Errorf("%w: %v", errInvalidShape, err))
	}
	if g.Shape == nil {
		return nil, fmt.Errorf("[geo_shape] on field [%s] needs a shape", field)
	}

	relation := strings.ToLower(g.Relation)
	switch relation {
	case "":
		relation = "intersects"
	case "intersects", "within", "contains", "disjoint":
	default:
		return nil, fmt.Errorf("[geo_shape] unknown relation [%s]", g.Relation)
	}

	typ, coords, err := g.Shape.coordinates()
	if err != nil {
		return nil, invalidShape(err)
	}
	if relation != "disjoint" {
		return geoShapeQuery(field, typ, coords, relation)
	}

	// Candidates of a shape query come from the cover of the query shape,
	// so disjoint is every shaped document minus the intersecting ones.
	hit, err := geoShapeQuery(field, typ, coords, "intersects")
	if err != nil {
		return nil, err
	}
	shaped := bleve.NewPrefixQuery("")
	shaped.SetField(field)
	bq := bleve.NewBooleanQuery()
	bq.AddMust(shaped)
	bq.AddMustNot(hit)
	return bq, nil
}

func geoShapeQuery(field, typ string, coords [][][][]float64, relation string) (query.Query, error) {
	q, err := bleve.NewGeoShapeQuery(coords, typ, relation)
	if err != nil {
		return nil, invalidShape(fmt.Errorf("%w: %v", errInvalidShape, err))
	}
	q.SetField(field)
	return q, nil
}

func parseSort(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("[sort] must be an array: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, sortKey(name, ""))
			continue
		}
		field, value, err := fieldClause("sort", item)
		if err != nil {
			return nil, err
		}
		v, _, err := objectOrValue(value, "order")
		if err != nil {
			return nil, fmt.Errorf("[sort] malformed: %w", err)
		}
		order, _ := v.(string)
		out = append(out, sortKey(field, order))
	}
	return out, nil
}

func sortKey(field, order string) string {
	if field == "_score" && order == "" {
		order = "desc"
	}
	if strings.EqualFold(order, "desc") {
		return "-" + field
	}
	return field
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
