package index

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// SimpleRequest builds the request behind a plain search string. queryString
// is parsed with the query string syntax against the catch-all field;
// special is matched verbatim against the special field. Either matching
// is enough. A lone "*" matches everything.
func SimpleRequest(queryString, special string, size int) (*bleve.SearchRequest, error) {
	var q query.Query
	if strings.TrimSpace(queryString) == "*" {
		q = bleve.NewMatchAllQuery()
	} else {
		qs := bleve.NewQueryStringQuery(queryString)
		if _, err := qs.Parse(); err != nil {
			return nil, badQuery(err)
		}
		term := bleve.NewTermQuery(special)
		term.SetField(SpecialField)

		bq := bleve.NewBooleanQuery()
		bq.AddShould(qs, term)
		bq.SetMinShould(1)
		q = bq
	}
	return bleve.NewSearchRequestOptions(q, size, 0, false), nil
}
