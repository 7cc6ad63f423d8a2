package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/o2r-project/o2r-finder/internal/gateway"
)

type searchParams struct {
	Q         string `schema:"q"`
	Resources string `schema:"resources"`
}

func (h *Handler) handleSimpleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var params searchParams
	if err := h.decoder.Decode(&params, query); err != nil {
		writeError(w, http.StatusBadRequest, "invalid query parameters")
		return
	}
	var q *string
	if query.Has("q") {
		q = &params.Q
	}

	res, err := h.search.SimpleSearch(r.Context(), q, params.Resources)
	if err != nil {
		writeSearchError(w, err, gateway.SimpleQueryFailed)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleComplexSearch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	res, err := h.search.ComplexSearch(r.Context(), body)
	if err != nil {
		writeSearchError(w, err, gateway.ComplexQueryFailed)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
