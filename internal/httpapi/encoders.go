package httpapi

import (
	"math"
	"net/http"
	"strings"

	"chatd/internal/embed"
	"chatd/pkg/types"
)

func (s *server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req types.EmbedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	ctx, cancel := requestContext(r.Context(), 0)
	defer cancel()
	vec, modelID, err := s.svc.Embed(ctx, req.Model, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.EmbedResponse{Model: modelID, Dim: len(vec), Embedding: vec})
}

func (s *server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	var req types.SimilarityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var resp types.SimilarityResponse
	if sim := embed.CosineSimilarity(req.A, req.B); !math.IsNaN(float64(sim)) {
		resp.Similarity = &sim
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req types.RankRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}
	limit := -1
	if req.Limit != nil && *req.Limit >= 0 {
		limit = *req.Limit
	}
	ctx, cancel := requestContext(r.Context(), 0)
	defer cancel()
	ranked, modelID, err := s.svc.Rank(ctx, req.Model, req.Query, req.Documents, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := types.RankResponse{Model: modelID, Results: make([]types.RankedDocument, len(ranked))}
	for i, rd := range ranked {
		resp.Results[i] = types.RankedDocument{Index: rd.Index, Document: rd.Document, Score: rd.Score}
	}
	writeJSON(w, http.StatusOK, resp)
}
