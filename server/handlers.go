package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/hupe1980/flatvec"
	"github.com/hupe1980/flatvec/blobstore"
	"github.com/hupe1980/flatvec/distance"
	"github.com/hupe1980/flatvec/embed"
	"github.com/hupe1980/flatvec/metadata"
)

type createCollectionRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension,omitempty"`
	Metric    string `json:"metric,omitempty"`
}

type collectionResponse struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Count     int    `json:"count"`
}

type documentRequest struct {
	ID       int64             `json:"id"`
	Text     string            `json:"text"`
	Metadata metadata.Document `json:"metadata,omitempty"`
	Vector   []float64         `json:"vector,omitempty"`
}

type documentResponse struct {
	ID       int64             `json:"id"`
	Text     string            `json:"text"`
	Metadata metadata.Document `json:"metadata"`
	Vector   []float64         `json:"vector,omitempty"`
}

type batchInsertRequest struct {
	Documents []documentRequest `json:"documents"`
}

type idsRequest struct {
	IDs            []int64 `json:"ids"`
	IncludeVectors bool    `json:"include_vectors,omitempty"`
}

type searchRequest struct {
	QueryText      string              `json:"query_text,omitempty"`
	Vector         []float64           `json:"vector,omitempty"`
	TopK           *int                `json:"top_k,omitempty"`
	Filter         *metadata.FilterSet `json:"filter,omitempty"`
	IncludeVectors bool                `json:"include_vectors,omitempty"`
}

type searchHit struct {
	Rank       int               `json:"rank"`
	ID         int64             `json:"id"`
	Text       string            `json:"text"`
	Distance   float64           `json:"distance"`
	Similarity float64           `json:"similarity"`
	Metadata   metadata.Document `json:"metadata"`
	Vector     []float64         `json:"vector,omitempty"`
}

type searchResponse struct {
	QueryText string      `json:"query_text,omitempty"`
	Results   []searchHit `json:"results"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func (s *Server) store(r *http.Request) (*flatvec.Store, error) {
	return s.reg.Get(r.PathValue("name"))
}

func documentID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid document id %q", errBadRequest, r.PathValue("id"))
	}
	return id, nil
}

func nonNil(md metadata.Document) metadata.Document {
	if md == nil {
		return metadata.Document{}
	}
	return md
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":      "ok",
		"collections": len(s.reg.Names()),
	})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{"collections": s.reg.Names()})
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		s.writeError(w, r, fmt.Errorf("%w: name is required", errBadRequest))
		return
	}

	dim := req.Dimension
	if dim == 0 && s.opts.Embedder != nil {
		dim = s.opts.Embedder.Dimension()
	}
	metric := s.opts.DefaultMetric
	if req.Metric != "" {
		m, err := distance.Parse(req.Metric)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		metric = m
	}

	store, err := s.reg.Create(r.Context(), req.Name, dim, metric)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, collectionResponse{
		Name:      req.Name,
		Dimension: store.Dimension(),
		Metric:    store.Metric().String(),
		Count:     store.Count(),
	})
}

func (s *Server) handleDropCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.reg.Drop(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"dropped": name})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	store, err := s.store(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"collection_name": r.PathValue("name"),
		"document_count":  store.Count(),
	})
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	store, err := s.store(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := store.Compact(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"collection_name": r.PathValue("name"),
		"document_count":  store.Count(),
		"seq":             store.Seq(),
	})
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	info, err := s.backup(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, info)
}

func (s *Server) handleBackupAll(w http.ResponseWriter, r *http.Request) {
	infos, err := s.BackupAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if infos == nil {
		infos = []blobstore.Info{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"backups": infos})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	store, err := s.store(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req documentRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	vec := req.Vector
	if vec == nil {
		if s.opts.Embedder == nil {
			s.writeError(w, r, fmt.Errorf("%w: no embedder configured, vector is required", errBadRequest))
			return
		}
		vec, err = embed.EmbedDocument(r.Context(), s.opts.Embedder, req.Text, req.Metadata)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	seq, err := store.Insert(r.Context(), flatvec.Record{
		ID:       req.ID,
		Text:     req.Text,
		Vector:   vec,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"inserted_ids": []int64{req.ID},
		"seq":          seq,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	store, err := s.store(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := documentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, ok := store.Get(id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %d", errDocumentNotFound, id))
		return
	}
	s.writeJSON(w, r, http.StatusOK, documentResponse{
		ID:       rec.ID,
		Text:     rec.Text,
		Metadata: nonNil(rec.Metadata),
		Vector:   rec.Vector,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	store, err := s.store(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := documentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	found, err := store.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"id": id, "deleted": found})
}

// handleBatchInsert logs all documents atomically. Documents without a
// vector are embedded in a single EmbedBatch call first.
func (s *Server) handleBatchInsert(w http.ResponseWriter, r *http.Request) {
	store, err := s.store(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req batchInsertRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Documents) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: no documents", errBadRequest))
		return
	}

	var (
		texts   []string
		pending []int
	)
	for i, doc := range req.Documents {
		if doc.Vector == nil {
			texts = append(texts, embed.DocumentText(doc.Text, doc.Metadata))
			pending = append(pending, i)
		}
	}
	if len(pending) > 0 {
		if s.opts.Embedder == nil {
			s.writeError(w, r, fmt.Errorf("%w: no embedder configured, vectors are required", errBadRequest))
			return
		}
		vecs, err := s.opts.Embedder.EmbedBatch(r.Context(), texts)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(vecs) != len(pending) {
			s.writeError(w, r, fmt.Errorf("%w: got %d embeddings for %d texts", embed.ErrUnavailable, len(vecs), len(pending)))
			return
		}
		for j, i := range pending {
			req.Documents[i].Vector = vecs[j]
		}
	}

	recs := make([]flatvec.Record, len(req.Documents))
	ids := make([]int64, len(req.Documents))
	for i, doc := range req.Documents {
		recs[i] = flatvec.Record{ID: doc.ID, Text: doc.Text, Vector: doc.Vector, Metadata: doc.Metadata}
		ids[i] = doc.ID
	}
	seqs, err := store.BatchInsert(r.Context(), recs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"inserted_ids": ids,
		"seq":          seqs[len(seqs)-1],
	})
}

// handleGetMany returns the documents that exist among the requested ids, in
// request order. Unknown ids are listed under "missing".
func (s *Server) handleGetMany(w http.ResponseWriter, r *http.Request) {
	store, err := s.store(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req idsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	recs := store.GetMany(req.IDs)
	found := make(map[int64]struct{}, len(recs))
	docs := make([]documentResponse, len(recs))
	for i, rec := range recs {
		found[rec.ID] = struct{}{}
		docs[i] = documentResponse{ID: rec.ID, Text: rec.Text, Metadata: nonNil(rec.Metadata)}
		if req.IncludeVectors {
			docs[i].Vector = rec.Vector
		}
	}
	missing := []int64{}
	for _, id := range req.IDs {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"documents": docs,
		"missing":   missing,
	})
}

// handleDeleteMany deletes ids one by one and stops at the first error; ids
// deleted before it stay deleted.
func (s *Server) handleDeleteMany(w http.ResponseWriter, r *http.Request) {
	store, err := s.store(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req idsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	deleted, missing := []int64{}, []int64{}
	for _, id := range req.IDs {
		found, err := store.Delete(r.Context(), id)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("delete %d: %w", id, err))
			return
		}
		if found {
			deleted = append(deleted, id)
		} else {
			missing = append(missing, id)
		}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"deleted": deleted,
		"missing": missing,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	store, err := s.store(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req searchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	query := req.Vector
	switch {
	case query != nil:
	case req.QueryText == "":
		s.writeError(w, r, fmt.Errorf("%w: query_text or vector is required", errBadRequest))
		return
	case s.opts.Embedder == nil:
		s.writeError(w, r, fmt.Errorf("%w: no embedder configured, vector is required", errBadRequest))
		return
	default:
		query, err = s.opts.Embedder.Embed(r.Context(), req.QueryText)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	topK := DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	opts := []flatvec.SearchOption{flatvec.WithFilter(req.Filter)}
	if !req.IncludeVectors {
		opts = append(opts, flatvec.WithoutVectors())
	}

	results, err := store.Search(r.Context(), query, topK, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	hits := make([]searchHit, len(results))
	for i, res := range results {
		hits[i] = searchHit{
			Rank:       i + 1,
			ID:         res.ID,
			Text:       res.Text,
			Distance:   res.Score,
			Similarity: 1 - res.Score,
			Metadata:   nonNil(res.Metadata),
			Vector:     res.Vector,
		}
	}
	s.writeJSON(w, r, http.StatusOK, searchResponse{QueryText: req.QueryText, Results: hits})
}
