package api

import (
	"fmt"
	"net/http"

	"traceapi/internal/mix"
	"traceapi/internal/services"
	"traceapi/internal/store"
)

func (s *Server) handleMixCreate(w http.ResponseWriter, r *http.Request) {
	var req MixCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.services.Mixes.Create(r.Context(), mix.CreateRequest{
		Name:        req.Name,
		Description: req.Description,
		Labels:      req.Labels,
		Origins:     toOrigins(req.AnnotatedUnits),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromMix(m))
}

func (s *Server) handleMixFind(w http.ResponseWriter, r *http.Request) {
	var req MixFindRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	op, err := store.ParseOperator(req.Operator)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "find mixes", err.Error(), nil))
		return
	}
	mixes, err := s.services.Mixes.Find(r.Context(), mix.Query{
		Name:        req.Name,
		Description: req.Description,
		Labels:      req.Labels,
		Operator:    op,
		Page:        req.Page,
		Limit:       req.Limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]Mix, 0, len(mixes))
	for _, m := range mixes {
		out = append(out, FromMix(m))
	}
	s.writeJSON(w, http.StatusOK, ListResponse[Mix]{Data: out})
}

func (s *Server) handleMixDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.services.Mixes.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromMix(m))
}

func (s *Server) handleMixDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithMixID(r.Context(), id)
	if err := s.services.Mixes.Delete(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"id_mix": id})
}

func (s *Server) handleMixGenerate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gen, err := s.services.Generations.Generate(services.WithMixID(r.Context(), id), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromGeneration(gen))
}

func (s *Server) handleMixGenerateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gen, err := s.services.Generations.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromGeneration(gen))
}

func (s *Server) handleMixDownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rc, gen, err := s.services.Generations.Download(r.Context(), id)
	if err != nil {
		s.writeGenerationError(w, r, err, gen)
		return
	}
	s.streamCapture(w, r, rc, fmt.Sprintf("mix-%d.pcap", id))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.services.Status == nil {
		s.writeJSON(w, http.StatusOK, DaemonStatus{Checks: []CheckResult{}})
		return
	}
	s.writeJSON(w, http.StatusOK, s.services.Status(r.Context()))
}
