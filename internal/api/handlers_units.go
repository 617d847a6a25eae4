package api

import (
	"fmt"
	"net/http"
	"strings"

	"traceapi/internal/annotated"
	"traceapi/internal/services"
)

func (s *Server) handleUnitUpload(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format := strings.TrimSpace(query.Get("format"))
	u, err := s.services.Units.Upload(r.Context(), r.Body, format, strings.TrimSpace(query.Get("annotation")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromUnit(u))
}

func (s *Server) handleUnitDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.services.Units.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromUnit(u))
}

func (s *Server) handleAnnotatedUnitCreate(w http.ResponseWriter, r *http.Request) {
	var req AnnotatedUnitCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithUnitID(r.Context(), req.UnitID)
	au, err := s.services.Units.Annotate(ctx, req.UnitID, annotated.CreateRequest{
		Name:        req.Name,
		Description: req.Description,
		IPMapping:   toPairs(req.IPMapping),
		MACMapping:  toPairs(req.MACMapping),
		Timestamp:   req.Timestamp,
		IPDetails:   req.IPDetails,
		Labels:      req.Labels,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromAnnotatedUnit(au))
}

func (s *Server) handleAnnotatedUnitFind(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	units, err := s.services.AnnotatedUnits.List(r.Context(), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]AnnotatedUnit, 0, len(units))
	for _, au := range units {
		out = append(out, FromAnnotatedUnit(au))
	}
	s.writeJSON(w, http.StatusOK, ListResponse[AnnotatedUnit]{Data: out})
}

func (s *Server) handleAnnotatedUnitDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	au, err := s.services.AnnotatedUnits.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromAnnotatedUnit(au))
}

func (s *Server) handleAnnotatedUnitDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithAnnotatedUnitID(r.Context(), id)
	if err := s.services.AnnotatedUnits.Delete(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"id_annotated_unit": id})
}

func (s *Server) handleAnnotatedUnitDownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rc, _, err := s.services.AnnotatedUnits.Download(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streamCapture(w, r, rc, fmt.Sprintf("annotated-unit-%d.pcap", id))
}
