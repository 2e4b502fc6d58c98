package daemon

import (
	"net/http"

	"aco/internal/understanding"
)

func (s *apiServer) handleGenerateUnderstanding(w http.ResponseWriter, r *http.Request) {
	var body struct {
		keyBody
		Regenerate bool `json:"regenerate"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.svc.Understanding.Generate(r.Context(), r.PathValue("id"), understanding.GenerateOptions{
		APIKey:     apiKey(r, body.APIKey),
		Regenerate: body.Regenerate,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *apiServer) handleGetUnderstanding(w http.ResponseWriter, r *http.Request) {
	u, err := s.svc.Understanding.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

type editsRequest struct {
	Edits map[string]string `json:"edits"`
}

func (s *apiServer) handleEditUnderstanding(w http.ResponseWriter, r *http.Request) {
	var body editsRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.svc.Understanding.ApplyEdits(r.PathValue("id"), body.Edits)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *apiServer) handleApproveUnderstanding(w http.ResponseWriter, r *http.Request) {
	var body editsRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.svc.Understanding.Approve(r.PathValue("id"), body.Edits)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}
