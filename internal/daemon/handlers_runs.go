package daemon

import (
	"net/http"

	"aco/internal/chat"
	"aco/internal/runs"
)

func (s *apiServer) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		keyBody
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.svc.Chat.Send(r.Context(), r.PathValue("id"), r.PathValue("step"), body.Message, chat.Options{APIKey: apiKey(r, body.APIKey)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.Chat.History(r.PathValue("id"), r.PathValue("step"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *apiServer) handleChatClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Chat.Clear(r.PathValue("id"), r.PathValue("step")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Runs.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []runs.Summary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": list})
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Runs.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// handleDeleteRun serves both DELETE /api/runs/{id} and DELETE
// /api/manifest/{id}. A background attempt is stopped before any file is removed.
func (s *apiServer) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := runs.ValidateID(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Pipeline.CancelAndWait(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Manifests.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Workflow.Progress(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *apiServer) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Step string `json:"step"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Workflow.Advance(r.PathValue("id"), body.Step)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *apiServer) handleCompareRuns(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RunIDs []string `json:"run_ids"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	cmp, err := s.svc.Runs.Compare(body.RunIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmp)
}
