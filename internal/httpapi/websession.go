package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/logqs/atlas2/internal/websession"
)

type webSessionRequest struct {
	Profile string `json:"profile"`
	ChatID  string `json:"chat_id"`
}

func (s *Server) handleWebEnsureSession(rw http.ResponseWriter, r *http.Request) {
	if s.webs == nil {
		writeError(rw, http.StatusServiceUnavailable, errRequired("web session manager not enabled"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var req webSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if req.ChatID == "" {
		writeError(rw, http.StatusBadRequest, errRequired("chat_id is required"))
		return
	}

	snap, err := s.webs.EnsureSession(r.Context(), req.Profile, req.ChatID)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, snap)
}

func (s *Server) handleWebCaptureFrame(rw http.ResponseWriter, r *http.Request) {
	if s.webs == nil {
		writeError(rw, http.StatusServiceUnavailable, errRequired("web session manager not enabled"))
		return
	}
	chatID := r.PathValue("chat_id")
	profile := r.URL.Query().Get("profile")

	frame, err := s.webs.CaptureFrame(profile, chatID)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	rw.Header().Set("Content-Type", "image/jpeg")
	rw.Write(frame)
}

type webCommandRequest struct {
	Profile  string              `json:"profile"`
	Type     websession.CommandType `json:"type"`
	URL      string              `json:"url"`
	Selector string              `json:"selector"`
	DX       int                 `json:"dx"`
	DY       int                 `json:"dy"`
	Key      string              `json:"key"`
	Text     string              `json:"text"`
}

func (s *Server) handleWebDispatchCommand(rw http.ResponseWriter, r *http.Request) {
	if s.webs == nil {
		writeError(rw, http.StatusServiceUnavailable, errRequired("web session manager not enabled"))
		return
	}
	chatID := r.PathValue("chat_id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var req webCommandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	snap, err := s.webs.DispatchCommand(req.Profile, chatID, websession.Command{
		Type: req.Type, URL: req.URL, Selector: req.Selector, DX: req.DX, DY: req.DY, Key: req.Key, Text: req.Text,
	})
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, snap)
}
