package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type terminalCreateRequest struct {
	WorkDir string `json:"work_dir"`
}

func (s *Server) handleTerminalCreate(rw http.ResponseWriter, r *http.Request) {
	if s.terms == nil {
		writeError(rw, http.StatusServiceUnavailable, errRequired("terminal manager not enabled"))
		return
	}
	chatID := r.PathValue("chat_id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var req terminalCreateRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
	}

	sess, err := s.terms.Create(chatID, req.WorkDir)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"session_id": sess.ID, "chat_id": sess.ChatID})
}

type terminalSendRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleTerminalSend(rw http.ResponseWriter, r *http.Request) {
	if s.terms == nil {
		writeError(rw, http.StatusServiceUnavailable, errRequired("terminal manager not enabled"))
		return
	}
	chatID := r.PathValue("chat_id")
	sess, ok := s.terms.Get(chatID)
	if !ok {
		writeError(rw, http.StatusNotFound, errRequired("no terminal session for this chat"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var req terminalSendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	if err := sess.Send([]byte(req.Data)); err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "sent"})
}

// handleTerminalStream streams a terminal session's PTY output as SSE,
// matching the chat-event stream's transport so a single client library
// handles both.
func (s *Server) handleTerminalStream(rw http.ResponseWriter, r *http.Request) {
	if s.terms == nil {
		writeError(rw, http.StatusServiceUnavailable, errRequired("terminal manager not enabled"))
		return
	}
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}
	chatID := r.PathValue("chat_id")
	sess, ok := s.terms.Get(chatID)
	if !ok {
		writeError(rw, http.StatusNotFound, errRequired("no terminal session for this chat"))
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	ch := sess.Subscribe()
	defer sess.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(map[string]any{
				"data_base64": base64.StdEncoding.EncodeToString(chunk.Data),
				"closed":      chunk.Closed,
			})
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(rw, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
			if chunk.Closed {
				return
			}
		}
	}
}
