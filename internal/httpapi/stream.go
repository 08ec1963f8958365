package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/logqs/atlas2/internal/dispatcher"
	"github.com/logqs/atlas2/internal/eventbus"
)

type ssePayload struct {
	ChatID   string         `json:"chat_id,omitempty"`
	Type     string         `json:"type"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Seq      int64          `json:"seq"`
}

func writeSSE(rw http.ResponseWriter, flusher http.Flusher, ev eventbus.Event) error {
	data, err := json.Marshal(ssePayload{ChatID: ev.ChatID, Type: string(ev.Type), Content: ev.Content, Metadata: ev.Metadata, Seq: ev.Seq})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(rw, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

type streamRequest struct {
	ChatID             string   `json:"chat_id"`
	Message            string   `json:"message"`
	Provider           string   `json:"provider"`
	Model              string   `json:"model"`
	IncludeReasoning   bool     `json:"include_reasoning"`
	AttachedFileIDs    []string `json:"attached_file_ids"`
	IsRetry            bool     `json:"is_retry"`
	ExistingMessageID  string   `json:"existing_message_id"`
	IsEditRegeneration bool     `json:"is_edit_regeneration"`
}

// handleChatStream is spec §6's combined POST /chat/stream: it dispatches a
// turn and streams the SSE events scoped to that one chat_id, starting with
// the reconnect hint and an explicit chat_id frame (spec §8 scenario 1), and
// ending with the turn's terminal event.
func (s *Server) handleChatStream(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var req streamRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
	}
	if req.ChatID == "" {
		req.ChatID = uuid.NewString()
	}
	if req.Provider == "" && req.Model == "" && s.prefs != nil {
		if pref, err := s.prefs.Load(); err == nil {
			req.Provider, req.Model = pref.Provider, pref.Model
		}
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	// Subscribe before dispatching so no event between dispatch and the
	// first q.C() read can be missed (the bus buffers to backlog if no
	// subscriber is registered yet, but we want this turn's events live).
	q := s.bus.Subscribe()
	defer s.bus.Unsubscribe(q)

	fmt.Fprintf(rw, "retry: 1500\n\n")
	writeRawSSE(rw, flusher, map[string]any{"type": "chat_id", "content": req.ChatID})

	err = s.dispatcher.StartChatProcessing(r.Context(), dispatcher.Request{
		ChatID: req.ChatID, Message: req.Message, Provider: req.Provider, Model: req.Model,
		IncludeReasoning: req.IncludeReasoning, AttachedFileIDs: req.AttachedFileIDs,
		IsRetry: req.IsRetry, ExistingMessageID: req.ExistingMessageID,
		IsEditRegeneration: req.IsEditRegeneration,
	})
	if err != nil {
		writeRawSSE(rw, flusher, map[string]any{"type": "error", "content": err.Error()})
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-q.C():
			if !ok {
				return
			}
			if ev.ChatID != req.ChatID {
				continue
			}
			if err := writeSSE(rw, flusher, ev); err != nil {
				return
			}
			if ev.IsTerminal() {
				return
			}
		}
	}
}

func writeRawSSE(rw http.ResponseWriter, flusher http.Flusher, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(rw, "data: %s\n\n", data)
	flusher.Flush()
}

// handleChatStreamAll streams every event on the bus, unfiltered, for a
// single dashboard-style subscriber (spec §6 "/chat/stream/all").
func (s *Server) handleChatStreamAll(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	q := s.bus.Subscribe()
	defer s.bus.Unsubscribe(q)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-q.C():
			if !ok {
				return
			}
			if err := writeSSE(rw, flusher, ev); err != nil {
				return
			}
		}
	}
}

// handleChatStateStream streams only chat_state transitions, for clients
// that only need lifecycle updates (e.g. a chat-list sidebar).
func (s *Server) handleChatStateStream(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	q := s.bus.Subscribe()
	defer s.bus.Unsubscribe(q)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-q.C():
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeChatState {
				continue
			}
			if err := writeSSE(rw, flusher, ev); err != nil {
				return
			}
		}
	}
}
