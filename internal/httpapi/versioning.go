package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/logqs/atlas2/internal/dispatcher"
	"github.com/logqs/atlas2/internal/versioning"
)

type versioningNotifyRequest struct {
	ChatID        string `json:"chat_id"`
	MessageID     string `json:"message_id"`
	Operation     string `json:"operation"`
	NewContent    string `json:"new_content"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	RouterEnabled bool   `json:"router_enabled"`
}

// handleVersioningNotify implements apply_operation's HTTP surface (spec §6
// "/db/versioning/notify").
func (s *Server) handleVersioningNotify(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var req versioningNotifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	op := versioning.Operation(req.Operation)
	switch op {
	case versioning.OpEdit, versioning.OpRetry, versioning.OpDelete:
	default:
		writeError(rw, http.StatusBadRequest, errRequired("operation must be one of edit, retry, delete"))
		return
	}

	result, err := versioning.ApplyOperation(r.Context(), s.store, req.ChatID, req.MessageID, op, req.NewContent)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}

	if result.NeedsStreaming {
		streamReq := dispatcher.Request{
			ChatID:             result.VersionChatID,
			Message:            result.StreamMessage,
			Provider:           req.Provider,
			Model:              req.Model,
			AttachedFileIDs:    result.AttachedFileIDs,
			RouterEnabled:      req.RouterEnabled,
			IsEditRegeneration: true,
		}
		go func() {
			// Detached from the request context: the turn must outlive this
			// HTTP response, which the client is not expected to keep open.
			if err := s.dispatcher.StartChatProcessing(context.Background(), streamReq); err != nil {
				s.log.Warn("httpapi: failed to start streaming turn after versioning operation", "chat_id", result.VersionChatID, "err", err)
			}
		}()
	}

	writeJSON(rw, http.StatusOK, result)
}

func (s *Server) handleChatVersions(rw http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	chats, err := s.store.ListChatsBelongingTo(r.Context(), chatID)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, chats)
}

func (s *Server) handleMessageVersions(rw http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("id")
	versions, err := versioning.GetMessageVersions(r.Context(), s.store, messageID)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, versions)
}
