package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/config"
	"github.com/logqs/atlas2/internal/dispatcher"
	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/providers"
	"github.com/logqs/atlas2/internal/workerpool"
)

const maxSendBodySize = 1 << 20 // 1MB, mirrors tranhoangtu-it-openbot's maxBodySize

type sendRequest struct {
	ChatID             string   `json:"chat_id"`
	Message            string   `json:"message"`
	Provider           string   `json:"provider"`
	Model              string   `json:"model"`
	IncludeReasoning   bool     `json:"include_reasoning"`
	AttachedFileIDs    []string `json:"attached_file_ids"`
	RouterEnabled      bool     `json:"router_enabled"`
	IsRetry            bool     `json:"is_retry"`
	ExistingMessageID  string   `json:"existing_message_id"`
	IsEditRegeneration bool     `json:"is_edit_regeneration"`
	RequiresWorkspace  bool     `json:"requires_workspace"`
}

type sendResponse struct {
	ChatID   string             `json:"chat_id"`
	Response sendResponseFields `json:"response"`
}

type sendResponseFields struct {
	Text     string `json:"text"`
	Thoughts string `json:"thoughts,omitempty"`
}

// handleChatSend is spec §6's non-streaming POST /chat/send: unlike
// /chat/stream it blocks until the turn finishes and returns the full
// assistant text (and any thoughts) in one response body, rather than SSE
// frames. It dispatches the same way /chat/stream does, but accumulates the
// turn's answer/thoughts events itself instead of forwarding them live.
func (s *Server) handleChatSend(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var req sendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if req.Message == "" {
		writeError(rw, http.StatusBadRequest, errRequired("message is required"))
		return
	}
	if req.ChatID == "" {
		req.ChatID = uuid.NewString()
	}

	if req.Provider == "" && req.Model == "" && s.prefs != nil {
		if pref, err := s.prefs.Load(); err == nil {
			req.Provider, req.Model = pref.Provider, pref.Model
		}
	}

	q := s.bus.Subscribe()
	defer s.bus.Unsubscribe(q)

	err = s.dispatcher.StartChatProcessing(r.Context(), dispatcher.Request{
		ChatID: req.ChatID, Message: req.Message, Provider: req.Provider, Model: req.Model,
		IncludeReasoning: req.IncludeReasoning,
		AttachedFileIDs:  req.AttachedFileIDs, RouterEnabled: req.RouterEnabled,
		IsRetry: req.IsRetry, ExistingMessageID: req.ExistingMessageID,
		IsEditRegeneration: req.IsEditRegeneration, RequiresWorkspace: req.RequiresWorkspace,
	})
	switch err {
	case nil:
	case dispatcher.ErrDuplicateRequest:
		writeJSON(rw, http.StatusConflict, map[string]string{"status": "duplicate"})
		return
	case dispatcher.ErrChatBusy:
		writeJSON(rw, http.StatusConflict, map[string]string{"status": "busy"})
		return
	case dispatcher.ErrTooManyConcurrentChats:
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"status": "overloaded"})
		return
	default:
		writeError(rw, http.StatusInternalServerError, err)
		return
	}

	var text, thoughts strings.Builder
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			writeError(rw, http.StatusGatewayTimeout, ctx.Err())
			return
		case ev, ok := <-q.C():
			if !ok {
				writeError(rw, http.StatusInternalServerError, fmt.Errorf("event bus closed before turn completed"))
				return
			}
			if ev.ChatID != req.ChatID {
				continue
			}
			switch ev.Type {
			case eventbus.TypeAnswer:
				text.WriteString(ev.Content)
			case eventbus.TypeThoughts:
				thoughts.WriteString(ev.Content)
			case eventbus.TypeError:
				writeError(rw, http.StatusInternalServerError, fmt.Errorf("%s", ev.Content))
				return
			}
			if ev.IsTerminal() {
				writeJSON(rw, http.StatusOK, sendResponse{
					ChatID:   req.ChatID,
					Response: sendResponseFields{Text: text.String(), Thoughts: thoughts.String()},
				})
				return
			}
		}
	}
}

func (s *Server) handleChatStop(rw http.ResponseWriter, r *http.Request) {
	s.requestStop(rw, r, asyncengine.StopStop)
}

func (s *Server) handleChatCancel(rw http.ResponseWriter, r *http.Request) {
	s.requestStop(rw, r, asyncengine.StopCancel)
}

func (s *Server) requestStop(rw http.ResponseWriter, r *http.Request, flag asyncengine.StopFlag) {
	chatID := r.PathValue("id")
	if chatID == "" {
		writeError(rw, http.StatusBadRequest, errRequired("chat id is required"))
		return
	}
	s.async.RequestStop(chatID, flag)
	if s.pool != nil {
		if w, ok := s.pool.WorkerForChat(chatID); ok {
			if flag == asyncengine.StopCancel {
				_ = w.SendCommand(workerpool.NewCancelCommand(chatID))
			} else {
				_ = w.SendCommand(workerpool.NewStopCommand(chatID))
			}
		}
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "requested"})
}

func (s *Server) handleChatHistory(rw http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")
	history, err := s.store.GetChatHistory(r.Context(), chatID)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, history)
}

func (s *Server) handleProviders(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"providers": providers.SupportedProviders()})
}

// defaultModelEnv mirrors ResolveLLMClient's per-provider default-model env
// vars, without constructing a live client (and its API-key requirement)
// just to answer "what would the default model be".
var defaultModelEnv = map[string][2]string{
	"openai":    {"OPENAI_MODEL", "gpt-4o-mini"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-3-sonnet-20240229"},
	"kimi":      {"KIMI_MODEL", "kimi-k2-250711"},
	"gemini":    {"GEMINI_MODEL", "gemini-1.5-flash"},
	"lmstudio":  {"LMSTUDIO_MODEL", "local-model"},
	"ollama":    {"OLLAMA_MODEL", "llama3.1"},
	"glm":       {"GLM_MODEL", "glm-4-plus"},
	"minimax":   {"MINIMAX_MODEL", "abab6.5s-chat"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat"},
	"groq":      {"GROQ_MODEL", "llama-3.1-70b-versatile"},
}

func (s *Server) handleModels(rw http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		provider = "openai"
	}
	spec, ok := defaultModelEnv[provider]
	if !ok {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("unknown provider: %s", provider))
		return
	}
	model := os.Getenv(spec[0])
	if model == "" {
		model = spec[1]
	}
	writeJSON(rw, http.StatusOK, map[string]any{"provider": provider, "default_model": model})
}

// handleGetPreferences returns the operator's saved default provider/model,
// used to fill in a chat send request that specifies neither.
func (s *Server) handleGetPreferences(rw http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		writeJSON(rw, http.StatusOK, config.Preference{})
		return
	}
	pref, err := s.prefs.Load()
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, pref)
}

// handleSetPreferences saves the operator's default provider/model/base URL.
func (s *Server) handleSetPreferences(rw http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		writeError(rw, http.StatusServiceUnavailable, errRequired("preference storage unavailable"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var pref config.Preference
	if err := json.Unmarshal(body, &pref); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if err := s.prefs.Save(&pref); err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, pref)
}

type errRequired string

func (e errRequired) Error() string { return string(e) }
