package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/workerpool"
)

type toolDecisionRequest struct {
	Decision          string         `json:"decision"`
	BatchMode         bool           `json:"batch_mode"`
	PreExecutedCalls  []string       `json:"pre_executed_calls"`
	PreExecutionState map[string]any `json:"pre_execution_state"`
}

// handleDomainToolDecision implements the tool-decision routing algorithm's
// HTTP entrypoint (spec §4.5, §6): a live async session resumes in-process;
// a live worker-pool session gets the decision forwarded; anything else is
// stale.
func (s *Server) handleDomainToolDecision(rw http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")
	taskID := r.PathValue("task_id")
	callID := r.PathValue("call_id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var req toolDecisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	switch s.async.RouteToolDecision(chatID) {
	case asyncengine.RouteResumedHere:
		decision := asyncengine.ToolDecisionInput{
			CallID: callID, Decision: req.Decision, BatchMode: req.BatchMode,
			PreExecutedCalls: req.PreExecutedCalls, PreExecutionState: req.PreExecutionState,
		}
		if err := s.async.ResumeDomainToolDecision(r.Context(), chatID, decision); err != nil {
			writeError(rw, http.StatusInternalServerError, err)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]string{"status": "resumed"})

	case asyncengine.RouteForwardToPool:
		if s.pool == nil {
			writeError(rw, http.StatusConflict, errRequired("no worker pool available to forward to"))
			return
		}
		w, ok := s.pool.WorkerForChat(chatID)
		if !ok {
			writeJSON(rw, http.StatusGone, map[string]string{"status": "stale"})
			return
		}
		cmd := workerpool.NewDomainToolDecisionCommand(chatID, taskID, callID, req.Decision, req.BatchMode, req.PreExecutedCalls, req.PreExecutionState)
		if err := w.SendCommand(cmd); err != nil {
			writeError(rw, http.StatusInternalServerError, err)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]string{"status": "forwarded"})

	default: // RouteStale
		writeJSON(rw, http.StatusGone, map[string]string{"status": "stale"})
	}
}

type workspaceSelectedRequest struct {
	WorkspaceID string `json:"workspace_id"`
	RootPath    string `json:"root_path"`
}

// handleWorkspaceSelected implements resume_after_workspace_selection's HTTP
// entrypoint (spec §4.5, §6).
func (s *Server) handleWorkspaceSelected(rw http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var req workspaceSelectedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	if err := s.store.UpsertCoderWorkspace(r.Context(), chatID, req.WorkspaceID, req.RootPath); err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}

	if s.async.ResumeAfterWorkspaceSelection(r.Context(), chatID) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "resumed_async"})
		return
	}

	if s.pool != nil {
		if w, ok := s.pool.WorkerForChat(chatID); ok {
			cmd := workerpool.NewWorkspaceSelectedCommand(chatID, req.WorkspaceID, req.RootPath)
			if err := w.SendCommand(cmd); err != nil {
				writeError(rw, http.StatusInternalServerError, err)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]string{"status": "forwarded"})
			return
		}
	}

	writeJSON(rw, http.StatusOK, map[string]string{"status": "recorded"})
}
