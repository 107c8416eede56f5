package handlers

import (
	"errors"
	"net/http"

	"github.com/wolfman30/physio-messaging/internal/chatbot"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// ChatbotRulesHandler reads and replaces the active chatbot rule set.
type ChatbotRulesHandler struct {
	engine *chatbot.Engine
	logger *logging.Logger
}

func NewChatbotRulesHandler(engine *chatbot.Engine, logger *logging.Logger) *ChatbotRulesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatbotRulesHandler{engine: engine, logger: logger}
}

func (h *ChatbotRulesHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": h.engine.Rules()})
}

// Replace swaps the whole rule set. Invalid sets leave the current one active.
func (h *ChatbotRulesHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules []chatbot.Rule `json:"rules"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.engine.UpdateRules(body.Rules); err != nil {
		if errors.Is(err, chatbot.ErrInvalidRule) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("update chatbot rules failed", "error", err)
		jsonError(w, "failed to update rules", http.StatusInternalServerError)
		return
	}
	h.logger.Info("chatbot rules replaced", "count", len(body.Rules))
	writeJSON(w, http.StatusOK, map[string]any{"rules": h.engine.Rules()})
}
