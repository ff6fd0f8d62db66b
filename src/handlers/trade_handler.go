package handlers

import (
	"net/http"
	"strconv"

	"github.com/username/tradeingest/src/logger"
	"github.com/username/tradeingest/src/services"
	"github.com/username/tradeingest/src/utils"
)

const maxLogLimit = 1000

// TradeHandler serves the unified trade view and the deduplication audit.
type TradeHandler struct {
	service services.IngestService
}

func NewTradeHandler(service services.IngestService) *TradeHandler {
	return &TradeHandler{service: service}
}

func (h *TradeHandler) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	trades, err := h.service.UnifiedTrades(r.Context(), userID)
	if err != nil {
		logger.L.Error("Error retrieving unified trades", "userID", userID, "error", err)
		utils.SendJSONError(w, "Error retrieving trades", http.StatusInternalServerError)
		return
	}
	utils.SendJSONWithETag(w, r, trades)
}

func (h *TradeHandler) HandleGetResolutionLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			utils.SendJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries, err := h.service.ResolutionHistory(r.Context(), userID, limit)
	if err != nil {
		logger.L.Error("Error retrieving resolution log", "userID", userID, "error", err)
		utils.SendJSONError(w, "Error retrieving resolution log", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, entries)
}

func (h *TradeHandler) HandleGetResolutionStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	stats, err := h.service.ResolutionStats(r.Context(), userID)
	if err != nil {
		logger.L.Error("Error retrieving resolution stats", "userID", userID, "error", err)
		utils.SendJSONError(w, "Error retrieving resolution statistics", http.StatusInternalServerError)
		return
	}
	utils.SendJSONWithETag(w, r, stats)
}
