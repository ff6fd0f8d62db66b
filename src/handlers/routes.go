package handlers

import "net/http"

// NewAPIRouter mounts every ingestion endpoint behind bearer authentication.
func NewAPIRouter(ingest *IngestHandler, trades *TradeHandler, auth TokenValidator) http.Handler {
	requireAuth := AuthMiddleware(auth)
	apiRouter := http.NewServeMux()

	apiRouter.Handle("POST /api/trades", requireAuth(http.HandlerFunc(ingest.HandleManualTrade)))
	apiRouter.Handle("POST /api/trades/import", requireAuth(http.HandlerFunc(ingest.HandleImportFile)))
	apiRouter.Handle("POST /api/connectors/{connector}/sync", requireAuth(http.HandlerFunc(ingest.HandleConnectorSync)))
	apiRouter.Handle("GET /api/ingest/jobs/{id}", requireAuth(http.HandlerFunc(ingest.HandleGetJob)))
	apiRouter.Handle("GET /api/trades", requireAuth(http.HandlerFunc(trades.HandleGetTrades)))
	apiRouter.Handle("GET /api/dedup/log", requireAuth(http.HandlerFunc(trades.HandleGetResolutionLog)))
	apiRouter.Handle("GET /api/dedup/stats", requireAuth(http.HandlerFunc(trades.HandleGetResolutionStats)))

	return apiRouter
}
