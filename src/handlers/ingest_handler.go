package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/username/tradeingest/src/logger"
	"github.com/username/tradeingest/src/models"
	"github.com/username/tradeingest/src/parsers"
	"github.com/username/tradeingest/src/security/validation"
	"github.com/username/tradeingest/src/services"
	"github.com/username/tradeingest/src/utils"
)

// manual entries keep numbers as json.Number, like connector payloads
var manualJSON = jsoniter.Config{UseNumber: true}.Froze()

// JobRunner queues batches for asynchronous ingestion.
type JobRunner interface {
	Submit(userID int64, raws []models.RawTrade, sourceLabel string, autoResolve bool) (string, error)
	Get(userID int64, id string) (services.Job, error)
}

type IngestHandler struct {
	service       services.IngestService
	jobs          JobRunner
	maxUploadSize int64
}

func NewIngestHandler(service services.IngestService, jobs JobRunner, maxUploadSize int64) *IngestHandler {
	return &IngestHandler{
		service:       service,
		jobs:          jobs,
		maxUploadSize: maxUploadSize,
	}
}

type jobAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Rows   int    `json:"rows"`
}

// HandleManualTrade ingests one trade from the request body synchronously.
func (h *IngestHandler) HandleManualTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	autoResolve, err := autoResolveParam(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var raw models.RawTrade
	body := http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := manualJSON.NewDecoder(body).Decode(&raw); err != nil || raw == nil {
		logger.L.Warn("Invalid manual trade body", "userID", userID, "error", err)
		utils.SendJSONError(w, "Request body must be a JSON object describing one trade", http.StatusBadRequest)
		return
	}

	report, err := h.service.IngestBatch(r.Context(), userID, []models.RawTrade{raw}, string(models.SourceManual), autoResolve)
	if err != nil {
		logger.L.Error("Manual ingestion failed", "userID", userID, "error", err)
		utils.SendJSONError(w, "An internal error occurred while ingesting the trade", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	switch {
	case report.Failed:
		status = http.StatusServiceUnavailable
	case len(report.ValidationErrors) > 0:
		status = http.StatusUnprocessableEntity
	case len(report.UniqueTrades) > 0:
		status = http.StatusCreated
	}
	utils.SendJSON(w, status, report)
}

// HandleImportFile validates an uploaded CSV export and queues its rows.
func (h *IngestHandler) HandleImportFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	autoResolve, err := autoResolveParam(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "userID", userID, "error", err, "limit", h.maxUploadSize)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", h.maxUploadSize/(1024*1024)), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		logger.L.Warn("Failed to retrieve file from request", "userID", userID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	clientContentType := fileHeader.Header.Get("Content-Type")
	if err := validation.ValidateClientContentType(clientContentType); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	detectedContentType, err := validation.ValidateFileContentByMagicBytes(file)
	if err != nil {
		logger.L.Warn("Server-side file content validation failed", "userID", userID, "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.L.Info("Trade export accepted", "userID", userID, "filename", fileHeader.Filename, "clientType", clientContentType, "detectedType", detectedContentType)

	h.submit(w, userID, file, "csv", string(models.SourceFile), autoResolve)
}

// HandleConnectorSync queues rows already shaped by a broker connector.
func (h *IngestHandler) HandleConnectorSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	autoResolve, err := autoResolveParam(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	connector := strings.TrimSpace(r.PathValue("connector"))
	if connector == "" {
		utils.SendJSONError(w, "connector name is required", http.StatusBadRequest)
		return
	}
	h.submit(w, userID, http.MaxBytesReader(w, r.Body, h.maxUploadSize), "json", string(models.APISource(connector)), autoResolve)
}

func (h *IngestHandler) submit(w http.ResponseWriter, userID int64, body io.Reader, format, source string, autoResolve bool) {
	parser, err := parsers.GetParser(format)
	if err != nil {
		logger.L.Error("No parser for payload format", "format", format, "error", err)
		utils.SendJSONError(w, "unsupported payload format", http.StatusInternalServerError)
		return
	}
	rows, err := parser.Parse(body)
	if err != nil {
		logger.L.Warn("Payload parsing failed", "userID", userID, "source", source, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(rows) == 0 {
		utils.SendJSONError(w, "payload contains no trades", http.StatusBadRequest)
		return
	}

	jobID, err := h.jobs.Submit(userID, rows, source, autoResolve)
	switch {
	case errors.Is(err, services.ErrInvalidSource):
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrQueueClosed):
		w.Header().Set("Retry-After", "5")
		utils.SendJSONError(w, "ingestion is busy, please retry shortly", http.StatusServiceUnavailable)
		return
	case err != nil:
		logger.L.Error("Failed to queue ingestion job", "userID", userID, "error", err)
		utils.SendJSONError(w, "An internal error occurred while queueing the import", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/api/ingest/jobs/"+jobID)
	utils.SendJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID, Status: string(services.JobQueued), Rows: len(rows)})
}

func (h *IngestHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	job, err := h.jobs.Get(userID, r.PathValue("id"))
	if errors.Is(err, services.ErrJobNotFound) {
		utils.SendJSONError(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		utils.SendJSONError(w, "An internal error occurred while reading the job", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, job)
}

// autoResolveParam reads ?auto_resolve, defaulting to true.
func autoResolveParam(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("auto_resolve")
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("auto_resolve must be a boolean, got %q", v)
	}
	return b, nil
}
