package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pharmsync/internal/database"
	"pharmsync/internal/models"
	"pharmsync/internal/report"
	"pharmsync/internal/scheduler"
)

// statusFor maps scheduler and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrPassInProgress):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrPrecondition):
		return http.StatusPreconditionFailed
	case errors.Is(err, scheduler.ErrEnumeration):
		return http.StatusBadGateway
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnknownEntity), errors.Is(err, scheduler.ErrNotTrackable):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidBackend):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, code, err.Error())
}

func pathBackendID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid backend id %q", raw)
	}
	return id, nil
}

func (s *HTTPServer) pathEntity(r *http.Request) (models.EntityType, error) {
	info, err := s.scheduler.Registry().ParseEntity(r.PathValue("entity"))
	if err != nil {
		return "", err
	}
	return info.Type, nil
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "state database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request) {
	id, err := pathBackendID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entity, err := s.pathEntity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.scheduler.Import(r.Context(), id, entity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCronImport(w http.ResponseWriter, r *http.Request) {
	entity, err := s.pathEntity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.scheduler.CronImport(r.Context(), entity)
	if results == nil {
		results = []scheduler.PassResult{}
	}
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "results": results})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *HTTPServer) handleImportFDB(w http.ResponseWriter, r *http.Request) {
	id, err := pathBackendID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.scheduler.ImportFDB(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"submitted": n})
}

func (s *HTTPServer) handleImportFDBNDC(w http.ResponseWriter, r *http.Request) {
	id, err := pathBackendID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.scheduler.ImportFDBByControlCode(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"submitted": n})
}

func (s *HTTPServer) handleResync(w http.ResponseWriter, r *http.Request) {
	entity, err := s.pathEntity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	priority := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("priority")); raw != "" {
		priority, err = strconv.Atoi(raw)
		if err != nil || priority < 0 {
			writeError(w, http.StatusBadRequest, "priority must be a non-negative integer")
			return
		}
	}

	n, err := s.scheduler.ResyncAll(r.Context(), entity, priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"submitted": n})
}

func (s *HTTPServer) handleForceSync(w http.ResponseWriter, r *http.Request) {
	entity, err := s.pathEntity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("backend_id"))
	backendID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || backendID <= 0 {
		writeError(w, http.StatusBadRequest, "backend_id is required")
		return
	}
	remoteID := strings.TrimSpace(r.PathValue("remote_id"))

	if err := s.scheduler.ForceSync(r.Context(), entity, remoteID, backendID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"submitted": 1})
}

func (s *HTTPServer) handleBackends(w http.ResponseWriter, r *http.Request) {
	backends, err := s.store.ListActiveBackends(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if backends == nil {
		backends = []*models.Backend{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backends": backends})
}

func (s *HTTPServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.QueueStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleFailedReport(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	tasks, err := s.store.GetFailedImportTasks(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	backends, err := s.store.ListActiveBackends(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	names := make(map[int64]string, len(backends))
	for _, b := range backends {
		names[b.ID] = b.Name
	}

	var buf bytes.Buffer
	if err := report.WriteFailedTasks(&buf, tasks, names); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="failed_imports_%s.xlsx"`, time.Now().UTC().Format("2006-01-02")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
