package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"argus/core"
	"argus/ingest"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const maxRequestBody = 1 << 20 // 1 MiB

// maxListLimit bounds the events query so a client cannot force an
// arbitrarily large allocation.
const maxListLimit = 1000

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warnw("failed to encode response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}

// writeInternalError hides the cause from the client but ties the response to
// the log line through a correlation ID.
func (a *API) writeInternalError(w http.ResponseWriter, err error) {
	id := uuid.NewString()
	a.logger.Errorw("internal error", "correlation_id", id, "error", err)
	a.writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:         "internal error",
		CorrelationID: id,
	})
}

type createEventRequest struct {
	Timestamp     string   `json:"timestamp,omitempty"`
	SourceSystem  string   `json:"source_system"`
	SourceIP      string   `json:"source_ip,omitempty"`
	DestinationIP string   `json:"destination_ip,omitempty"`
	SourcePort    int      `json:"source_port,omitempty"`
	DestPort      int      `json:"destination_port,omitempty"`
	Protocol      string   `json:"protocol,omitempty"`
	Category      string   `json:"category"`
	Severity      string   `json:"severity,omitempty"`
	EventType     string   `json:"event_type"`
	Description   string   `json:"description,omitempty"`
	UserID        string   `json:"user_id,omitempty"`
	ProcessName   string   `json:"process_name,omitempty"`
	FilePath      string   `json:"file_path,omitempty"`
	CommandLine   string   `json:"command_line,omitempty"`
	IOCs          []string `json:"indicators_of_compromise,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// handleCreateEvent accepts a manual event and routes it through the normal
// enrichment and buffering path.
func (a *API) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event := core.NewEvent()
	event.SourceSystem = req.SourceSystem
	event.SourceIP = req.SourceIP
	event.DestinationIP = req.DestinationIP
	event.SourcePort = req.SourcePort
	event.DestinationPort = req.DestPort
	event.Protocol = req.Protocol
	event.Category = core.Category(req.Category)
	event.EventType = req.EventType
	event.Description = req.Description
	event.UserID = req.UserID
	event.ProcessName = req.ProcessName
	event.FilePath = req.FilePath
	event.CommandLine = req.CommandLine
	for _, ioc := range req.IOCs {
		event.AddIOC(ioc)
	}
	for _, tag := range req.Tags {
		event.AddTag(tag)
	}

	if req.Severity != "" {
		severity, err := core.ParseSeverity(req.Severity)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		event.Severity = severity
	}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid timestamp: "+err.Error())
			return
		}
		event.Timestamp = ts.UTC()
	}

	if err := a.injector.Inject(event); err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			a.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		a.writeInternalError(w, err)
		return
	}

	a.writeJSON(w, http.StatusCreated, event)
}

// handleListEvents returns recent buffered events, newest last, optionally
// filtered by minimum severity and capped by limit.
func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			a.writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		limit = n
	}

	var minSeverity core.Severity
	if raw := r.URL.Query().Get("severity"); raw != "" {
		s, err := core.ParseSeverity(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		minSeverity = s
	}

	events := a.buffer.Snapshot(time.Time{})
	out := make([]*core.Event, 0, limit)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := events[i]
		if minSeverity != "" && !ev.Severity.AtLeast(minSeverity) {
			continue
		}
		out = append(out, ev)
	}

	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": out,
		"count":  len(out),
	})
}

// handleActiveAlerts returns NEW and INVESTIGATING alerts, most severe first.
func (a *API) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := a.alerts.ActiveAlerts()
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	alert, ok := a.alerts.Get(id)
	if !ok {
		a.writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}

type lifecycleRequest struct {
	Analyst string `json:"analyst,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// decodeLifecycleBody tolerates an empty body: every lifecycle field is
// optional.
func decodeLifecycleBody(w http.ResponseWriter, r *http.Request) (lifecycleRequest, error) {
	var req lifecycleRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	err := decoder.Decode(&req)
	if errors.Is(err, io.EOF) {
		return req, nil
	}
	return req, err
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLifecycleBody(w, r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	a.lifecycleResponse(w, r, a.alerts.Acknowledge(mux.Vars(r)["id"], req.Analyst))
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	a.lifecycleResponse(w, r, a.alerts.Confirm(mux.Vars(r)["id"]))
}

func (a *API) handleFalsePositive(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLifecycleBody(w, r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	a.lifecycleResponse(w, r, a.alerts.MarkFalsePositive(mux.Vars(r)["id"], req.Notes))
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLifecycleBody(w, r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	a.lifecycleResponse(w, r, a.alerts.Resolve(mux.Vars(r)["id"], req.Notes))
}

func (a *API) handleSuppress(w http.ResponseWriter, r *http.Request) {
	a.lifecycleResponse(w, r, a.alerts.Suppress(mux.Vars(r)["id"]))
}

// lifecycleResponse maps lifecycle errors to HTTP status codes: unknown alert
// is 404, a disallowed transition is 409. Successful transitions are written
// through to the alert sink so persisted state tracks operator actions.
func (a *API) lifecycleResponse(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		alert, _ := a.alerts.Get(mux.Vars(r)["id"])
		if a.alertWriter != nil && alert != nil {
			if werr := a.alertWriter.WriteAlert(alert); werr != nil {
				a.logger.Warnw("alert persistence failed", "alert_id", alert.AlertID, "error", werr)
			}
		}
		a.writeJSON(w, http.StatusOK, alert)
	case errors.Is(err, core.ErrAlertNotFound):
		a.writeError(w, http.StatusNotFound, "alert not found")
	case errors.Is(err, core.ErrInvalidTransition):
		a.writeError(w, http.StatusConflict, err.Error())
	default:
		a.writeInternalError(w, err)
	}
}

// handleMetricsSnapshot returns the operational counters as JSON. The
// Prometheus exposition lives at /metrics.
func (a *API) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.registry.Snapshot())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
