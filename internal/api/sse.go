package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/events"
)

// WithEvents enables the progress stream backed by bus.
func WithEvents(bus *events.EventBus) ServerOption {
	return func(s *Server) {
		s.events = bus
	}
}

// WithHeartbeat sets the interval between stream keep-alive comments.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// handleWorkflowEvents streams progress events for one workflow until its
// report is ready or the client goes away. A workflow that already has a
// report gets a single report_ready event.
func (s *Server) handleWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusNotImplemented, "event streaming is disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := core.WorkflowID(chi.URLParam(r, "workflowID"))

	// Subscribe before looking at the run so nothing between the two is lost.
	eventCh := s.events.SubscribeWorkflow(string(id))
	defer s.events.Unsubscribe(eventCh)

	report, err := s.service.GetResult(r.Context(), id)
	if err != nil && !errors.Is(err, core.ErrStillRunning) {
		respondDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.sendEvent(w, flusher, "connected", map[string]string{"workflow_id": string(id)})
	if report != nil {
		s.sendEvent(w, flusher, events.TypeReportReady,
			events.NewReportReadyEvent(string(id), string(report.Status), report.SummaryDegraded))
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			s.sendEvent(w, flusher, event.EventType(), event)
			if events.IsFinal(event) {
				return
			}
		}
	}
}

func (s *Server) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("encoding stream event", "type", eventType, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}
