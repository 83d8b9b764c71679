package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"supernotify/internal/engine"
	logx "supernotify/pkg/logx"
)

// notifyRequest is the inbound wire shape. "delivery" accepts a single
// channel name, a list of names, or a map of name to override object, where
// a JSON null override means "enable with defaults".
type notifyRequest struct {
	Message           string          `json:"message"`
	Title             string          `json:"title,omitempty"`
	Targets           []string        `json:"targets,omitempty"`
	Priority          string          `json:"priority,omitempty"`
	Scenarios         []string        `json:"scenarios,omitempty"`
	Delivery          json.RawMessage `json:"delivery,omitempty"`
	DeliverySelection string          `json:"delivery_selection,omitempty"`
	Recipients        []string        `json:"recipients,omitempty"`
	Media             *engine.Media   `json:"media,omitempty"`
	Labels            []string        `json:"labels,omitempty"`
	Debug             bool            `json:"debug,omitempty"`
}

func (req *notifyRequest) toNotification() (*engine.Notification, error) {
	priority, err := engine.ParsePriority(req.Priority)
	if err != nil {
		return nil, err
	}
	mode, err := engine.ParseSelectionMode(req.DeliverySelection)
	if err != nil {
		return nil, err
	}
	overrides, err := parseDelivery(req.Delivery)
	if err != nil {
		return nil, err
	}
	return &engine.Notification{
		Message:    req.Message,
		Title:      req.Title,
		Targets:    req.Targets,
		Priority:   priority,
		Scenarios:  req.Scenarios,
		Mode:       mode,
		Overrides:  overrides,
		Recipients: req.Recipients,
		Media:      req.Media,
		Labels:     req.Labels,
		Debug:      req.Debug,
	}, nil
}

func parseDelivery(raw json.RawMessage) (map[string]*engine.ChannelOverride, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var single string
	if json.Unmarshal(raw, &single) == nil {
		return map[string]*engine.ChannelOverride{single: nil}, nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		out := make(map[string]*engine.ChannelOverride, len(list))
		for _, name := range list {
			out[name] = nil
		}
		return out, nil
	}
	var m map[string]*engine.ChannelOverride
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("delivery must be a string, list or map: %w", err)
	}
	return m, nil
}

// messageDefaulted reports whether an empty inbound message could still
// produce a non-empty envelope: a per-call override or an enabled catalog
// entry carries its own body.
func messageDefaulted(catalog *engine.Catalog, n *engine.Notification) bool {
	for _, o := range n.Overrides {
		if o != nil && o.Included() && o.Message != "" {
			return true
		}
	}
	for _, e := range catalog.Entries() {
		if e.Enabled && e.Message != "" {
			return true
		}
	}
	return false
}

type notifyResponse struct {
	ID           string         `json:"id"`
	Suppressed   bool           `json:"suppressed"`
	SuppressedBy string         `json:"suppressed_by,omitempty"`
	Selected     []string       `json:"selected,omitempty"`
	Delivered    int            `json:"delivered"`
	Skipped      int            `json:"skipped"`
	Errored      int            `json:"errored"`
	Record       *engine.Record `json:"record,omitempty"` // debug only
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := req.toNotification()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(n.Message) == "" && !messageDefaulted(s.coord.Catalog(), n) {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	rec := s.coord.Send(r.Context(), n)

	resp := notifyResponse{
		ID:           rec.ID,
		Suppressed:   rec.Suppressed,
		SuppressedBy: rec.SuppressedBy,
		Selected:     rec.Selected,
		Delivered:    rec.Delivered,
		Skipped:      rec.Skipped,
		Errored:      rec.Errored,
	}
	if n.Debug {
		resp.Record = rec
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSuppress accepts the command-string form, e.g.
// {"command": "snooze recipient:alice channel:email 3600"}.
func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd, err := engine.ParseSnoozeCommand(req.Command)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n := s.coord.Snoozes().Apply(cmd, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"verb":    cmd.Verb,
		"applied": n,
	})
}

func (s *Server) handleSuppressions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"suppressions": s.coord.Snoozes().Active(time.Now()),
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	type channelInfo struct {
		Name    string `json:"name"`
		Kind    string `json:"kind"`
		Enabled bool   `json:"enabled"`
		Default bool   `json:"default,omitempty"`
	}
	var channels []channelInfo
	for _, e := range s.coord.Catalog().Entries() {
		channels = append(channels, channelInfo{
			Name: e.Name, Kind: e.Kind, Enabled: e.Enabled, Default: e.Default,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels":  channels,
		"scenarios": s.coord.ScenarioDeliveries(),
	})
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	rec := s.coord.LastRecord()
	if rec == nil {
		writeError(w, http.StatusNotFound, "no notification processed yet")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleArchivePurge(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusConflict, "storage disabled")
		return
	}
	var req struct {
		// Retention is a Go duration string; records older than now-retention
		// are dropped. Defaults to 720h.
		Retention string `json:"retention,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil && err != errEmptyBody {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	retention := 720 * time.Hour
	if req.Retention != "" {
		d, err := time.ParseDuration(req.Retention)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid retention")
			return
		}
		retention = d
	}
	n, err := s.store.PurgeRecords(r.Context(), time.Now().Add(-retention))
	if err != nil {
		s.log.Warn("archive purge failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": n})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusConflict, "storage disabled")
		return
	}
	recipient := mux.Vars(r)["recipient"]
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	items, err := s.store.ListInbox(r.Context(), recipient, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "inbox read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusConflict, "presence tracking disabled")
		return
	}
	entity := mux.Vars(r)["entity"]
	var req struct {
		State string `json:"state"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.State == "" {
		writeError(w, http.StatusBadRequest, "state is required")
		return
	}
	changed := s.tracker.Set(entity, req.State)
	writeJSON(w, http.StatusOK, map[string]any{"entity": entity, "changed": changed})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusConflict, "presence tracking disabled")
		return
	}
	entity := mux.Vars(r)["entity"]
	state, ok := s.tracker.Get(entity)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": entity, "state": state})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
