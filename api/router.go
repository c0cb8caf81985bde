package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"s7link/engine"
)

// PLCResponse is the JSON response for one PLC's connection status.
type PLCResponse struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
	LastPoll  string `json:"last_poll,omitempty"`
}

// TagResponse is the JSON response for one tag's current value.
type TagResponse struct {
	Name      string      `json:"name"`
	Value     interface{} `json:"value,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// WriteRequest is the JSON body of a tag write request.
type WriteRequest struct {
	Value interface{} `json:"value"`
}

// WriteResponse is the JSON response after dispatching a tag write.
type WriteResponse struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type handlers struct {
	manager *engine.Manager
}

// NewRouter builds the chi router exposing PLC status, tag reads, and tag
// writes for tags configured as Writable.
func NewRouter(manager *engine.Manager) chi.Router {
	h := &handlers{manager: manager}

	r := chi.NewRouter()
	r.Get("/plcs", h.listPLCs)
	r.Get("/plcs/{name}", h.getPLC)
	r.Get("/plcs/{name}/tags", h.listTags)
	r.Post("/plcs/{name}/tags/{tag}", h.writeTag)
	return r
}

func plcResponse(s engine.PLCStatus) PLCResponse {
	resp := PLCResponse{Name: s.Name, Address: s.Address}
	if s.Connected {
		resp.Status = "connected"
	} else {
		resp.Status = "disconnected"
	}
	if s.LastError != nil {
		resp.LastError = s.LastError.Error()
	}
	if !s.LastPoll.IsZero() {
		resp.LastPoll = s.LastPoll.Format(time.RFC3339)
	}
	return resp
}

func (h *handlers) listPLCs(w http.ResponseWriter, r *http.Request) {
	snap := h.manager.Snapshot()
	out := make([]PLCResponse, 0, len(snap))
	for _, s := range snap {
		out = append(out, plcResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getPLC(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, ok := h.manager.PLC(name)
	if !ok {
		writeError(w, http.StatusNotFound, "PLC not found")
		return
	}
	writeJSON(w, http.StatusOK, plcResponse(status))
}

func (h *handlers) listTags(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, ok := h.manager.PLC(name)
	if !ok {
		writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	hidden := make(map[string]bool)
	if plcCfg := h.manager.Config().FindPLC(name); plcCfg != nil {
		for _, sel := range plcCfg.Tags {
			if sel.NoREST {
				hidden[sel.Name] = true
			}
		}
	}

	out := make([]TagResponse, 0, len(status.Tags))
	for _, t := range status.Tags {
		if hidden[t.Name] {
			continue
		}
		resp := TagResponse{Name: t.Name, Value: t.Value}
		if t.Error != nil {
			resp.Error = t.Error.Error()
		}
		if !t.Timestamp.IsZero() {
			resp.Timestamp = t.Timestamp.Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) writeTag(w http.ResponseWriter, r *http.Request) {
	plcName := chi.URLParam(r, "name")
	tagName := chi.URLParam(r, "tag")

	plcCfg := h.manager.Config().FindPLC(plcName)
	if plcCfg == nil {
		writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	var writable bool
	for _, sel := range plcCfg.Tags {
		if sel.Name == tagName {
			writable = sel.Writable
			break
		}
	}
	if !writable {
		writeError(w, http.StatusForbidden, "tag is not writable")
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	drv := h.manager.Driver(plcName)
	if drv == nil || !drv.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, WriteResponse{Name: tagName, Success: false, Error: "PLC not connected"})
		return
	}

	if err := drv.Write(tagName, req.Value); err != nil {
		writeJSON(w, http.StatusOK, WriteResponse{Name: tagName, Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, WriteResponse{Name: tagName, Success: true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
