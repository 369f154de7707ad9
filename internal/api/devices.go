package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-roku/internal/bridges/roku"
)

// handleListDevices returns the current state of every set-up device.
//
// Query parameters:
//   - available: "true" or "false" to filter by last poll outcome
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("available")
	if filter != "" && filter != "true" && filter != "false" {
		writeBadRequest(w, "available must be true or false")
		return
	}

	entries := s.devices.Entries()
	devices := make([]roku.StateMessage, 0, len(entries))
	for _, e := range entries {
		msg := roku.NewStateMessage(e)
		if filter != "" && (filter == "true") != msg.MediaPlayer.Available {
			continue
		}
		devices = append(devices, msg)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device's state by serial number.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, ok := s.devices.State(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	Command    string         `json:"command"`
	Entity     string         `json:"entity,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleCommand dispatches a command through the same path as MQTT commands.
// Device failures do not fail the request: the command is accepted once
// dispatched and the outcome shows up in the next state.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "command is required")
		return
	}

	err := s.devices.Execute(r.Context(), id, roku.Command{
		Name:       req.Command,
		Entity:     req.Entity,
		Parameters: req.Parameters,
	})
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"command_id": uuid.NewString(),
		"status":     roku.AckAccepted,
		"device_id":  id,
		"command":    req.Command,
	})
}
