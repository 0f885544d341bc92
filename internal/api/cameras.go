package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lens-logic-core/internal/camera"
	"github.com/nerrad567/lens-logic-core/internal/confstore"
)

// cameraView is a camera record enriched with live fleet state.
type cameraView struct {
	confstore.Camera
	Live     bool   `json:"live"`
	State    string `json:"state,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// view merges a record with the engine's view of the identity.
func (s *Server) view(cam confstore.Camera) cameraView {
	v := cameraView{Camera: cam}
	if _, live := s.engine.Device(cam.ID); live {
		v.Live = true
	}
	if st, ok := s.engine.Status(cam.ID); ok {
		v.State = st.State
		v.Reason = st.Reason
		v.Attempts = st.Attempts
	}
	return v
}

// handleListCameras returns all camera records with their fleet state.
func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	cams, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("listing cameras failed", "error", err)
		writeInternalError(w, "failed to list cameras")
		return
	}

	views := make([]cameraView, 0, len(cams))
	for _, cam := range cams {
		views = append(views, s.view(cam))
	}
	writeJSON(w, http.StatusOK, map[string]any{"cameras": views})
}

// createCameraRequest is the request body for POST /cameras.
type createCameraRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Index    int    `json:"index"`
}

// handleCreateCamera creates a camera record without opening a session.
func (s *Server) handleCreateCamera(w http.ResponseWriter, r *http.Request) {
	var req createCameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Host == "" {
		writeBadRequest(w, "host is required")
		return
	}
	if req.ID == "" {
		if req.Model == "" || req.Serial == "" {
			writeBadRequest(w, "either id or model and serial are required")
			return
		}
		req.ID = confstore.Identity(req.Model, req.Serial)
	}
	if req.Port == 0 {
		req.Port = 80
	}

	cam := confstore.Camera{
		ID:       req.ID,
		Name:     req.Name,
		Model:    req.Model,
		Serial:   req.Serial,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Index:    req.Index,
	}
	if err := s.store.Create(r.Context(), &cam); err != nil {
		if errors.Is(err, confstore.ErrDuplicateID) {
			writeConflict(w, "camera already exists: "+cam.ID)
			return
		}
		s.logger.Error("creating camera failed", "identity", cam.ID, "error", err)
		writeInternalError(w, "failed to create camera")
		return
	}

	writeJSON(w, http.StatusCreated, s.view(cam))
}

// handleGetCamera returns one camera record with its fleet state.
func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cam, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, confstore.ErrNotFound) {
			writeNotFound(w, "camera not found: "+id)
			return
		}
		writeInternalError(w, "failed to load camera")
		return
	}

	writeJSON(w, http.StatusOK, s.view(*cam))
}

// updateCameraRequest is the request body for PATCH /cameras/{id}.
// Nil fields are left unchanged.
type updateCameraRequest struct {
	Name     *string `json:"name"`
	Host     *string `json:"host"`
	Port     *int    `json:"port"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	Index    *int    `json:"index"`
}

// handleUpdateCamera updates a camera record. A live session is not
// affected; changes take effect on the next connect.
func (s *Server) handleUpdateCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateCameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cam, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, confstore.ErrNotFound) {
			writeNotFound(w, "camera not found: "+id)
			return
		}
		writeInternalError(w, "failed to load camera")
		return
	}

	if req.Name != nil {
		cam.Name = *req.Name
	}
	if req.Host != nil {
		cam.Host = *req.Host
	}
	if req.Port != nil {
		cam.Port = *req.Port
	}
	if req.Username != nil {
		cam.Username = *req.Username
	}
	if req.Password != nil {
		cam.Password = *req.Password
	}
	if req.Index != nil {
		cam.Index = *req.Index
	}

	if err := s.store.Update(r.Context(), cam); err != nil {
		s.logger.Error("updating camera failed", "identity", id, "error", err)
		writeInternalError(w, "failed to update camera")
		return
	}

	writeJSON(w, http.StatusOK, s.view(*cam))
}

// handleDeleteCamera closes any live session and removes the record.
func (s *Server) handleDeleteCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, live := s.engine.Device(id); live {
		if err := s.engine.RemoveDevice(r.Context(), id); err != nil {
			s.logger.Warn("closing session before delete failed", "identity", id, "error", err)
		}
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, confstore.ErrNotFound) {
			writeNotFound(w, "camera not found: "+id)
			return
		}
		writeInternalError(w, "failed to delete camera")
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// handleCameraState returns the camera's parameter group values. Live
// cameras report current poll state; disconnected ones fall back to the
// last persisted snapshot.
func (s *Server) handleCameraState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if dev, live := s.engine.Device(id); live {
		state := make(map[string]any)
		for name, g := range dev.Groups() {
			state[name] = g.Values()
		}
		writeJSON(w, http.StatusOK, map[string]any{"live": true, "state": state})
		return
	}

	snapshot, err := s.store.GetSnapshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, confstore.ErrNotFound) {
			writeNotFound(w, "no state for camera: "+id)
			return
		}
		writeInternalError(w, "failed to load camera state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"live": false, "state": snapshot})
}

// handleConnectCamera opens a session for a configured camera.
func (s *Server) handleConnectCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cam, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, confstore.ErrNotFound) {
			writeNotFound(w, "camera not found: "+id)
			return
		}
		writeInternalError(w, "failed to load camera")
		return
	}

	if err := s.engine.AddDeviceFromConf(r.Context(), *cam); err != nil {
		switch {
		case errors.Is(err, camera.ErrAuthFailed):
			writeError(w, http.StatusBadGateway, ErrCodeUpstream,
				"camera rejected credentials")
		case errors.Is(err, camera.ErrNetwork):
			writeError(w, http.StatusBadGateway, ErrCodeUpstream,
				"camera unreachable; reconnection scheduled")
		default:
			writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, s.view(*cam))
}

// handleDisconnectCamera closes a live session at the operator's request.
func (s *Server) handleDisconnectCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.engine.RemoveDevice(r.Context(), id); err != nil {
		writeNotFound(w, "no live session for camera: "+id)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"disconnected": id})
}

// commandRequest is the request body for POST /cameras/{id}/command.
type commandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// handleCameraCommand queues an arbitrary protocol command on a live
// camera. The command is sent by the poll loop; 202 means queued, not
// delivered.
func (s *Server) handleCameraCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	dev, live := s.engine.Device(id)
	if !live {
		writeNotFound(w, "no live session for camera: "+id)
		return
	}

	if err := dev.QueueRequest(req.Command, req.Params); err != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict,
			"command queue closed for camera: "+id)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"queued": req.Command})
}

// tallyRequest is the request body for PUT /cameras/{id}/tally.
type tallyRequest struct {
	Tally string `json:"tally"`
}

// handleSetTally sets the studio tally light on a live camera.
func (s *Server) handleSetTally(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req tallyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Tally == "" {
		writeBadRequest(w, "tally is required")
		return
	}

	dev, live := s.engine.Device(id)
	if !live {
		writeNotFound(w, "no live session for camera: "+id)
		return
	}

	tally, ok := dev.Group(camera.GroupTally).(*camera.TallyGroup)
	if !ok {
		writeInternalError(w, "camera has no tally group")
		return
	}
	if err := tally.SetTally(req.Tally); err != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict,
			"command queue closed for camera: "+id)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"tally": req.Tally})
}
