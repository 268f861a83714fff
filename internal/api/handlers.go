package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teamflow/relay/internal/db"
	"github.com/teamflow/relay/internal/relay"
)

type API struct {
	hub      *relay.Hub
	database *db.Database
}

func New(hub *relay.Hub, database *db.Database) *API {
	return &API{
		hub:      hub,
		database: database,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_workspaces"] = dbStats["workspace_count"]
			stats["total_snapshots"] = dbStats["snapshot_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Workspace handlers

type WorkspaceResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name,omitempty"`
	LeaderID          string    `json:"leader_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	ActiveUsers       int       `json:"active_users"`
	CollaborationOpen bool      `json:"collaboration_open"`
	SnapshotCount     int       `json:"snapshot_count,omitempty"`
}

type CreateWorkspaceRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	LeaderID string `json:"leader_id,omitempty"`
}

func (a *API) ListWorkspacesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	workspaces, err := a.database.ListWorkspaces(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list workspaces")
		return
	}

	activeRooms := a.hub.GetActiveRooms()

	response := make([]WorkspaceResponse, len(workspaces))
	for i, ws := range workspaces {
		_, open, _ := a.hub.GetRoomState(ws.ID)
		response[i] = WorkspaceResponse{
			ID:                ws.ID,
			Name:              ws.Name,
			LeaderID:          ws.LeaderID,
			CreatedAt:         ws.CreatedAt,
			UpdatedAt:         ws.UpdatedAt,
			ActiveUsers:       activeRooms[ws.ID],
			CollaborationOpen: open,
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"workspaces": response,
		"limit":      limit,
		"offset":     offset,
	})
}

func (a *API) CreateWorkspaceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ID == "" {
		errorResponse(w, http.StatusBadRequest, "Workspace ID is required")
		return
	}

	if err := a.database.CreateWorkspace(req.ID, req.Name, req.LeaderID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create workspace")
		return
	}

	ws, err := a.database.GetWorkspace(req.ID)
	if err != nil || ws == nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get workspace")
		return
	}

	jsonResponse(w, http.StatusCreated, WorkspaceResponse{
		ID:        ws.ID,
		Name:      ws.Name,
		LeaderID:  ws.LeaderID,
		CreatedAt: ws.CreatedAt,
		UpdatedAt: ws.UpdatedAt,
	})
}

func (a *API) GetWorkspaceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Extract workspace ID from path: /api/workspaces/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/workspaces/")
	workspaceID := strings.TrimSuffix(path, "/")

	if workspaceID == "" {
		errorResponse(w, http.StatusBadRequest, "Workspace ID is required")
		return
	}

	ws, err := a.database.GetWorkspace(workspaceID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get workspace")
		return
	}

	if ws == nil {
		errorResponse(w, http.StatusNotFound, "Workspace not found")
		return
	}

	snapshotCount, _ := a.database.GetSnapshotCount(workspaceID)
	count, open, _ := a.hub.GetRoomState(workspaceID)

	jsonResponse(w, http.StatusOK, WorkspaceResponse{
		ID:                ws.ID,
		Name:              ws.Name,
		LeaderID:          ws.LeaderID,
		CreatedAt:         ws.CreatedAt,
		UpdatedAt:         ws.UpdatedAt,
		ActiveUsers:       count,
		CollaborationOpen: open,
		SnapshotCount:     snapshotCount,
	})
}

func (a *API) DeleteWorkspaceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/workspaces/")
	workspaceID := strings.TrimSuffix(path, "/")

	if workspaceID == "" {
		errorResponse(w, http.StatusBadRequest, "Workspace ID is required")
		return
	}

	if err := a.database.DeleteWorkspace(workspaceID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete workspace")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Workspace deleted"})
}

func (a *API) WorkspacesRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/workspaces")

	// /api/workspaces or /api/workspaces/
	if path == "" || path == "/" {
		switch r.Method {
		case http.MethodGet:
			a.ListWorkspacesHandler(w, r)
		case http.MethodPost:
			a.CreateWorkspaceHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/workspaces/{id}
	switch r.Method {
	case http.MethodGet:
		a.GetWorkspaceHandler(w, r)
	case http.MethodDelete:
		a.DeleteWorkspaceHandler(w, r)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Snapshot handlers

type CreateSnapshotRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Elements    json.RawMessage `json:"elements"`
	ViewState   json.RawMessage `json:"view_state"`
	CreatedBy   string          `json:"created_by"`
	IsAuto      bool            `json:"is_auto"`
}

type SnapshotResponse struct {
	ID          int             `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Elements    json.RawMessage `json:"elements,omitempty"` // Omit in list view
	ViewState   json.RawMessage `json:"view_state,omitempty"`
	ContentHash string          `json:"content_hash"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	IsAuto      bool            `json:"is_auto"`
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:8])
}

func snapshotResponse(s *db.Snapshot, includeContent bool) SnapshotResponse {
	resp := SnapshotResponse{
		ID:          s.ID,
		WorkspaceID: s.WorkspaceID,
		Name:        s.Name,
		Description: s.Description,
		ContentHash: s.ContentHash,
		CreatedBy:   s.CreatedBy,
		CreatedAt:   s.CreatedAt,
		IsAuto:      s.IsAuto,
	}
	if includeContent {
		resp.Elements = json.RawMessage(s.Elements)
		if s.ViewState != "" {
			resp.ViewState = json.RawMessage(s.ViewState)
		}
	}
	return resp
}

// ListSnapshotsHandler returns all snapshots for a workspace
func (a *API) ListSnapshotsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		errorResponse(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	snapshots, err := a.database.ListSnapshots(workspaceID, limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list snapshots")
		return
	}

	response := make([]SnapshotResponse, len(snapshots))
	for i, s := range snapshots {
		response[i] = snapshotResponse(&s, false)
	}

	total, _ := a.database.GetSnapshotCount(workspaceID)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"snapshots": response,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

// CreateSnapshotHandler persists the canvas state the client sent. This
// is the explicit save path; the relay itself never stores payloads.
func (a *API) CreateSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req CreateSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.WorkspaceID == "" {
		errorResponse(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	if len(req.Elements) == 0 {
		errorResponse(w, http.StatusBadRequest, "elements is required")
		return
	}

	// Generate name if not provided
	if req.Name == "" {
		if req.IsAuto {
			req.Name = fmt.Sprintf("Auto-save %s", time.Now().Format("Jan 2, 3:04 PM"))
		} else {
			req.Name = fmt.Sprintf("Snapshot %s", time.Now().Format("Jan 2, 3:04 PM"))
		}
	}

	contentHash := hashContent(string(req.Elements))

	// Skip duplicate auto-saves (same content hash as latest)
	latest, err := a.database.GetLatestSnapshot(req.WorkspaceID)
	if err == nil && latest != nil && latest.ContentHash == contentHash && req.IsAuto {
		jsonResponse(w, http.StatusOK, snapshotResponse(latest, false))
		return
	}

	snapshot, err := a.database.CreateSnapshot(
		req.WorkspaceID, req.Name, req.Description,
		string(req.Elements), string(req.ViewState),
		contentHash, req.CreatedBy, req.IsAuto,
	)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create snapshot")
		return
	}

	jsonResponse(w, http.StatusCreated, snapshotResponse(snapshot, false))
}

// GetSnapshotHandler retrieves a specific snapshot with full content
func (a *API) GetSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Extract snapshot ID from path: /api/snapshots/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/snapshots/")
	snapshotID, err := strconv.Atoi(strings.TrimSuffix(path, "/"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid snapshot ID")
		return
	}

	snapshot, err := a.database.GetSnapshot(snapshotID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get snapshot")
		return
	}

	if snapshot == nil {
		errorResponse(w, http.StatusNotFound, "Snapshot not found")
		return
	}

	jsonResponse(w, http.StatusOK, snapshotResponse(snapshot, true))
}

// DeleteSnapshotHandler removes a snapshot
func (a *API) DeleteSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/snapshots/")
	snapshotID, err := strconv.Atoi(strings.TrimSuffix(path, "/"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid snapshot ID")
		return
	}

	if err := a.database.DeleteSnapshot(snapshotID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete snapshot")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Snapshot deleted"})
}

// RestoreSnapshotHandler re-saves an old snapshot as the newest one. The
// client then fetches it and broadcasts the restored canvas itself.
func (a *API) RestoreSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Extract snapshot ID from path: /api/snapshots/{id}/restore
	path := strings.TrimPrefix(r.URL.Path, "/api/snapshots/")
	path = strings.TrimSuffix(path, "/restore")
	snapshotID, err := strconv.Atoi(path)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid snapshot ID")
		return
	}

	snapshot, err := a.database.GetSnapshot(snapshotID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get snapshot")
		return
	}

	if snapshot == nil {
		errorResponse(w, http.StatusNotFound, "Snapshot not found")
		return
	}

	restoreName := fmt.Sprintf("Restored from: %s", snapshot.Name)
	newSnapshot, err := a.database.CreateSnapshot(
		snapshot.WorkspaceID,
		restoreName,
		fmt.Sprintf("Restored to snapshot %d (%s)", snapshot.ID, snapshot.Name),
		snapshot.Elements,
		snapshot.ViewState,
		snapshot.ContentHash,
		"", // No specific creator for restore
		false,
	)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create restore snapshot")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"message":       "Snapshot restored",
		"restored_from": snapshot.ID,
		"new_snapshot":  newSnapshot.ID,
		"workspace_id":  snapshot.WorkspaceID,
		"elements":      json.RawMessage(snapshot.Elements),
	})
}

func (a *API) SnapshotsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/snapshots")

	// /api/snapshots or /api/snapshots/
	if path == "" || path == "/" {
		switch r.Method {
		case http.MethodGet:
			a.ListSnapshotsHandler(w, r)
		case http.MethodPost:
			a.CreateSnapshotHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/snapshots/{id}/restore
	if strings.HasSuffix(path, "/restore") {
		a.RestoreSnapshotHandler(w, r)
		return
	}

	// /api/snapshots/{id}
	switch r.Method {
	case http.MethodGet:
		a.GetSnapshotHandler(w, r)
	case http.MethodDelete:
		a.DeleteSnapshotHandler(w, r)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
