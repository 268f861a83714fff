package db

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

// Workspace is the project metadata the relay consults for leadership.
// LeaderID is the user allowed to toggle the collaboration lock.
type Workspace struct {
	ID        string
	Name      string
	LeaderID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is a whiteboard state saved on explicit client request.
// Elements and ViewState are stored as the JSON the client sent.
type Snapshot struct {
	ID          int       `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Elements    string    `json:"elements"`
	ViewState   string    `json:"view_state"`
	ContentHash string    `json:"content_hash"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	IsAuto      bool      `json:"is_auto"` // Auto-saved vs manual
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		leader_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS board_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		elements TEXT NOT NULL,
		view_state TEXT DEFAULT '',
		content_hash TEXT NOT NULL,
		created_by TEXT DEFAULT '',
		is_auto BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_board_snapshots_workspace_id ON board_snapshots(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_board_snapshots_created_at ON board_snapshots(workspace_id, created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Workspace operations

func (d *Database) CreateWorkspace(id, name, leaderID string) error {
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO workspaces (id, name, leader_id) VALUES (?, ?, ?)",
		id, name, leaderID,
	)
	return err
}

func (d *Database) GetWorkspace(id string) (*Workspace, error) {
	row := d.db.QueryRow(
		"SELECT id, name, leader_id, created_at, updated_at FROM workspaces WHERE id = ?",
		id,
	)

	var ws Workspace
	err := row.Scan(&ws.ID, &ws.Name, &ws.LeaderID, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func (d *Database) ListWorkspaces(limit, offset int) ([]Workspace, error) {
	rows, err := d.db.Query(
		"SELECT id, name, leader_id, created_at, updated_at FROM workspaces ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.LeaderID, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

func (d *Database) UpdateWorkspaceTimestamp(id string) error {
	_, err := d.db.Exec(
		"UPDATE workspaces SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id,
	)
	return err
}

func (d *Database) DeleteWorkspace(id string) error {
	_, err := d.db.Exec("DELETE FROM workspaces WHERE id = ?", id)
	return err
}

// CanModerate reports whether userID may toggle the collaboration lock of
// a workspace. A workspace with no metadata record is ad-hoc: anyone may
// toggle it, matching the untracked-room behavior of the socket layer.
func (d *Database) CanModerate(workspaceID, userID string) (bool, error) {
	ws, err := d.GetWorkspace(workspaceID)
	if err != nil {
		return false, err
	}
	if ws == nil || ws.LeaderID == "" {
		return true, nil
	}
	return ws.LeaderID == userID, nil
}

// Snapshot operations

// CreateSnapshot saves a whiteboard snapshot for a workspace, creating
// the workspace record on the fly if none exists.
func (d *Database) CreateSnapshot(workspaceID, name, description, elements, viewState, contentHash, createdBy string, isAuto bool) (*Snapshot, error) {
	if err := d.CreateWorkspace(workspaceID, "", ""); err != nil {
		return nil, err
	}

	result, err := d.db.Exec(`
		INSERT INTO board_snapshots (workspace_id, name, description, elements, view_state, content_hash, created_by, is_auto)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, workspaceID, name, description, elements, viewState, contentHash, createdBy, isAuto)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := d.UpdateWorkspaceTimestamp(workspaceID); err != nil {
		return nil, err
	}

	return d.GetSnapshot(int(id))
}

// GetSnapshot retrieves a specific snapshot by ID
func (d *Database) GetSnapshot(id int) (*Snapshot, error) {
	row := d.db.QueryRow(`
		SELECT id, workspace_id, name, description, elements, view_state, content_hash, created_by, is_auto, created_at
		FROM board_snapshots WHERE id = ?
	`, id)

	var s Snapshot
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.Description, &s.Elements, &s.ViewState, &s.ContentHash, &s.CreatedBy, &s.IsAuto, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSnapshots returns all snapshots for a workspace, newest first
func (d *Database) ListSnapshots(workspaceID string, limit, offset int) ([]Snapshot, error) {
	rows, err := d.db.Query(`
		SELECT id, workspace_id, name, description, elements, view_state, content_hash, created_by, is_auto, created_at
		FROM board_snapshots
		WHERE workspace_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.Description, &s.Elements, &s.ViewState, &s.ContentHash, &s.CreatedBy, &s.IsAuto, &s.CreatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// GetSnapshotCount returns the number of snapshots for a workspace
func (d *Database) GetSnapshotCount(workspaceID string) (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM board_snapshots WHERE workspace_id = ?", workspaceID).Scan(&count)
	return count, err
}

// GetLatestSnapshot returns the most recent snapshot for a workspace
func (d *Database) GetLatestSnapshot(workspaceID string) (*Snapshot, error) {
	row := d.db.QueryRow(`
		SELECT id, workspace_id, name, description, elements, view_state, content_hash, created_by, is_auto, created_at
		FROM board_snapshots
		WHERE workspace_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, workspaceID)

	var s Snapshot
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.Description, &s.Elements, &s.ViewState, &s.ContentHash, &s.CreatedBy, &s.IsAuto, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSnapshot removes a snapshot by ID
func (d *Database) DeleteSnapshot(id int) error {
	_, err := d.db.Exec("DELETE FROM board_snapshots WHERE id = ?", id)
	return err
}

// DeleteOldAutoSnapshots removes old auto-saved snapshots, keeping the most recent N
func (d *Database) DeleteOldAutoSnapshots(workspaceID string, keepCount int) error {
	_, err := d.db.Exec(`
		DELETE FROM board_snapshots
		WHERE workspace_id = ? AND is_auto = TRUE AND id NOT IN (
			SELECT id FROM board_snapshots
			WHERE workspace_id = ? AND is_auto = TRUE
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`, workspaceID, workspaceID, keepCount)
	return err
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var workspaceCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM workspaces").Scan(&workspaceCount); err != nil {
		return nil, err
	}
	stats["workspace_count"] = workspaceCount

	var snapshotCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM board_snapshots").Scan(&snapshotCount); err != nil {
		return nil, err
	}
	stats["snapshot_count"] = snapshotCount

	return stats, nil
}
