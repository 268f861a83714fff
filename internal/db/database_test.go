package db

import (
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "relay-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestDatabaseCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestWorkspaceOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	err := db.CreateWorkspace("proj-1", "Project One", "user-lead")
	if err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}

	ws, err := db.GetWorkspace("proj-1")
	if err != nil {
		t.Fatalf("Failed to get workspace: %v", err)
	}
	if ws == nil {
		t.Fatal("Workspace should exist")
	}
	if ws.ID != "proj-1" {
		t.Errorf("Expected workspace ID 'proj-1', got '%s'", ws.ID)
	}
	if ws.Name != "Project One" {
		t.Errorf("Expected workspace name 'Project One', got '%s'", ws.Name)
	}
	if ws.LeaderID != "user-lead" {
		t.Errorf("Expected leader 'user-lead', got '%s'", ws.LeaderID)
	}

	ws, err = db.GetWorkspace("non-existent")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ws != nil {
		t.Error("Non-existent workspace should return nil")
	}

	err = db.DeleteWorkspace("proj-1")
	if err != nil {
		t.Fatalf("Failed to delete workspace: %v", err)
	}

	ws, err = db.GetWorkspace("proj-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ws != nil {
		t.Error("Deleted workspace should not exist")
	}
}

func TestListWorkspaces(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 5; i++ {
		err := db.CreateWorkspace("ws-"+string(rune('a'+i)), "Workspace "+string(rune('A'+i)), "")
		if err != nil {
			t.Fatalf("Failed to create workspace: %v", err)
		}
	}

	workspaces, err := db.ListWorkspaces(10, 0)
	if err != nil {
		t.Fatalf("Failed to list workspaces: %v", err)
	}
	if len(workspaces) != 5 {
		t.Errorf("Expected 5 workspaces, got %d", len(workspaces))
	}

	workspaces, err = db.ListWorkspaces(2, 0)
	if err != nil {
		t.Fatalf("Failed to list workspaces: %v", err)
	}
	if len(workspaces) != 2 {
		t.Errorf("Expected 2 workspaces with limit, got %d", len(workspaces))
	}

	workspaces, err = db.ListWorkspaces(2, 3)
	if err != nil {
		t.Fatalf("Failed to list workspaces: %v", err)
	}
	if len(workspaces) != 2 {
		t.Errorf("Expected 2 workspaces with offset, got %d", len(workspaces))
	}
}

func TestCanModerate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateWorkspace("led", "Led", "alice"); err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}

	allowed, err := db.CanModerate("led", "alice")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !allowed {
		t.Error("Leader should be allowed to moderate")
	}

	allowed, err = db.CanModerate("led", "bob")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if allowed {
		t.Error("Non-leader should not be allowed to moderate")
	}

	// Unknown workspaces are ad-hoc rooms: anyone may toggle.
	allowed, err = db.CanModerate("unknown", "bob")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !allowed {
		t.Error("Ad-hoc workspace should allow any toggler")
	}
}

func TestSnapshotOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	snap, err := db.CreateSnapshot("snap-ws", "First save", "initial sketch",
		`[{"type":"rectangle"}]`, `{"zoom":1}`, "hash-1", "alice", false)
	if err != nil {
		t.Fatalf("Failed to create snapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("Snapshot should not be nil")
	}
	if snap.Elements != `[{"type":"rectangle"}]` {
		t.Errorf("Elements mismatch: %s", snap.Elements)
	}

	// Creating a snapshot for an unseen workspace creates the record.
	ws, err := db.GetWorkspace("snap-ws")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ws == nil {
		t.Fatal("Snapshot save should create the workspace record")
	}

	got, err := db.GetSnapshot(snap.ID)
	if err != nil {
		t.Fatalf("Failed to get snapshot: %v", err)
	}
	if got == nil || got.ContentHash != "hash-1" {
		t.Errorf("Snapshot lookup mismatch: %+v", got)
	}

	count, err := db.GetSnapshotCount("snap-ws")
	if err != nil {
		t.Fatalf("Failed to count snapshots: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 snapshot, got %d", count)
	}

	if err := db.DeleteSnapshot(snap.ID); err != nil {
		t.Fatalf("Failed to delete snapshot: %v", err)
	}
	got, err = db.GetSnapshot(snap.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != nil {
		t.Error("Deleted snapshot should not exist")
	}
}

func TestLatestSnapshot(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		_, err := db.CreateSnapshot("latest-ws", "Save "+string(rune('a'+i)), "",
			`[{"i":`+string(rune('0'+i))+`}]`, "", "hash-"+string(rune('a'+i)), "", true)
		if err != nil {
			t.Fatalf("Failed to create snapshot: %v", err)
		}
	}

	latest, err := db.GetLatestSnapshot("latest-ws")
	if err != nil {
		t.Fatalf("Failed to get latest snapshot: %v", err)
	}
	if latest == nil {
		t.Fatal("Latest snapshot should exist")
	}
	if latest.ContentHash != "hash-c" {
		t.Errorf("Expected latest hash 'hash-c', got '%s'", latest.ContentHash)
	}

	latest, err = db.GetLatestSnapshot("empty-ws")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if latest != nil {
		t.Error("Workspace without snapshots should return nil")
	}
}

func TestDeleteOldAutoSnapshots(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 10; i++ {
		_, err := db.CreateSnapshot("prune-ws", "Auto", "", "[{}]", "",
			"hash-"+string(rune('a'+i)), "", true)
		if err != nil {
			t.Fatalf("Failed to create snapshot: %v", err)
		}
	}
	if _, err := db.CreateSnapshot("prune-ws", "Manual", "", "[{}]", "", "hash-manual", "", false); err != nil {
		t.Fatalf("Failed to create manual snapshot: %v", err)
	}

	if err := db.DeleteOldAutoSnapshots("prune-ws", 3); err != nil {
		t.Fatalf("Failed to prune auto snapshots: %v", err)
	}

	count, err := db.GetSnapshotCount("prune-ws")
	if err != nil {
		t.Fatalf("Failed to count snapshots: %v", err)
	}
	// 3 kept auto saves plus the manual one.
	if count != 4 {
		t.Errorf("Expected 4 snapshots after pruning, got %d", count)
	}
}

func TestStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		if err := db.CreateWorkspace("stats-ws-"+string(rune('a'+i)), "", ""); err != nil {
			t.Fatalf("Failed to create workspace: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := db.CreateSnapshot("stats-ws-a", "Save", "", "[{}]", "",
			"hash-"+string(rune('a'+i)), "", false); err != nil {
			t.Fatalf("Failed to create snapshot: %v", err)
		}
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}

	if stats["workspace_count"].(int) != 3 {
		t.Errorf("Expected 3 workspaces, got %v", stats["workspace_count"])
	}
	if stats["snapshot_count"].(int) != 5 {
		t.Errorf("Expected 5 snapshots, got %v", stats["snapshot_count"])
	}
}
