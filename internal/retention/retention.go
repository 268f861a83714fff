package retention

import (
	"log"
	"sync"
	"time"

	"github.com/teamflow/relay/internal/db"
)

type Config struct {
	Interval          time.Duration
	KeepAutoSnapshots int
}

func DefaultConfig() Config {
	return Config{
		Interval:          10 * time.Minute,
		KeepAutoSnapshots: 20,
	}
}

// Service prunes old auto-saved board snapshots in the background so a
// long-running deployment with frequent auto-saves stays bounded. Manual
// snapshots are never touched.
type Service struct {
	database *db.Database
	config   Config
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(database *db.Database, config Config) *Service {
	return &Service{
		database: database,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("Retention service started (interval: %v, keep: %d auto-saves)",
		s.config.Interval, s.config.KeepAutoSnapshots)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("Retention service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.pruneAllWorkspaces()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.pruneAllWorkspaces()
		}
	}
}

const pruneBatchSize = 200

func (s *Service) pruneAllWorkspaces() {
	prunedCount := 0
	for offset := 0; ; offset += pruneBatchSize {
		workspaces, err := s.database.ListWorkspaces(pruneBatchSize, offset)
		if err != nil {
			log.Printf("Retention: failed to list workspaces: %v", err)
			return
		}
		if len(workspaces) == 0 {
			break
		}

		for _, ws := range workspaces {
			before, err := s.database.GetSnapshotCount(ws.ID)
			if err != nil {
				continue
			}
			if err := s.database.DeleteOldAutoSnapshots(ws.ID, s.config.KeepAutoSnapshots); err != nil {
				log.Printf("Retention: failed for workspace %s: %v", ws.ID, err)
				continue
			}
			after, err := s.database.GetSnapshotCount(ws.ID)
			if err == nil && after < before {
				prunedCount += before - after
			}
		}

		if len(workspaces) < pruneBatchSize {
			break
		}
	}

	if prunedCount > 0 {
		log.Printf("Retention: pruned %d auto-saved snapshots", prunedCount)
	}
}

// PruneNow runs one pruning pass for a single workspace.
func (s *Service) PruneNow(workspaceID string) error {
	return s.database.DeleteOldAutoSnapshots(workspaceID, s.config.KeepAutoSnapshots)
}
