package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"lectern/internal/stage"
)

// StageCounts returns the number of stage rows per stage and status.
func (s *Store) StageCounts(ctx context.Context) (map[stage.Name]map[stage.Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT stage, status, COUNT(1) FROM lecture_stages GROUP BY stage, status`)
	if err != nil {
		return nil, fmt.Errorf("stage counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[stage.Name]map[stage.Status]int)
	for rows.Next() {
		var (
			name   stage.Name
			status stage.Status
			count  int
		)
		if err := rows.Scan(&name, &status, &count); err != nil {
			return nil, err
		}
		if counts[name] == nil {
			counts[name] = make(map[stage.Status]int)
		}
		counts[name][status] = count
	}
	return counts, rows.Err()
}

// DatabaseSize returns the bytes used by the database file and its WAL.
func (s *Store) DatabaseSize() int64 {
	if s == nil || s.path == "" {
		return 0
	}
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if info, err := os.Stat(s.path + suffix); err == nil {
			total += info.Size()
		}
	}
	return total
}

// Ping verifies the database connection answers within a short deadline.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("lecture database connection unavailable")
	}
	pingCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping lecture database: %w", err)
	}
	return nil
}
