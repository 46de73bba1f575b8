package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/aiida/internal/entity"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestUser inserts a user and returns its id.
func createTestUser(t *testing.T, s *Store, email string) int64 {
	t.Helper()
	ids, err := s.BulkInsert(context.Background(), entity.TypeUser, []entity.Row{{"email": email}}, true)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return ids[0]
}

// createTestNodes inserts n nodes of the given type owned by userID.
func createTestNodes(t *testing.T, s *Store, userID int64, nodeType string, n int) []int64 {
	t.Helper()
	rows := make([]entity.Row, n)
	for i := range rows {
		rows[i] = entity.Row{
			"uuid":      fmt.Sprintf("%s-%d-%d", nodeType, userID, i),
			"node_type": nodeType,
			"ctime":     testTime,
			"mtime":     testTime,
			"user_id":   userID,
		}
	}
	ids, err := s.BulkInsert(context.Background(), entity.TypeNode, rows, true)
	if err != nil {
		t.Fatalf("insert nodes: %v", err)
	}
	return ids
}
