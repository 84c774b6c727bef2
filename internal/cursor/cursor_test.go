package cursor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/zulandar/sociobot/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Each connection to :memory: is a separate database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Cursor{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// stores runs fn against each Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("file", func(t *testing.T) { fn(t, NewFileStore(t.TempDir())) })
	t.Run("db", func(t *testing.T) { fn(t, NewDBStore(testDB(t))) })
}

func TestStore_GetMissing(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		id, ok, err := s.Get(context.Background(), "alice", "c1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok || id != "" {
			t.Errorf("Get = %q, %v; want empty, false", id, ok)
		}
	})
}

func TestStore_Monotonic(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		steps := []struct {
			set  string
			want string
		}{
			{"100", "100"},
			{"250", "250"},
			{"200", "250"}, // older id ignored
			{"250", "250"},
			{"99", "250"}, // shorter id is numerically smaller
			{"1000", "1000"},
		}
		for _, st := range steps {
			if err := s.Set(ctx, "alice", "c1", st.set); err != nil {
				t.Fatalf("Set(%s): %v", st.set, err)
			}
			got, ok, err := s.Get(ctx, "alice", "c1")
			if err != nil || !ok {
				t.Fatalf("Get after Set(%s) = %q, %v, %v", st.set, got, ok, err)
			}
			if got != st.want {
				t.Errorf("after Set(%s): cursor = %q, want %q", st.set, got, st.want)
			}
		}
	})
}

func TestStore_EmptyIDRejected(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		if err := s.Set(context.Background(), "alice", "c1", ""); err == nil {
			t.Error("expected error for empty id")
		}
	})
}

func TestStore_AllIsPerAgent(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Set(ctx, "alice", "c1", "10")
		s.Set(ctx, "alice", "c2", "20")
		s.Set(ctx, "bob", "c1", "30")

		all, err := s.All(ctx, "alice")
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		if len(all) != 2 || all["c1"] != "10" || all["c2"] != "20" {
			t.Errorf("All(alice) = %v", all)
		}
	})
}

func TestStore_ConcurrentSetsKeepMax(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				if err := s.Set(ctx, "alice", "c1", fmt.Sprintf("%d", 1000+n)); err != nil {
					t.Errorf("Set: %v", err)
				}
			}(i)
		}
		wg.Wait()
		got, _, _ := s.Get(ctx, "alice", "c1")
		if got != "1020" {
			t.Errorf("cursor = %q, want 1020", got)
		}
	})
}

func TestFileStore_Format(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	if err := s.Set(context.Background(), "alice", "c1", "5"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	path := filepath.Join(dir, "last_processed_messages_alice.json")
	if s.Path("alice") != path {
		t.Errorf("Path = %q, want %q", s.Path("alice"), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := "{\n  \"c1\": \"5\"\n}"; string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStore_CorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	if err := os.WriteFile(s.Path("alice"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.Get(context.Background(), "alice", "c1")
	if err != nil || ok {
		t.Fatalf("Get on corrupt file = %v, %v; want not found, nil", ok, err)
	}
	if err := s.Set(context.Background(), "alice", "c1", "7"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var m map[string]string
	data, _ := os.ReadFile(s.Path("alice"))
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("file still corrupt after Set: %v", err)
	}
	if m["c1"] != "7" {
		t.Errorf("c1 = %q, want 7", m["c1"])
	}
}

func TestFileStore_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "persistence")
	s := NewFileStore(dir)
	if err := s.Set(context.Background(), "alice", "c1", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(s.Path("alice")); err != nil {
		t.Errorf("cursor file not created: %v", err)
	}
}
