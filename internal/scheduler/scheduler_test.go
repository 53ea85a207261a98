package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SWORDIntel/spectra/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "spectra.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStatePersistRoundTrip(t *testing.T) {
	t.Parallel()

	stateFile := filepath.Join(t.TempDir(), "scheduler.json")
	s := New(testStore(t), nil, nil, stateFile)

	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if err := s.persistState(7, at); err != nil {
		t.Fatalf("persistState() error: %v", err)
	}
	if err := s.persistState(8, at.Add(time.Hour)); err != nil {
		t.Fatalf("persistState() error: %v", err)
	}

	// Новый экземпляр читает с диска снапшот, записанный прежним.
	restarted := New(testStore(t), nil, nil, stateFile)
	got := restarted.loadState()
	if len(got.LastRun) != 2 {
		t.Fatalf("LastRun has %d entries, want 2", len(got.LastRun))
	}
	if !got.LastRun[7].Equal(at) {
		t.Fatalf("LastRun[7] = %v, want %v", got.LastRun[7], at)
	}
}

func TestLoadStateOnMissingFile(t *testing.T) {
	t.Parallel()

	s := New(testStore(t), nil, nil, filepath.Join(t.TempDir(), "absent.json"))
	got := s.loadState()
	if got.LastRun == nil || len(got.LastRun) != 0 {
		t.Fatalf("loadState() = %+v, want empty map", got)
	}
}

func TestGenericJobRunsShellCommand(t *testing.T) {
	t.Parallel()

	marker := filepath.Join(t.TempDir(), "ran.txt")
	s := New(testStore(t), nil, nil, "")

	entry := store.ScheduleEntry{
		ID:         1,
		Kind:       store.ScheduleGeneric,
		CronExpr:   "* * * * *",
		ParamsJSON: `{"command": "echo done > ` + marker + `"}`,
	}
	if err := s.dispatch(context.Background(), entry); err != nil {
		t.Fatalf("dispatch() error: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("marker file: %v", err)
	}
	if strings.TrimSpace(string(data)) != "done" {
		t.Fatalf("marker content = %q", data)
	}
}

func TestDispatchRejectsMalformedParams(t *testing.T) {
	t.Parallel()

	s := New(testStore(t), nil, nil, "")
	entry := store.ScheduleEntry{ID: 2, Kind: store.ScheduleChannelForward, ParamsJSON: `{broken`}
	if err := s.dispatch(context.Background(), entry); err == nil {
		t.Fatal("dispatch() should fail on malformed params")
	}
}

func TestDispatchRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	s := New(testStore(t), nil, nil, "")
	entry := store.ScheduleEntry{ID: 3, Kind: "teleport", ParamsJSON: `{}`}
	if err := s.dispatch(context.Background(), entry); err == nil {
		t.Fatal("dispatch() should fail on unknown kind")
	}
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	t.Parallel()

	marker := filepath.Join(t.TempDir(), "hits.txt")
	st := testStore(t)
	s := New(st, nil, nil, "")

	id, err := st.CreateSchedule(context.Background(), store.ScheduleEntry{
		Kind: store.ScheduleGeneric, CronExpr: "* * * * *",
		ParamsJSON: `{"command": "sleep 0.3; echo hit >> ` + marker + `"}`,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	entry := store.ScheduleEntry{ID: id, Kind: store.ScheduleGeneric, CronExpr: "* * * * *",
		ParamsJSON: `{"command": "sleep 0.3; echo hit >> ` + marker + `"}`}

	var wg sync.WaitGroup
	wg.Go(func() { s.runJob(context.Background(), entry) })
	time.Sleep(100 * time.Millisecond)
	// Задача ещё спит: повторный запуск обязан пропуститься.
	s.runJob(context.Background(), entry)
	wg.Wait()

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("marker file: %v", err)
	}
	if got := strings.Count(string(data), "hit"); got != 1 {
		t.Fatalf("command ran %d times, want exactly 1", got)
	}

	row, err := st.GetSchedule(context.Background(), id)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if row.LastRunAt == nil {
		t.Fatal("last_run_at should be stamped after a completed run")
	}
}
