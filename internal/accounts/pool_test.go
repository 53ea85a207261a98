package accounts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/SWORDIntel/spectra/internal/store"
)

func testPool(t *testing.T, ids ...string) *Pool {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "spectra.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	p := &Pool{st: st}
	for _, id := range ids {
		p.members = append(p.members, &member{identifier: id})
		if err := st.UpsertAccount(context.Background(), store.Account{
			SessionID: id, APIID: 1, APIHash: "h", Phone: "+0", Status: store.AccountActive,
		}); err != nil {
			t.Fatalf("persist account: %v", err)
		}
	}
	return p
}

func selectIDs(t *testing.T, p *Pool, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for range n {
		h, err := p.Select(context.Background(), "")
		if err != nil {
			t.Fatalf("Select() error: %v", err)
		}
		out = append(out, h.Identifier)
		h.Release()
	}
	return out
}

func TestSelectRoundRobins(t *testing.T) {
	t.Parallel()

	p := testPool(t, "a", "b", "c")
	got := selectIDs(t, p, 6)
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestSelectPrefersRequestedAccount(t *testing.T) {
	t.Parallel()

	p := testPool(t, "a", "b")
	h, err := p.Select(context.Background(), "b")
	if err != nil {
		t.Fatalf("Select(b) error: %v", err)
	}
	defer h.Release()
	if h.Identifier != "b" {
		t.Fatalf("Select(b) = %s, want b", h.Identifier)
	}
}

func TestSelectSkipsCooldownAndBanned(t *testing.T) {
	t.Parallel()

	p := testPool(t, "a", "b", "c")
	p.ReportFloodWait(context.Background(), "a", time.Hour)
	p.Ban(context.Background(), "b", errors.New("deactivated"))

	got := selectIDs(t, p, 3)
	for _, id := range got {
		if id != "c" {
			t.Fatalf("Select() = %s, want only healthy account c", id)
		}
	}
}

func TestSelectFailsWhenAllUnhealthy(t *testing.T) {
	t.Parallel()

	p := testPool(t, "a")
	p.Ban(context.Background(), "a", errors.New("gone"))

	if _, err := p.Select(context.Background(), ""); !errors.Is(err, ErrNoAccountAvailable) {
		t.Fatalf("Select() error = %v, want ErrNoAccountAvailable", err)
	}
}

func TestCooldownExpires(t *testing.T) {
	t.Parallel()

	p := testPool(t, "a")
	p.ReportFloodWait(context.Background(), "a", 20*time.Millisecond)

	if _, err := p.Select(context.Background(), ""); !errors.Is(err, ErrNoAccountAvailable) {
		t.Fatalf("Select() during cooldown error = %v, want ErrNoAccountAvailable", err)
	}
	time.Sleep(40 * time.Millisecond)

	h, err := p.Select(context.Background(), "")
	if err != nil {
		t.Fatalf("Select() after cooldown error: %v", err)
	}
	h.Release()
}

func TestMembersReportsAvailability(t *testing.T) {
	t.Parallel()

	p := testPool(t, "a", "b")
	p.Ban(context.Background(), "b", errors.New("dead"))

	members := p.Members()
	if len(members) != 2 {
		t.Fatalf("len(Members()) = %d, want 2", len(members))
	}
	avail := map[string]bool{}
	for _, m := range members {
		avail[m.Identifier] = m.Available
	}
	if !avail["a"] || avail["b"] {
		t.Fatalf("availability = %v, want a available and b not", avail)
	}
}

func TestReleasePersistsUsage(t *testing.T) {
	t.Parallel()

	p := testPool(t, "a")
	h, err := p.Select(context.Background(), "")
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	h.Release()

	acc, err := p.st.GetAccount(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetAccount() error: %v", err)
	}
	if acc.UsageCount != 1 {
		t.Fatalf("UsageCount = %d, want 1", acc.UsageCount)
	}
}
