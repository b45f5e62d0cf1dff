package health

import (
	"context"
	"errors"
	"testing"
)

// --- Mocks ---

type mockDBPinger struct {
	err error
}

func (m *mockDBPinger) Ping(_ context.Context) error { return m.err }

type mockSource struct {
	name string
	err  error
}

func (m *mockSource) Name() string                  { return m.name }
func (m *mockSource) Probe(_ context.Context) error { return m.err }

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(&mockDBPinger{}, &mockSource{name: "text"}, &mockSource{name: "image"})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	for _, name := range []string{"database", "source:text", "source:image"} {
		if r.Checks[name] != CheckOK {
			t.Errorf("expected %s %q, got %q", name, CheckOK, r.Checks[name])
		}
	}
}

func TestCheck_DBError(t *testing.T) {
	svc := New(&mockDBPinger{err: errors.New("conn refused")}, &mockSource{name: "text"})
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
	if r.Checks["database"] != CheckError {
		t.Errorf("expected database %q, got %q", CheckError, r.Checks["database"])
	}
	if r.Checks["source:text"] != CheckOK {
		t.Errorf("expected source:text %q, got %q", CheckOK, r.Checks["source:text"])
	}
}

func TestCheck_SourceError(t *testing.T) {
	svc := New(&mockDBPinger{},
		&mockSource{name: "text"},
		&mockSource{name: "image", err: errors.New("timeout")},
	)
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["source:image"] != CheckError {
		t.Errorf("expected source:image %q, got %q", CheckError, r.Checks["source:image"])
	}
	if r.Checks["source:text"] != CheckOK {
		t.Errorf("expected source:text %q, got %q", CheckOK, r.Checks["source:text"])
	}
}

func TestCheck_DBErrorWinsOverSourceError(t *testing.T) {
	svc := New(
		&mockDBPinger{err: errors.New("db down")},
		&mockSource{name: "text", err: errors.New("down")},
	)
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
}

func TestCheck_NoSources(t *testing.T) {
	svc := New(&mockDBPinger{})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if len(r.Checks) != 1 {
		t.Errorf("expected only the database check, got %v", r.Checks)
	}
}
