package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestRecordInvocation(t *testing.T) {
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{
				expect: regexp.MustCompile("INSERT INTO tool_invocations"),
				args:   []any{"calendar", "create_event", "u1.ics", "ok", int64(120), "req-1"},
			},
		},
	}

	s := New(pool)
	err := s.RecordInvocation(context.Background(), Invocation{
		Tool:      "calendar",
		Operation: "create_event",
		Target:    "u1.ics",
		Status:    "ok",
		Duration:  120 * time.Millisecond,
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("RecordInvocation: %v", err)
	}
	pool.assertDone()
}

func TestRecentInvocations(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pool := &mockPool{
		t: t,
		rows: &mockRows{data: [][]any{
			{int64(2), "files", "write_file", "a.txt", "ok", int64(30), "req-2", created},
			{int64(1), "contacts", "search", "", "error", int64(5), "req-1", created.Add(-time.Minute)},
		}},
	}

	s := New(pool)
	out, err := s.RecentInvocations(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentInvocations: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].Tool != "files" || out[0].Duration != 30*time.Millisecond {
		t.Errorf("first = %+v", out[0])
	}
	if out[1].Status != "error" {
		t.Errorf("second = %+v", out[1])
	}
}

func TestRecentInvocationsQueryError(t *testing.T) {
	pool := &mockPool{t: t, rowsErr: errors.New("boom")}
	if _, err := New(pool).RecentInvocations(context.Background(), 10); err == nil {
		t.Error("want query error surfaced")
	}
}

func TestPruneBefore(t *testing.T) {
	cutoff := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile("DELETE FROM tool_invocations"), args: []any{cutoff}},
		},
	}

	n, err := New(pool).PruneBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want command tag count", n)
	}
	pool.assertDone()
}

func TestHealthCheck(t *testing.T) {
	pool := &mockPool{t: t}
	if err := New(pool).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	pool = &mockPool{t: t, pingErr: errors.New("down")}
	if err := New(pool).HealthCheck(context.Background()); err == nil {
		t.Error("want ping error surfaced")
	}
}

// mockRows walks a fixed result set for RecentInvocations.
type mockRows struct {
	data [][]any
	idx  int
	err  error
}

func (m *mockRows) Close()                                       {}
func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) Next() bool                                   { return m.idx < len(m.data) }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

func (m *mockRows) Scan(dest ...any) error {
	row := m.data[m.idx]
	m.idx++
	for i, v := range row {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}
