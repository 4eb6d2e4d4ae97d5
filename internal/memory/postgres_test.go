package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------- fake pgx connection ----------

type fakeRow struct {
	sessionID string
	turnID    string
	payload   []byte
}

type fakeConn struct {
	rows          []fakeRow
	schemaEnsured bool
	execErr       error
}

func (f *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	switch {
	case strings.Contains(sql, "CREATE TABLE"):
		f.schemaEnsured = true

	case strings.Contains(sql, "INSERT"):
		payload, ok := args[2].([]byte)
		if !ok {
			return pgconn.CommandTag{}, fmt.Errorf("unexpected payload type %T", args[2])
		}
		f.rows = append(f.rows, fakeRow{
			sessionID: args[0].(string),
			turnID:    args[1].(string),
			payload:   payload,
		})

	case strings.Contains(sql, "AND turn_id"):
		session, turn := args[0].(string), args[1].(string)
		kept := f.rows[:0]
		for _, r := range f.rows {
			if r.sessionID != session || r.turnID != turn {
				kept = append(kept, r)
			}
		}
		f.rows = kept

	case strings.Contains(sql, "DELETE"):
		session := args[0].(string)
		kept := f.rows[:0]
		for _, r := range f.rows {
			if r.sessionID != session {
				kept = append(kept, r)
			}
		}
		f.rows = kept

	default:
		return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", sql)
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeConn) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if !strings.Contains(sql, "SELECT") {
		return nil, fmt.Errorf("unexpected query: %s", sql)
	}
	session := args[0].(string)
	var matched []fakeRow
	for _, r := range f.rows {
		if r.sessionID == session {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].turnID < matched[j].turnID })
	return &fakeRows{rows: matched, idx: -1}, nil
}

type fakeRows struct {
	rows []fakeRow
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	p, ok := dest[0].(*[]byte)
	if !ok {
		return fmt.Errorf("unexpected scan target %T", dest[0])
	}
	*p = r.rows[r.idx].payload
	return nil
}

// ---------- tests ----------

func TestPostgresEnsureSchema(t *testing.T) {
	conn := &fakeConn{}
	store := NewPostgresStore(conn, 50)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if !conn.schemaEnsured {
		t.Error("EnsureSchema did not create the table")
	}
}

func TestPostgresAppendReadRoundTrip(t *testing.T) {
	conn := &fakeConn{}
	store := NewPostgresStore(conn, 50)
	ctx := context.Background()

	user := UserTurn("what does this repo do")
	call := ToolCall{ID: "c1", Name: "get_file_contents", Args: map[string]interface{}{"path": "README.md"}}
	thought := ThoughtTurn("", call)
	result := ToolResultTurn(call, "a web framework")
	final := FinalTurn("It is a web framework.")

	for _, turn := range []Turn{user, thought, result, final} {
		if err := store.Append(ctx, "s1", turn); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	turns, err := store.Read(ctx, "s1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("Read returned %d turns, want 4", len(turns))
	}
	wantKinds := []Kind{KindUser, KindThought, KindToolResult, KindFinal}
	for i, k := range wantKinds {
		if turns[i].Kind != k {
			t.Errorf("turn %d kind = %s, want %s", i, turns[i].Kind, k)
		}
	}
	if turns[1].ToolCall == nil || turns[1].ToolCall.Name != "get_file_contents" {
		t.Errorf("thought turn lost its tool call: %+v", turns[1])
	}
	if turns[2].CallID != "c1" || turns[2].Output != "a web framework" {
		t.Errorf("tool result turn = %+v, want call c1 with output", turns[2])
	}
}

func TestPostgresRetention(t *testing.T) {
	conn := &fakeConn{}
	store := NewPostgresStore(conn, 4)
	ctx := context.Background()

	user := UserTurn("first question")
	if err := store.Append(ctx, "s1", user); err != nil {
		t.Fatalf("Append: %v", err)
	}
	call := ToolCall{ID: "c1", Name: "search_code"}
	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, "s1", ThoughtTurn("", call)); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := store.Append(ctx, "s1", ToolResultTurn(call, "hit")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	turns, err := store.Read(ctx, "s1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	// Window of 4 plus the pinned user turn.
	if len(turns) != 5 {
		t.Fatalf("retained %d turns, want 5", len(turns))
	}
	if turns[0].ID != user.ID {
		t.Errorf("first retained turn = %s, want pinned user turn", turns[0].ID)
	}
}

func TestPostgresEvict(t *testing.T) {
	conn := &fakeConn{}
	store := NewPostgresStore(conn, 50)
	ctx := context.Background()

	if err := store.Append(ctx, "s1", UserTurn("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "s2", UserTurn("other session")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Evict(ctx, "s1"); err != nil {
		t.Fatalf("Evict: %v", err)
	}

	turns, _ := store.Read(ctx, "s1")
	if len(turns) != 0 {
		t.Errorf("evicted session still has %d turns", len(turns))
	}
	others, _ := store.Read(ctx, "s2")
	if len(others) != 1 {
		t.Errorf("unrelated session has %d turns, want 1", len(others))
	}
}
