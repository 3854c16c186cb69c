package processor

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"board-sync/domain"
	"board-sync/storage"
)

func newProcessor() (*Processor, *storage.Store) {
	st := storage.New()
	n := 0
	p := New(st).WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	})
	return p, st
}

func mustCreate(t *testing.T, p *Processor, column domain.Column, title string) domain.Task {
	t.Helper()
	d, err := p.Create(domain.CreateTask{Column: column, Title: title})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return *d.Task
}

func TestCreateAppliesDefaults(t *testing.T) {
	p, st := newProcessor()
	d, err := p.Create(domain.CreateTask{Column: domain.ColumnTodo, Title: "A"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := domain.Task{ID: "id-1", Title: "A", Priority: domain.PriorityMedium, Category: domain.CategoryFeature, Attachments: []domain.Attachment{}}
	if d.Kind != domain.Created || d.Column != domain.ColumnTodo || !reflect.DeepEqual(*d.Task, want) {
		t.Fatalf("unexpected delta %+v task %+v", d, d.Task)
	}
	todo := st.Snapshot()[domain.ColumnTodo]
	if len(todo) != 1 || !reflect.DeepEqual(todo[0], want) {
		t.Fatalf("unexpected store %+v", todo)
	}
}

func TestTitleIsStoredAsSent(t *testing.T) {
	p, st := newProcessor()
	task := mustCreate(t, p, domain.ColumnTodo, "  A ")
	if task.Title != "  A " {
		t.Fatalf("expected title kept as sent, got %q", task.Title)
	}
	d, err := p.Update(domain.UpdateTask{ID: task.ID, Column: domain.ColumnTodo, Title: " B"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if d.Task.Title != " B" || st.Snapshot()[domain.ColumnTodo][0].Title != " B" {
		t.Fatalf("expected updated title kept as sent, got %q", d.Task.Title)
	}
}

func TestCreateIdenticalFieldsGetDistinctIDs(t *testing.T) {
	st := storage.New()
	p := New(st)
	a, err := p.Create(domain.CreateTask{Column: domain.ColumnTodo, Title: "same"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := p.Create(domain.CreateTask{Column: domain.ColumnTodo, Title: "same"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Task.ID == "" || a.Task.ID == b.Task.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.Task.ID, b.Task.ID)
	}
	if n := len(st.Snapshot()[domain.ColumnTodo]); n != 2 {
		t.Fatalf("expected 2 tasks, got %d", n)
	}
}

func TestCreateValidation(t *testing.T) {
	p, st := newProcessor()
	cases := []struct {
		name string
		cmd  domain.CreateTask
		kind domain.ErrorKind
	}{
		{"empty title", domain.CreateTask{Column: domain.ColumnTodo, Title: "  "}, domain.KindInvalidPayload},
		{"bad column", domain.CreateTask{Column: "backlog", Title: "A"}, domain.KindInvalidColumn},
		{"bad priority", domain.CreateTask{Column: domain.ColumnTodo, Title: "A", Priority: "Urgent"}, domain.KindInvalidPayload},
		{"bad category", domain.CreateTask{Column: domain.ColumnTodo, Title: "A", Category: "Chore"}, domain.KindInvalidPayload},
		{"unnamed attachment", domain.CreateTask{Column: domain.ColumnTodo, Title: "A", Attachments: []domain.Attachment{{Size: 1}}}, domain.KindInvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := p.Create(tc.cmd)
			if d != nil || domain.KindOf(err) != tc.kind {
				t.Fatalf("expected %s, got delta %+v err %v", tc.kind, d, err)
			}
		})
	}
	if st.Snapshot().Len() != 0 {
		t.Fatal("rejected creates mutated the board")
	}
}

func TestUpdateReplacesFieldsAndKeepsOmitted(t *testing.T) {
	p, st := newProcessor()
	att := []domain.Attachment{{Name: "a.txt", Type: "text/plain", URL: "data:text/plain;base64,YQ==", Size: 1}}
	d, err := p.Create(domain.CreateTask{Column: domain.ColumnTodo, Title: "A", Priority: domain.PriorityHigh, Category: domain.CategoryBug, Attachments: att})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := d.Task.ID
	d, err = p.Update(domain.UpdateTask{ID: id, Column: domain.ColumnTodo, Title: "B", Description: "desc"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got := st.Snapshot()[domain.ColumnTodo][0]
	if got.Title != "B" || got.Description != "desc" || got.Priority != domain.PriorityHigh || got.Category != domain.CategoryBug || len(got.Attachments) != 1 {
		t.Fatalf("unexpected task after update %+v", got)
	}
	if d.Kind != domain.Updated || !reflect.DeepEqual(*d.Task, got) {
		t.Fatalf("delta %+v does not match stored task %+v", d.Task, got)
	}
}

func TestUpdateMissingTaskLeavesBoardUnchanged(t *testing.T) {
	p, st := newProcessor()
	mustCreate(t, p, domain.ColumnTodo, "A")
	before := st.Snapshot()
	d, err := p.Update(domain.UpdateTask{ID: "nope", Column: domain.ColumnTodo, Title: "X"})
	if d != nil || !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %+v %v", d, err)
	}
	if !reflect.DeepEqual(before, st.Snapshot()) {
		t.Fatal("board changed after failed update")
	}
}

func TestUpdateWrongColumn(t *testing.T) {
	p, _ := newProcessor()
	task := mustCreate(t, p, domain.ColumnTodo, "A")
	if _, err := p.Update(domain.UpdateTask{ID: task.ID, Column: domain.ColumnDone, Title: "A"}); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestUpdateRequiresTitle(t *testing.T) {
	p, st := newProcessor()
	task := mustCreate(t, p, domain.ColumnTodo, "A")
	before := st.Snapshot()
	if _, err := p.Update(domain.UpdateTask{ID: task.ID, Column: domain.ColumnTodo}); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if !reflect.DeepEqual(before, st.Snapshot()) {
		t.Fatal("board changed after invalid update")
	}
}

func TestMoveRelocates(t *testing.T) {
	p, st := newProcessor()
	t1 := mustCreate(t, p, domain.ColumnTodo, "A")
	d, err := p.Move(domain.MoveTask{TaskID: t1.ID, SourceColumn: domain.ColumnTodo, TargetColumn: domain.ColumnInProgress})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	want := domain.Delta{Kind: domain.Moved, TaskID: t1.ID, SourceColumn: domain.ColumnTodo, TargetColumn: domain.ColumnInProgress, Task: &t1}
	if !reflect.DeepEqual(*d, want) {
		t.Fatalf("expected %+v got %+v", want, *d)
	}
	b := st.Snapshot()
	if len(b[domain.ColumnTodo]) != 0 || len(b[domain.ColumnInProgress]) != 1 {
		t.Fatalf("unexpected board %+v", b)
	}
}

func TestMoveSameColumnIsNoop(t *testing.T) {
	p, st := newProcessor()
	t1 := mustCreate(t, p, domain.ColumnTodo, "A")
	before := st.Snapshot()
	d, err := p.Move(domain.MoveTask{TaskID: t1.ID, SourceColumn: domain.ColumnTodo, TargetColumn: domain.ColumnTodo})
	if d != nil || err != nil {
		t.Fatalf("expected no delta and no error, got %+v %v", d, err)
	}
	if !reflect.DeepEqual(before, st.Snapshot()) {
		t.Fatal("no-op move changed the board")
	}
}

func TestMoveInvalidColumn(t *testing.T) {
	p, _ := newProcessor()
	t1 := mustCreate(t, p, domain.ColumnTodo, "A")
	if _, err := p.Move(domain.MoveTask{TaskID: t1.ID, SourceColumn: domain.ColumnTodo, TargetColumn: "Done"}); !errors.Is(err, domain.ErrInvalidColumn) {
		t.Fatalf("expected ErrInvalidColumn, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	p, st := newProcessor()
	t1 := mustCreate(t, p, domain.ColumnTodo, "A")
	d, err := p.Delete(domain.DeleteTask{TaskID: t1.ID, Column: domain.ColumnTodo})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if d.Kind != domain.Deleted || d.TaskID != t1.ID || d.Column != domain.ColumnTodo || d.Task != nil {
		t.Fatalf("unexpected delta %+v", d)
	}
	if st.Snapshot().Len() != 0 {
		t.Fatal("task not removed")
	}
	if _, err := p.Delete(domain.DeleteTask{TaskID: t1.ID, Column: domain.ColumnTodo}); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestApplyDispatches(t *testing.T) {
	p, _ := newProcessor()
	d, err := p.Apply(domain.CreateTask{Column: domain.ColumnDone, Title: "A"})
	if err != nil || d.Kind != domain.Created {
		t.Fatalf("unexpected %+v %v", d, err)
	}
	d, err = p.Apply(domain.DeleteTask{TaskID: d.Task.ID, Column: domain.ColumnDone})
	if err != nil || d.Kind != domain.Deleted {
		t.Fatalf("unexpected %+v %v", d, err)
	}
}
