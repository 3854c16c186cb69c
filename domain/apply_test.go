package domain

import (
	"reflect"
	"testing"
)

func task(id, title string) Task {
	return Task{ID: id, Title: title, Priority: PriorityMedium, Category: CategoryFeature, Attachments: []Attachment{}}
}

func TestApplyDeltaCreatedAppendsToColumn(t *testing.T) {
	b := NewBoard()
	t1 := task("1", "A")
	got := ApplyDelta(b, Delta{Kind: Created, Column: ColumnTodo, Task: &t1})
	if len(got[ColumnTodo]) != 1 || got[ColumnTodo][0].ID != "1" {
		t.Fatalf("expected task in todo, got %+v", got)
	}
	if len(b[ColumnTodo]) != 0 {
		t.Fatalf("input board mutated: %+v", b)
	}
}

func TestApplyDeltaMovedRelocatesTask(t *testing.T) {
	t1 := task("1", "A")
	b := NewBoard()
	b[ColumnTodo] = []Task{t1}
	got := ApplyDelta(b, Delta{Kind: Moved, TaskID: "1", SourceColumn: ColumnTodo, TargetColumn: ColumnInProgress, Task: &t1})
	if len(got[ColumnTodo]) != 0 {
		t.Fatalf("expected todo empty, got %+v", got[ColumnTodo])
	}
	if len(got[ColumnInProgress]) != 1 || got[ColumnInProgress][0].ID != "1" {
		t.Fatalf("expected task in inProgress, got %+v", got[ColumnInProgress])
	}
}

func TestApplyDeltaUpdatedReplacesByID(t *testing.T) {
	b := NewBoard()
	b[ColumnDone] = []Task{task("1", "A"), task("2", "B")}
	upd := task("2", "B2")
	upd.Priority = PriorityHigh
	got := ApplyDelta(b, Delta{Kind: Updated, Column: ColumnDone, Task: &upd})
	if got[ColumnDone][1].Title != "B2" || got[ColumnDone][1].Priority != PriorityHigh {
		t.Fatalf("unexpected update result %+v", got[ColumnDone])
	}
	if got[ColumnDone][0].Title != "A" {
		t.Fatalf("unrelated task changed: %+v", got[ColumnDone][0])
	}
}

func TestApplyDeltaDeletedRemovesTask(t *testing.T) {
	b := NewBoard()
	b[ColumnTodo] = []Task{task("1", "A"), task("2", "B")}
	got := ApplyDelta(b, Delta{Kind: Deleted, TaskID: "1", Column: ColumnTodo})
	if len(got[ColumnTodo]) != 1 || got[ColumnTodo][0].ID != "2" {
		t.Fatalf("unexpected todo %+v", got[ColumnTodo])
	}
	if len(b[ColumnTodo]) != 2 || b[ColumnTodo][0].ID != "1" {
		t.Fatalf("input board mutated: %+v", b[ColumnTodo])
	}
}

func TestApplyDeltaSequenceConverges(t *testing.T) {
	a, bb, c := task("a", "A"), task("b", "B"), task("c", "C")
	deltas := []Delta{
		{Kind: Created, Column: ColumnTodo, Task: &a},
		{Kind: Created, Column: ColumnTodo, Task: &bb},
		{Kind: Moved, TaskID: "a", SourceColumn: ColumnTodo, TargetColumn: ColumnDone, Task: &a},
		{Kind: Created, Column: ColumnInProgress, Task: &c},
		{Kind: Deleted, TaskID: "b", Column: ColumnTodo},
	}
	b := NewBoard()
	for _, d := range deltas {
		b = ApplyDelta(b, d)
	}
	want := NewBoard()
	want[ColumnInProgress] = []Task{c}
	want[ColumnDone] = []Task{a}
	if !reflect.DeepEqual(b, want) {
		t.Fatalf("expected %+v got %+v", want, b)
	}
}

func TestApplyDeltaIgnoresInvalidColumn(t *testing.T) {
	t1 := task("1", "A")
	b := NewBoard()
	got := ApplyDelta(b, Delta{Kind: Created, Column: "Todo", Task: &t1})
	if got.Len() != 0 {
		t.Fatalf("expected no change, got %+v", got)
	}
}

func TestApplyDeltaReplayDoesNotDuplicate(t *testing.T) {
	t1, t2 := task("1", "A"), task("2", "B")
	b := NewBoard()
	b[ColumnTodo] = []Task{t1, t2}
	b[ColumnDone] = []Task{task("3", "C")}

	got := ApplyDelta(b, Delta{Kind: Created, Column: ColumnTodo, Task: &t1})
	if !reflect.DeepEqual(got, b) {
		t.Fatalf("replayed create changed the board: %+v", got)
	}

	moved := task("3", "C")
	got = ApplyDelta(b, Delta{Kind: Moved, TaskID: "3", SourceColumn: ColumnTodo, TargetColumn: ColumnDone, Task: &moved})
	if !reflect.DeepEqual(got, b) {
		t.Fatalf("replayed move changed the board: %+v", got)
	}

	// A move whose source no longer holds the task still leaves one copy.
	got = ApplyDelta(b, Delta{Kind: Moved, TaskID: "2", SourceColumn: ColumnInProgress, TargetColumn: ColumnDone, Task: &t2})
	if len(got[ColumnTodo]) != 1 || len(got[ColumnDone]) != 2 || got[ColumnDone][1].ID != "2" {
		t.Fatalf("unexpected board %+v", got)
	}
}
