package syncq

import "testing"

func TestPushLoadClear(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	got, err := Load()
	if err != nil || len(got) != 0 {
		t.Fatalf("empty queue: %v %v", got, err)
	}
	if err := Push(Command{Kind: "click", IdempotencyKey: "a"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := Push(Command{Kind: "buy_building", ID: "furnace", IdempotencyKey: "b"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].IdempotencyKey != "a" || got[1].ID != "furnace" {
		t.Fatalf("unexpected queue %+v", got)
	}
	if got[0].QueuedAt.IsZero() {
		t.Fatalf("push should stamp queued_at")
	}

	if err := Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := Load(); len(got) != 0 {
		t.Fatalf("queue not cleared: %+v", got)
	}
}
