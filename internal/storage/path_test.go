package storage

import (
	"sort"
	"testing"
)

func TestBuildRecordKey(t *testing.T) {
	key, err := BuildRecordKey("records", 42, "0b7c6a4e-1f7a-4ad8-9d6c-3f2f0f1e2d3c")
	if err != nil {
		t.Fatalf("BuildRecordKey() error = %v", err)
	}
	want := "records/00000000000000000042-0b7c6a4e-1f7a-4ad8-9d6c-3f2f0f1e2d3c.json"
	if key != want {
		t.Fatalf("BuildRecordKey() = %q, want %q", key, want)
	}

	seq, id, err := ParseRecordKey(key)
	if err != nil {
		t.Fatalf("ParseRecordKey() error = %v", err)
	}
	if seq != 42 || id != "0b7c6a4e-1f7a-4ad8-9d6c-3f2f0f1e2d3c" {
		t.Fatalf("ParseRecordKey() = %d, %q", seq, id)
	}
}

func TestRecordKeysSortInSequenceOrder(t *testing.T) {
	var keys []string
	for _, seq := range []int64{10, 9, 100, 1} {
		key, err := BuildRecordKey("records", seq, "id")
		if err != nil {
			t.Fatalf("BuildRecordKey() error = %v", err)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var got []int64
	for _, key := range keys {
		seq, _, err := ParseRecordKey(key)
		if err != nil {
			t.Fatalf("ParseRecordKey() error = %v", err)
		}
		got = append(got, seq)
	}
	if got[0] != 1 || got[1] != 9 || got[2] != 10 || got[3] != 100 {
		t.Fatalf("sorted seqs = %v", got)
	}
}

func TestBuildRecordKeyRejectsInvalidComponent(t *testing.T) {
	if _, err := BuildRecordKey("../oops", 1, "id"); err == nil {
		t.Fatal("expected invalid prefix error")
	}
	if _, err := BuildRecordKey("records", 0, "id"); err == nil {
		t.Fatal("expected invalid sequence error")
	}
	if _, _, err := ParseRecordKey("records/notes.txt"); err == nil {
		t.Fatal("expected invalid key error")
	}
}
