// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"testing"
	"time"
)

func captured(id string) DeletedMessage {
	body := "body of " + id
	return DeletedMessage{
		ID:          id,
		Destination: "999",
		Body:        &body,
		CapturedAt:  time.Unix(0, 0).UTC(),
	}
}

func idsOf(log []DeletedMessage) []string {
	ids := make([]string, len(log))
	for i, record := range log {
		ids[i] = record.ID
	}
	return ids
}

func TestAppendDeletedFIFO(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 2)

	for _, id := range []string{"A", "B", "C"} {
		if err := s.AppendDeleted("555", captured(id)); err != nil {
			t.Fatalf("AppendDeleted(%s) failed: %v", id, err)
		}
	}

	log := s.DeletedMessages("555")
	if fmt.Sprint(idsOf(log)) != "[B C]" {
		t.Fatalf("log after overflow = %v, want [B C]", idsOf(log))
	}
}

func TestAppendDeletedNilBody(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 10)

	record := DeletedMessage{ID: "m1", Destination: "999", CapturedAt: time.Unix(0, 0).UTC()}
	if err := s.AppendDeleted("555", record); err != nil {
		t.Fatalf("AppendDeleted failed: %v", err)
	}

	log := s.DeletedMessages("555")
	if len(log) != 1 {
		t.Fatalf("log length = %d, want 1", len(log))
	}
	if log[0].Body != nil {
		t.Fatalf("Body = %v, want nil", *log[0].Body)
	}
}

func TestRemoveDeleted(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 10)

	for _, id := range []string{"A", "B", "C"} {
		if err := s.AppendDeleted("555", captured(id)); err != nil {
			t.Fatalf("AppendDeleted(%s) failed: %v", id, err)
		}
	}

	removed, ok, err := s.RemoveDeleted("555", "B")
	if err != nil || !ok || removed.ID != "B" {
		t.Fatalf("RemoveDeleted = %+v, %v, %v", removed, ok, err)
	}
	if fmt.Sprint(idsOf(s.DeletedMessages("555"))) != "[A C]" {
		t.Fatalf("log after removal = %v, want [A C]", idsOf(s.DeletedMessages("555")))
	}

	_, ok, err = s.RemoveDeleted("555", "B")
	if err != nil || ok {
		t.Fatalf("second RemoveDeleted = %v, %v, want not found", ok, err)
	}
	_, ok, err = s.RemoveDeleted("no-such-account", "B")
	if err != nil || ok {
		t.Fatalf("RemoveDeleted on unknown account = %v, %v", ok, err)
	}
}

// Logs are scoped by account: removing from one account never touches
// another, and an emptied log disappears from disk (no stale files
// after reopen).
func TestDeletedLogIsolationAndCleanup(t *testing.T) {
	dir := t.TempDir()
	keypair := testKeypair(t)
	s, err := Open(dir, Options{Keypair: keypair, DeletedMessagesLimit: 10})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}

	if err := s.AppendDeleted("555", captured("A")); err != nil {
		t.Fatalf("AppendDeleted failed: %v", err)
	}
	if err := s.AppendDeleted("777", captured("B")); err != nil {
		t.Fatalf("AppendDeleted failed: %v", err)
	}

	if _, _, err := s.RemoveDeleted("555", "A"); err != nil {
		t.Fatalf("RemoveDeleted failed: %v", err)
	}

	reopened, err := Open(dir, Options{Keypair: keypair, DeletedMessagesLimit: 10})
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	if got := reopened.DeletedMessages("555"); len(got) != 0 {
		t.Fatalf("emptied log resurfaced after reopen: %v", idsOf(got))
	}
	if got := reopened.DeletedMessages("777"); len(got) != 1 || got[0].ID != "B" {
		t.Fatalf("unrelated log damaged: %v", idsOf(got))
	}
}
