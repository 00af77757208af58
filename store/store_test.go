// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"testing"
	"time"

	"github.com/chatwarden/warden/lib/sealed"
)

func testKeypair(t *testing.T) *sealed.Keypair {
	t.Helper()
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	return keypair
}

func openTestStore(t *testing.T, dir string, limit int) *Store {
	t.Helper()
	s, err := Open(dir, Options{Keypair: testKeypair(t), DeletedMessagesLimit: limit})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	return s
}

func TestOpenValidatesOptions(t *testing.T) {
	if _, err := Open(t.TempDir(), Options{DeletedMessagesLimit: 10}); err == nil {
		t.Fatal("Open without keypair succeeded")
	}
	if _, err := Open(t.TempDir(), Options{Keypair: testKeypair(t)}); err == nil {
		t.Fatal("Open with zero limit succeeded")
	}
}

func TestOperators(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 10)

	if _, ok := s.Operator("42"); ok {
		t.Fatal("found operator in empty store")
	}

	if err := s.PutOperator(Operator{ID: "42", Active: true}); err != nil {
		t.Fatalf("PutOperator failed: %v", err)
	}
	operator, ok := s.Operator("42")
	if !ok || !operator.Active {
		t.Fatalf("Operator(42) = %+v, %v", operator, ok)
	}

	if err := s.PutOperator(Operator{ID: "../sneaky"}); err == nil {
		t.Fatal("PutOperator accepted a path-escaping id")
	}

	if err := s.LinkAccount("42", "555"); err != nil {
		t.Fatalf("LinkAccount failed: %v", err)
	}
	if err := s.LinkAccount("42", "555"); err != nil {
		t.Fatalf("LinkAccount (repeat) failed: %v", err)
	}
	operator, _ = s.Operator("42")
	if len(operator.Accounts) != 1 || operator.Accounts[0] != "555" {
		t.Fatalf("Accounts = %v, want [555]", operator.Accounts)
	}

	if err := s.UnlinkAccount("42", "555"); err != nil {
		t.Fatalf("UnlinkAccount failed: %v", err)
	}
	operator, _ = s.Operator("42")
	if len(operator.Accounts) != 0 {
		t.Fatalf("Accounts after unlink = %v, want empty", operator.Accounts)
	}

	removed, ok, err := s.DeleteOperator("42")
	if err != nil || !ok || removed.ID != "42" {
		t.Fatalf("DeleteOperator = %+v, %v, %v", removed, ok, err)
	}
	if _, ok := s.Operator("42"); ok {
		t.Fatal("operator still present after delete")
	}
}

// Returned records must be isolated from later mutations: the
// recovery sweep iterates an Operators snapshot while StopSession may
// concurrently unlink an account for the same operator.
func TestOperatorSnapshotIsolation(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 10)

	if err := s.PutOperator(Operator{ID: "42", Active: true, Accounts: []string{"555", "777"}}); err != nil {
		t.Fatalf("PutOperator failed: %v", err)
	}

	snapshot, _ := s.Operator("42")
	if err := s.UnlinkAccount("42", "555"); err != nil {
		t.Fatalf("UnlinkAccount failed: %v", err)
	}
	if len(snapshot.Accounts) != 2 || snapshot.Accounts[0] != "555" || snapshot.Accounts[1] != "777" {
		t.Fatalf("snapshot mutated by UnlinkAccount: %v", snapshot.Accounts)
	}

	all := s.Operators()
	if err := s.LinkAccount("42", "888"); err != nil {
		t.Fatalf("LinkAccount failed: %v", err)
	}
	if err := s.AppendActivity("42", time.Unix(0, 0).UTC(), "linked 888"); err != nil {
		t.Fatalf("AppendActivity failed: %v", err)
	}
	if len(all[0].Accounts) != 1 || all[0].Accounts[0] != "777" {
		t.Fatalf("snapshot mutated by LinkAccount: %v", all[0].Accounts)
	}
	if len(all[0].Activity) != 0 {
		t.Fatalf("snapshot mutated by AppendActivity: %v", all[0].Activity)
	}
}

func TestActivityLog(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 10)
	if err := s.PutOperator(Operator{ID: "7", Active: true}); err != nil {
		t.Fatalf("PutOperator failed: %v", err)
	}

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := s.AppendActivity("7", at, "linked 555"); err != nil {
		t.Fatalf("AppendActivity failed: %v", err)
	}
	if err := s.AppendActivity("ghost", at, "never stored"); err != nil {
		t.Fatalf("AppendActivity for unknown operator errored: %v", err)
	}

	operator, _ := s.Operator("7")
	if len(operator.Activity) != 1 || operator.Activity[0].Message != "linked 555" {
		t.Fatalf("Activity = %+v", operator.Activity)
	}
}

func TestPasskeys(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 10)
	issued := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	if err := s.PutPasskey("123456", "42", issued); err != nil {
		t.Fatalf("PutPasskey failed: %v", err)
	}

	t.Run("wrong operator", func(t *testing.T) {
		_, ok, err := s.ConsumePasskey("123456", "43", time.Time{})
		if err != nil || ok {
			t.Fatalf("ConsumePasskey for wrong operator = %v, %v", ok, err)
		}
		if s.PasskeyCount() != 1 {
			t.Fatal("mismatched consume mutated the table")
		}
	})

	t.Run("consumed exactly once", func(t *testing.T) {
		passkey, ok, err := s.ConsumePasskey("123456", "42", time.Time{})
		if err != nil || !ok {
			t.Fatalf("ConsumePasskey = %v, %v", ok, err)
		}
		if passkey.OperatorID != "42" || !passkey.IssuedAt.Equal(issued) {
			t.Fatalf("consumed record = %+v", passkey)
		}
		_, ok, err = s.ConsumePasskey("123456", "42", time.Time{})
		if err != nil || ok {
			t.Fatalf("second ConsumePasskey = %v, %v, want consumed=false", ok, err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		if err := s.PutPasskey("654321", "42", issued); err != nil {
			t.Fatalf("PutPasskey failed: %v", err)
		}
		_, ok, err := s.ConsumePasskey("654321", "42", issued.Add(time.Minute))
		if err != nil || ok {
			t.Fatalf("ConsumePasskey past expiry = %v, %v", ok, err)
		}
		if s.PasskeyCount() != 0 {
			t.Fatal("expired passkey not dropped")
		}
	})

	t.Run("prune", func(t *testing.T) {
		if err := s.PutPasskey("111111", "1", issued); err != nil {
			t.Fatalf("PutPasskey failed: %v", err)
		}
		if err := s.PutPasskey("222222", "2", issued.Add(time.Hour)); err != nil {
			t.Fatalf("PutPasskey failed: %v", err)
		}
		if err := s.PrunePasskeys(issued.Add(time.Minute)); err != nil {
			t.Fatalf("PrunePasskeys failed: %v", err)
		}
		if s.PasskeyCount() != 1 {
			t.Fatalf("PasskeyCount = %d after prune, want 1", s.PasskeyCount())
		}
	})
}

func TestSessionMeta(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 10)

	meta := SessionMeta{Account: "555", OperatorID: "42", Status: "active"}
	if err := s.PutSessionMeta(meta); err != nil {
		t.Fatalf("PutSessionMeta failed: %v", err)
	}

	if err := s.IncrementDeleted("555"); err != nil {
		t.Fatalf("IncrementDeleted failed: %v", err)
	}
	if err := s.IncrementDeleted("unknown"); err != nil {
		t.Fatalf("IncrementDeleted for unknown account errored: %v", err)
	}

	got, ok := s.SessionMeta("555")
	if !ok || got.MessagesDeleted != 1 {
		t.Fatalf("SessionMeta = %+v, %v", got, ok)
	}
}

// TestReload closes nothing (the store has no close — every write is
// already durable) and simply reopens the directory, verifying that
// every entity survives a process restart.
func TestReload(t *testing.T) {
	dir := t.TempDir()
	keypair := testKeypair(t)

	s, err := Open(dir, Options{Keypair: keypair, DeletedMessagesLimit: 10})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}

	if err := s.PutOperator(Operator{ID: "42", Active: true, Accounts: []string{"555"}}); err != nil {
		t.Fatalf("PutOperator failed: %v", err)
	}
	if err := s.PutPasskey("123456", "7", time.Unix(1000, 0).UTC()); err != nil {
		t.Fatalf("PutPasskey failed: %v", err)
	}
	if err := s.PutSessionMeta(SessionMeta{Account: "555", OperatorID: "42", Status: "active", MessagesDeleted: 3}); err != nil {
		t.Fatalf("PutSessionMeta failed: %v", err)
	}
	body := "hello"
	if err := s.AppendDeleted("555", DeletedMessage{ID: "m1", Destination: "999", Body: &body, CapturedAt: time.Unix(2000, 0).UTC()}); err != nil {
		t.Fatalf("AppendDeleted failed: %v", err)
	}

	reopened, err := Open(dir, Options{Keypair: keypair, DeletedMessagesLimit: 10})
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}

	operator, ok := reopened.Operator("42")
	if !ok || !operator.Active || len(operator.Accounts) != 1 {
		t.Fatalf("reloaded operator = %+v, %v", operator, ok)
	}
	_, consumed, err := reopened.ConsumePasskey("123456", "7", time.Time{})
	if err != nil || !consumed {
		t.Fatalf("reloaded passkey consume = %v, %v", consumed, err)
	}
	meta, ok := reopened.SessionMeta("555")
	if !ok || meta.MessagesDeleted != 3 {
		t.Fatalf("reloaded session meta = %+v, %v", meta, ok)
	}
	log := reopened.DeletedMessages("555")
	if len(log) != 1 || log[0].ID != "m1" || log[0].Body == nil || *log[0].Body != "hello" {
		t.Fatalf("reloaded deleted log = %+v", log)
	}
}

func TestAccountCredentials(t *testing.T) {
	dir := t.TempDir()
	keypair := testKeypair(t)
	s, err := Open(dir, Options{Keypair: keypair, DeletedMessagesLimit: 10})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}

	credentials := s.AccountCredentials("555")

	blob, err := credentials.Load()
	if err != nil {
		t.Fatalf("Load on fresh account failed: %v", err)
	}
	if blob != nil {
		t.Fatalf("Load on fresh account = %q, want nil", blob)
	}

	secret := []byte(`{"noise_key":"deadbeef"}`)
	if err := credentials.Save(secret); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// The blob must be encrypted at rest, and must round-trip after
	// a reopen with the same keypair.
	reopened, err := Open(dir, Options{Keypair: keypair, DeletedMessagesLimit: 10})
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	loaded, err := reopened.AccountCredentials("555").Load()
	if err != nil {
		t.Fatalf("Load after reopen failed: %v", err)
	}
	if !bytes.Equal(loaded, secret) {
		t.Fatalf("credentials round trip = %q, want %q", loaded, secret)
	}

	if err := s.RemoveCredentials("555"); err != nil {
		t.Fatalf("RemoveCredentials failed: %v", err)
	}
	blob, err = credentials.Load()
	if err != nil || blob != nil {
		t.Fatalf("Load after remove = %q, %v, want nil, nil", blob, err)
	}
}
