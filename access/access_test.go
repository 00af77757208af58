// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/chatwarden/warden/control"
	"github.com/chatwarden/warden/lib/clock"
	"github.com/chatwarden/warden/lib/sealed"
	"github.com/chatwarden/warden/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	s, err := store.Open(t.TempDir(), store.Options{Keypair: keypair, DeletedMessagesLimit: 100})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	return s
}

func testAccess(t *testing.T) (*Access, *control.Recorder, *clock.FakeClock) {
	t.Helper()
	recorder := control.NewRecorder()
	clk := clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	a := &Access{
		Store:         testStore(t),
		Notifier:      recorder,
		Clock:         clk,
		AdminID:       "1",
		PasskeyLength: 6,
		LogActivity:   true,
	}
	return a, recorder, clk
}

func TestRequestAndVerify(t *testing.T) {
	ctx := context.Background()
	a, recorder, _ := testAccess(t)

	key, err := a.RequestAccess(ctx, "42")
	if err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}
	if len(key) != 6 || strings.Trim(key, "0123456789") != "" {
		t.Fatalf("passkey = %q, want 6 decimal digits", key)
	}

	adminNotices := recorder.NoticesTo("1")
	if len(adminNotices) != 1 {
		t.Fatalf("admin notices = %d, want 1", len(adminNotices))
	}
	want := fmt.Sprintf("User 42 requested access. Passkey: %s", key)
	if adminNotices[0].Text != want {
		t.Fatalf("admin notice = %q, want %q", adminNotices[0].Text, want)
	}

	if a.IsAuthorized("42") {
		t.Fatal("operator authorized before verification")
	}

	if err := a.Verify(ctx, "42", key); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !a.IsAuthorized("42") {
		t.Fatal("operator not authorized after verification")
	}
	operator, _ := a.ViewOperator("42")
	if !operator.Active {
		t.Fatal("verified operator not active")
	}

	// Passkeys are consumed on first successful use.
	if err := a.Verify(ctx, "42", key); !errors.Is(err, ErrInvalidPasskey) {
		t.Fatalf("second Verify = %v, want ErrInvalidPasskey", err)
	}
}

func TestRequestAccessIdempotentForRegistered(t *testing.T) {
	ctx := context.Background()
	a, recorder, _ := testAccess(t)

	key, err := a.RequestAccess(ctx, "42")
	if err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}
	if err := a.Verify(ctx, "42", key); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	noticesBefore := len(recorder.Notices())

	again, err := a.RequestAccess(ctx, "42")
	if err != nil {
		t.Fatalf("repeat RequestAccess failed: %v", err)
	}
	if again != "" {
		t.Fatalf("repeat RequestAccess issued a passkey: %q", again)
	}
	if len(recorder.Notices()) != noticesBefore {
		t.Fatal("repeat RequestAccess produced a duplicate admin notice")
	}
	if a.Store.PasskeyCount() != 0 {
		t.Fatal("repeat RequestAccess stored a passkey")
	}
}

func TestVerifyWrongKey(t *testing.T) {
	ctx := context.Background()
	a, _, _ := testAccess(t)

	key, err := a.RequestAccess(ctx, "42")
	if err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}

	// A valid key supplied by the wrong principal must fail without
	// consuming the key.
	if err := a.Verify(ctx, "43", key); !errors.Is(err, ErrInvalidPasskey) {
		t.Fatalf("Verify by wrong operator = %v, want ErrInvalidPasskey", err)
	}
	if a.Store.PasskeyCount() != 1 {
		t.Fatal("failed verification consumed the passkey")
	}

	if err := a.Verify(ctx, "42", key); err != nil {
		t.Fatalf("Verify with the right operator failed: %v", err)
	}
}

func TestVerifyKeepsPasskeyWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	a, _, clk := testAccess(t)

	// An identifier with a path separator makes persisting the
	// operator record fail after the key has already been consumed.
	if err := a.Store.PutPasskey("123456", "bad/name", clk.Now()); err != nil {
		t.Fatalf("PutPasskey failed: %v", err)
	}

	err := a.Verify(ctx, "bad/name", "123456")
	if err == nil || errors.Is(err, ErrInvalidPasskey) {
		t.Fatalf("Verify = %v, want a persistence error", err)
	}
	if a.IsAuthorized("bad/name") {
		t.Fatal("operator registered despite persistence failure")
	}
	if a.Store.PasskeyCount() != 1 {
		t.Fatal("passkey lost on persistence failure")
	}

	// The reinstated key keeps its original issue time, so it is still
	// rejected once the TTL elapses.
	a.PasskeyTTL = 10 * time.Minute
	clk.Advance(11 * time.Minute)
	if err := a.Verify(ctx, "bad/name", "123456"); !errors.Is(err, ErrInvalidPasskey) {
		t.Fatalf("Verify after expiry = %v, want ErrInvalidPasskey", err)
	}
}

func TestPasskeyExpiry(t *testing.T) {
	ctx := context.Background()
	a, _, clk := testAccess(t)
	a.PasskeyTTL = 10 * time.Minute

	key, err := a.RequestAccess(ctx, "42")
	if err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}

	clk.Advance(11 * time.Minute)

	if err := a.Verify(ctx, "42", key); !errors.Is(err, ErrInvalidPasskey) {
		t.Fatalf("Verify after expiry = %v, want ErrInvalidPasskey", err)
	}
	if a.IsAuthorized("42") {
		t.Fatal("operator registered through an expired passkey")
	}

	// A fresh key within the TTL still works.
	key, err = a.RequestAccess(ctx, "42")
	if err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}
	clk.Advance(5 * time.Minute)
	if err := a.Verify(ctx, "42", key); err != nil {
		t.Fatalf("Verify within TTL failed: %v", err)
	}
}

func TestPruneExpiredPasskeys(t *testing.T) {
	ctx := context.Background()
	a, _, clk := testAccess(t)
	a.PasskeyTTL = 10 * time.Minute

	if _, err := a.RequestAccess(ctx, "42"); err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}
	clk.Advance(11 * time.Minute)
	if _, err := a.RequestAccess(ctx, "43"); err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}

	if err := a.PruneExpiredPasskeys(); err != nil {
		t.Fatalf("PruneExpiredPasskeys failed: %v", err)
	}
	if count := a.Store.PasskeyCount(); count != 1 {
		t.Fatalf("PasskeyCount after prune = %d, want 1", count)
	}
}

func TestAdminRegistry(t *testing.T) {
	a, _, _ := testAccess(t)

	if !a.IsAdmin("1") || a.IsAdmin("42") {
		t.Fatal("IsAdmin comparison broken")
	}

	added, err := a.AddOperator("7")
	if err != nil || !added {
		t.Fatalf("AddOperator = %v, %v", added, err)
	}
	added, err = a.AddOperator("7")
	if err != nil || added {
		t.Fatalf("repeat AddOperator = %v, %v, want false", added, err)
	}

	operator, ok := a.ViewOperator("7")
	if !ok || operator.Active {
		t.Fatalf("admin-added operator = %+v, %v, want inactive record", operator, ok)
	}

	if list := a.ListOperators(); len(list) != 1 || list[0].ID != "7" {
		t.Fatalf("ListOperators = %+v", list)
	}

	removed, ok, err := a.RemoveOperator("7")
	if err != nil || !ok || removed.ID != "7" {
		t.Fatalf("RemoveOperator = %+v, %v, %v", removed, ok, err)
	}
	if a.IsAuthorized("7") {
		t.Fatal("removed operator still authorized")
	}
}

func TestRecordActivity(t *testing.T) {
	a, _, _ := testAccess(t)
	if _, err := a.AddOperator("7"); err != nil {
		t.Fatalf("AddOperator failed: %v", err)
	}

	if err := a.RecordActivity("7", "linked 555"); err != nil {
		t.Fatalf("RecordActivity failed: %v", err)
	}
	operator, _ := a.ViewOperator("7")
	if len(operator.Activity) != 1 {
		t.Fatalf("activity entries = %d, want 1", len(operator.Activity))
	}

	a.LogActivity = false
	if err := a.RecordActivity("7", "ignored"); err != nil {
		t.Fatalf("RecordActivity (disabled) failed: %v", err)
	}
	operator, _ = a.ViewOperator("7")
	if len(operator.Activity) != 1 {
		t.Fatal("activity recorded while disabled")
	}
}
