package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInviteQuotaBoundary(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	if _, err := d.CreateInviteCode(ctx, CreateInviteInput{Code: "abcdefg", MaxUses: 2}); err != nil {
		t.Fatalf("create invite: %v", err)
	}

	a := createUser(t, d, "alice")
	b := createUser(t, d, "bob")
	c := createUser(t, d, "cid")

	act, err := d.ActivateInviteCode(ctx, " abcdefg ", a.ID)
	if err != nil {
		t.Fatalf("first activation: %v", err)
	}
	if len(act.NewCodes) != 6 {
		t.Errorf("new codes = %d, want 6", len(act.NewCodes))
	}
	if _, err := d.ActivateInviteCode(ctx, "ABCDEFG", b.ID); err != nil {
		t.Fatalf("last remaining use: %v", err)
	}
	if _, err := d.ActivateInviteCode(ctx, "ABCDEFG", c.ID); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("over quota err = %v, want ErrQuotaExhausted", err)
	}
	if _, err := d.ActivateInviteCode(ctx, act.NewCodes[0], a.ID); !errors.Is(err, ErrAlreadyActivated) {
		t.Errorf("reactivation err = %v, want ErrAlreadyActivated", err)
	}

	code, _ := d.GetInviteCode(ctx, "ABCDEFG")
	if code.UseCount != 2 {
		t.Errorf("use_count = %d, want 2", code.UseCount)
	}
}

func TestValidateInviteDoesNotConsume(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	if _, err := d.CreateInviteCode(ctx, CreateInviteInput{Code: "QWERTYU"}); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := d.ValidateInviteCode(ctx, "qwertyu"); err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
	}
	code, _ := d.GetInviteCode(ctx, "QWERTYU")
	if code.UseCount != 0 {
		t.Errorf("use_count = %d after validate, want 0", code.UseCount)
	}
}

func TestInviteExpired(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	if _, err := d.CreateInviteCode(ctx, CreateInviteInput{Code: "OLDCODE", ExpiresAt: &past}); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	u := createUser(t, d, "late")
	if _, err := d.ActivateInviteCode(ctx, "OLDCODE", u.ID); !errors.Is(err, ErrInviteExpired) {
		t.Fatalf("err = %v, want ErrInviteExpired", err)
	}
}

func TestInviterReward(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	if _, err := d.CreateInviteCode(ctx, CreateInviteInput{Code: "SEEDONE"}); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	inviter := createUser(t, d, "inviter")
	act, err := d.ActivateInviteCode(ctx, "SEEDONE", inviter.ID)
	if err != nil {
		t.Fatalf("activate inviter: %v", err)
	}
	invitee := createUser(t, d, "invitee")
	if _, err := d.ActivateInviteCode(ctx, act.NewCodes[0], invitee.ID); err != nil {
		t.Fatalf("activate invitee: %v", err)
	}
	got, _ := d.GetUserByID(ctx, inviter.ID)
	if got.Reputation != 5 || got.ShrimpCoins != 120 {
		t.Errorf("inviter rep=%d coins=%d, want 5/120", got.Reputation, got.ShrimpCoins)
	}
}

func TestCliAuthExpiredAndDeviceMismatch(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	setClock := freezeClock(t, base)

	req, err := d.CreateCliAuthRequest(ctx, "dev-1", "laptop")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if len(req.Code) != 8 {
		t.Errorf("code %q length = %d, want 8", req.Code, len(req.Code))
	}

	if _, err := d.PollCliAuthRequest(ctx, req.Code, "dev-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other device err = %v, want ErrNotFound", err)
	}
	res, err := d.PollCliAuthRequest(ctx, req.Code, "dev-1")
	if err != nil || res.Status != CLIPending {
		t.Fatalf("poll fresh = %+v, %v", res, err)
	}

	setClock(base.Add(CLIAuthTTL + time.Second))
	res, err = d.PollCliAuthRequest(ctx, req.Code, "dev-1")
	if err != nil {
		t.Fatalf("poll expired: %v", err)
	}
	if res.Status != CLIExpired {
		t.Errorf("status = %s, want expired", res.Status)
	}

	u := createUser(t, d, "slow")
	if _, err := d.ApproveCliAuthRequest(ctx, req.Code, u.ID); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("approve expired err = %v, want ErrCodeExpired", err)
	}
	stored, _ := d.GetCliAuthRequest(ctx, req.Code)
	if stored.Status != CLIExpired {
		t.Errorf("stored status = %s, want expired", stored.Status)
	}
}

func TestCliAuthHappyPathAndSingleUse(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	u1 := createUser(t, d, "u1")

	req, err := d.CreateCliAuthRequest(ctx, "dev-happy", "desktop")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	approved, err := d.ApproveCliAuthRequest(ctx, req.Code, u1.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != CLIAuthorized {
		t.Errorf("status = %s, want authorized", approved.Status)
	}

	res, err := d.PollCliAuthRequest(ctx, req.Code, "dev-happy")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Status != CLIAuthorized || res.UserID != u1.ID {
		t.Errorf("poll = %+v, want authorized/%s", res, u1.ID)
	}

	if _, err := d.ApproveCliAuthRequest(ctx, req.Code, u1.ID); !errors.Is(err, ErrAlreadyAuthorized) {
		t.Errorf("second approve err = %v, want ErrAlreadyAuthorized", err)
	}

	binding, err := d.GetDeviceBinding(ctx, "dev-happy")
	if err != nil {
		t.Fatalf("device binding: %v", err)
	}
	if binding.UserID != u1.ID || binding.LastPublishAt != nil {
		t.Errorf("binding = %+v, want unpublished binding for %s", binding, u1.ID)
	}

	if err := d.MarkDevicePublished(ctx, "dev-happy"); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	binding, _ = d.GetDeviceBinding(ctx, "dev-happy")
	if binding.LastPublishAt == nil {
		t.Error("last_publish_at not stamped")
	}
	if err := d.MarkDevicePublished(ctx, "dev-unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown device err = %v", err)
	}
}

func TestDeviceBoundToOther(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	a := createUser(t, d, "owner")
	b := createUser(t, d, "thief")

	if err := d.AuthorizeDevice(ctx, "dev-shared", a.ID, "one"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := d.AuthorizeDevice(ctx, "dev-shared", a.ID, "renamed"); err != nil {
		t.Fatalf("rebind same user: %v", err)
	}
	if err := d.AuthorizeDevice(ctx, "dev-shared", b.ID, "two"); !errors.Is(err, ErrDeviceBoundToOther) {
		t.Errorf("err = %v, want ErrDeviceBoundToOther", err)
	}

	devices, err := d.ListDevices(ctx, a.ID)
	if err != nil || len(devices) != 1 {
		t.Fatalf("list devices = %v, %v", devices, err)
	}
	if devices[0].DeviceName != "renamed" {
		t.Errorf("device name = %q", devices[0].DeviceName)
	}
	if ok, _ := d.RevokeDevice(ctx, "dev-shared", b.ID); ok {
		t.Error("non-owner revoke succeeded")
	}
	if ok, _ := d.RevokeDevice(ctx, "dev-shared", a.ID); !ok {
		t.Error("owner revoke failed")
	}
}

func TestQualificationTokenSingleUse(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	if _, err := d.CreateInviteCode(ctx, CreateInviteInput{Code: "QUALIFY"}); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	tok, err := d.CreateQualificationToken(ctx, "qualify", "dev-q", "cli")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if len(tok.Token) != 32 {
		t.Errorf("token length = %d, want 32", len(tok.Token))
	}
	u := createUser(t, d, "qualified")
	act, err := d.RedeemQualificationToken(ctx, tok.Token, u.ID)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if act.Code != "QUALIFY" {
		t.Errorf("activated code = %s", act.Code)
	}
	if _, err := d.ConsumeQualificationToken(ctx, tok.Token); !errors.Is(err, ErrTokenConsumed) {
		t.Errorf("second consume err = %v, want ErrTokenConsumed", err)
	}
	if b, err := d.GetDeviceBinding(ctx, "dev-q"); err != nil || b.UserID != u.ID {
		t.Errorf("device binding = %+v, %v", b, err)
	}
}

func TestVerificationCodeAttempts(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	if err := d.PutVerificationCode(ctx, "Me@Example.com", "hash-1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	wrong := func(string) bool { return false }
	for i := 0; i < MaxVerificationAttempts; i++ {
		if err := d.CheckVerificationCode(ctx, "me@example.com", wrong); !errors.Is(err, ErrNotFound) {
			t.Fatalf("attempt %d err = %v, want ErrNotFound", i, err)
		}
	}
	right := func(h string) bool { return h == "hash-1" }
	if err := d.CheckVerificationCode(ctx, "me@example.com", right); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("after max attempts err = %v, want ErrCodeExpired", err)
	}

	if err := d.PutVerificationCode(ctx, "me@example.com", "hash-2"); err != nil {
		t.Fatalf("put again: %v", err)
	}
	if err := d.CheckVerificationCode(ctx, "me@example.com", func(h string) bool { return h == "hash-2" }); err != nil {
		t.Fatalf("right code: %v", err)
	}
	if err := d.CheckVerificationCode(ctx, "me@example.com", right); !errors.Is(err, ErrNotFound) {
		t.Errorf("reuse err = %v, want ErrNotFound", err)
	}
}

func TestVerificationCompareHoldsNoConnection(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	if err := d.PutVerificationCode(ctx, "slow@example.com", "hash-1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	// The pool has a single connection; querying from match would block
	// until the deadline if the lookup still held it.
	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	match := func(h string) bool {
		var one int
		if err := d.QueryRowContext(qctx, `SELECT 1`).Scan(&one); err != nil {
			t.Errorf("query during compare: %v", err)
		}
		return h == "hash-1"
	}
	if err := d.CheckVerificationCode(ctx, "slow@example.com", match); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestVerificationReplacedDuringCompare(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	if err := d.PutVerificationCode(ctx, "race@example.com", "hash-old"); err != nil {
		t.Fatalf("put: %v", err)
	}
	match := func(h string) bool {
		if err := d.PutVerificationCode(ctx, "race@example.com", "hash-new"); err != nil {
			t.Errorf("replace: %v", err)
		}
		return h == "hash-old"
	}
	if err := d.CheckVerificationCode(ctx, "race@example.com", match); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale match err = %v, want ErrNotFound", err)
	}
	if err := d.CheckVerificationCode(ctx, "race@example.com", func(h string) bool { return h == "hash-new" }); err != nil {
		t.Errorf("new code rejected: %v", err)
	}
}
