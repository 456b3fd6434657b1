package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"insured-core/internal/ledger"
	"insured-core/internal/protocol"
)

func TestSignAndRecoverRoundtrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey)

	payload := []byte("submit:USDC:100.5")
	sig, err := SignPayload(key, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	caller, err := RecoverCaller(payload, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if caller.Address != want {
		t.Fatalf("recovered %s, want %s", caller.Address.Hex(), want.Hex())
	}
}

func TestRecoverRejectsTamperedPayload(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := SignPayload(key, []byte("submit:USDC:100"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	caller, err := RecoverCaller([]byte("submit:USDC:999"), sig)
	if err == nil && caller.Address == signer {
		t.Fatal("tampered payload must not recover the original signer")
	}
}

func TestGuardRoles(t *testing.T) {
	store := ledger.NewStore(ledger.NewManualClock(time.Unix(1700000000, 0)))
	guard := Guard{}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	caller := CallerFor(addr)

	err = store.Update(func(tx *ledger.Tx) error {
		if guard.HasRole(tx, addr, RoleClaimProcessor) {
			t.Fatal("role should not be granted yet")
		}
		if err := guard.Require(tx, caller, RoleClaimProcessor); !errors.Is(err, protocol.ErrUnauthorized) {
			t.Fatalf("expected Unauthorized, got %v", err)
		}

		guard.Grant(tx, addr, RoleClaimProcessor)
		if err := guard.Require(tx, caller, RoleClaimProcessor); err != nil {
			t.Fatalf("granted role should pass: %v", err)
		}
		if guard.HasRole(tx, addr, RoleAdmin) {
			t.Fatal("grant must not leak across roles")
		}

		guard.Revoke(tx, addr, RoleClaimProcessor)
		if guard.HasRole(tx, addr, RoleClaimProcessor) {
			t.Fatal("revoked role should no longer hold")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}
