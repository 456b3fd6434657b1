package auth

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"insured-core/internal/ledger"
	"insured-core/internal/protocol"
)

// Caller is an authenticated identity. Engines receive a Caller only after
// the transport boundary has verified a signature over the call payload.
type Caller struct {
	Address common.Address
}

// CallerFor wraps an already-trusted address, e.g. inside tests or when the
// process itself holds the key.
func CallerFor(addr common.Address) Caller {
	return Caller{Address: addr}
}

// SignPayload signs the keccak digest of payload with the caller's key.
func SignPayload(key *ecdsa.PrivateKey, payload []byte) ([]byte, error) {
	sig, err := crypto.Sign(crypto.Keccak256(payload), key)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	return sig, nil
}

// RecoverCaller verifies sig over payload and recovers the signing address.
func RecoverCaller(payload, sig []byte) (Caller, error) {
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), sig)
	if err != nil {
		return Caller{}, fmt.Errorf("recover signer: %w", err)
	}
	return Caller{Address: crypto.PubkeyToAddress(*pub)}, nil
}

// Role names an authorization class checked before state mutations.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleClaimProcessor  Role = "claim_processor"
	RoleTrustedContract Role = "trusted_contract"
)

func roleKey(role Role, addr common.Address) ledger.Key {
	return ledger.Key{Space: "auth/role", ID: string(role) + "/" + addr.Hex()}
}

// Guard is the single policy-check capability shared by the engines.
// Role grants live in instance storage on the same ledger the engines use,
// so grants and the mutations they authorize commit atomically.
type Guard struct{}

// Grant records a role for addr.
func (Guard) Grant(tx *ledger.Tx, addr common.Address, role Role) {
	ledger.Set(tx, ledger.Instance, roleKey(role, addr), true)
}

// Revoke removes a role from addr.
func (Guard) Revoke(tx *ledger.Tx, addr common.Address, role Role) {
	tx.Delete(ledger.Instance, roleKey(role, addr))
}

// HasRole reports whether addr holds role.
func (Guard) HasRole(tx *ledger.Tx, addr common.Address, role Role) bool {
	return ledger.GetOr(tx, ledger.Instance, roleKey(role, addr), false)
}

// Require fails with Unauthorized unless the caller holds role.
func (g Guard) Require(tx *ledger.Tx, caller Caller, role Role) error {
	if !g.HasRole(tx, caller.Address, role) {
		return protocol.Errf(protocol.CodeUnauthorized, "%s lacks role %s", caller.Address.Hex(), role)
	}
	return nil
}
