package policy

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"insured-core/internal/ledger"
	"insured-core/internal/protocol"
)

// Registry is the reference policy collaborator: issuance plus the
// read-only snapshot the claims engine takes at submission time.
type Registry struct {
	store  *ledger.Store
	logger zerolog.Logger
}

// New wires a registry onto the shared ledger store.
func New(store *ledger.Store, logger zerolog.Logger) *Registry {
	return &Registry{store: store, logger: logger.With().Str("component", "policy").Logger()}
}

func counterKey() ledger.Key { return ledger.Key{Space: "policy/counter"} }

func policyKey(id uint64) ledger.Key {
	return ledger.Key{Space: "policy/policy", ID: strconv.FormatUint(id, 10)}
}

// IssuePolicy records a policy and returns its id.
func (r *Registry) IssuePolicy(holder common.Address, coverage decimal.Decimal) (uint64, error) {
	var id uint64
	err := r.store.Update(func(tx *ledger.Tx) error {
		if coverage.Sign() <= 0 {
			return protocol.Errf(protocol.CodeInvalidInput, "coverage must be positive")
		}
		id = ledger.GetOr(tx, ledger.Persistent, counterKey(), uint64(0)) + 1
		ledger.Set(tx, ledger.Persistent, counterKey(), id)
		ledger.Set(tx, ledger.Persistent, policyKey(id), protocol.Policy{Holder: holder, Coverage: coverage})
		tx.Emit("policy", "policy.issued", map[string]string{
			"policy_id": strconv.FormatUint(id, 10),
			"holder":    holder.Hex(),
			"coverage":  coverage.String(),
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetPolicy returns the policy snapshot for the claims engine.
func (r *Registry) GetPolicy(tx *ledger.Tx, policyID uint64) (protocol.Policy, error) {
	pol, ok := ledger.Get[protocol.Policy](tx, ledger.Persistent, policyKey(policyID))
	if !ok {
		return protocol.Policy{}, protocol.Errf(protocol.CodeNotFound, "policy %d not found", policyID)
	}
	return pol, nil
}
