package claims

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"insured-core/internal/auth"
	"insured-core/internal/ledger"
	"insured-core/internal/protocol"
)

const emitter = "claims"

// Engine drives the claim lifecycle: Submitted → UnderReview →
// {Approved → Settled, Rejected}, with every transition validated against
// the central table before any mutation.
type Engine struct {
	store    *ledger.Store
	policies PolicyReader
	pool     RiskPool
	oracle   OracleValidator
	guard    auth.Guard
	logger   zerolog.Logger
}

// New wires the engine onto the shared ledger. oracle may be nil when
// approval gating is never enabled.
func New(store *ledger.Store, policies PolicyReader, pool RiskPool, oracle OracleValidator, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		policies: policies,
		pool:     pool,
		oracle:   oracle,
		logger:   logger.With().Str("component", "claims").Logger(),
	}
}

func adminKey() ledger.Key     { return ledger.Key{Space: "claims/admin"} }
func pausedKey() ledger.Key    { return ledger.Key{Space: "claims/paused"} }
func contractsKey() ledger.Key { return ledger.Key{Space: "claims/contracts"} }
func counterKey() ledger.Key   { return ledger.Key{Space: "claims/counter"} }
func claimListKey() ledger.Key { return ledger.Key{Space: "claims/list"} }
func oracleCfgKey() ledger.Key { return ledger.Key{Space: "claims/oracle_config"} }

func claimKey(id uint64) ledger.Key {
	return ledger.Key{Space: "claims/claim", ID: strconv.FormatUint(id, 10)}
}

func policyClaimKey(policyID uint64) ledger.Key {
	return ledger.Key{Space: "claims/policy_claim", ID: strconv.FormatUint(policyID, 10)}
}

// contracts records the collaborator addresses fixed at initialization.
type contracts struct {
	PolicyContract common.Address
	RiskPool       common.Address
}

// Initialize records the admin and collaborator addresses. Callable once.
func (e *Engine) Initialize(admin, policyContract, riskPool common.Address) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if tx.Has(ledger.Instance, adminKey()) {
			return protocol.Errf(protocol.CodeAlreadyInitialized, "claims already initialized")
		}
		ledger.Set(tx, ledger.Instance, adminKey(), admin)
		ledger.Set(tx, ledger.Instance, contractsKey(), contracts{PolicyContract: policyContract, RiskPool: riskPool})
		ledger.Set(tx, ledger.Instance, pausedKey(), false)
		return nil
	})
}

func requireAdmin(tx *ledger.Tx, caller auth.Caller) error {
	admin, ok := ledger.Get[common.Address](tx, ledger.Instance, adminKey())
	if !ok {
		return protocol.Errf(protocol.CodeNotInitialized, "claims not initialized")
	}
	if caller.Address != admin {
		return protocol.Errf(protocol.CodeUnauthorized, "%s is not admin", caller.Address.Hex())
	}
	return nil
}

// AddProcessor grants the claim-processor role. Admin only.
func (e *Engine) AddProcessor(caller auth.Caller, processor common.Address) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		e.guard.Grant(tx, processor, auth.RoleClaimProcessor)
		tx.Emit(emitter, "claims.processor_added", map[string]string{"processor": processor.Hex()})
		return nil
	})
}

// RemoveProcessor revokes the claim-processor role. Admin only.
func (e *Engine) RemoveProcessor(caller auth.Caller, processor common.Address) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		e.guard.Revoke(tx, processor, auth.RoleClaimProcessor)
		tx.Emit(emitter, "claims.processor_removed", map[string]string{"processor": processor.Hex()})
		return nil
	})
}

// SetOracleConfig enables or disables consensus gating of approvals.
// Admin only.
func (e *Engine) SetOracleConfig(caller auth.Caller, oracleContract common.Address, requireValidation bool, minSubmissions int) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		if requireValidation && minSubmissions <= 0 {
			return protocol.Errf(protocol.CodeInvalidInput, "min submissions must be positive when validation is required")
		}
		ledger.Set(tx, ledger.Persistent, oracleCfgKey(), protocol.OracleValidationConfig{
			OracleContract:          oracleContract,
			RequireOracleValidation: requireValidation,
			MinOracleSubmissions:    minSubmissions,
		})
		return nil
	})
}

// SubmitClaim opens a claim against a policy. One active claim per policy;
// the amount must not exceed the policy coverage.
func (e *Engine) SubmitClaim(caller auth.Caller, policyID uint64, amount decimal.Decimal) (uint64, error) {
	var claimID uint64
	err := e.store.Update(func(tx *ledger.Tx) error {
		if !tx.Has(ledger.Instance, adminKey()) {
			return protocol.Errf(protocol.CodeNotInitialized, "claims not initialized")
		}
		if ledger.GetOr(tx, ledger.Instance, pausedKey(), false) {
			return protocol.Errf(protocol.CodePaused, "claims are paused")
		}

		pol, err := e.policies.GetPolicy(tx, policyID)
		if err != nil {
			return err
		}
		if pol.Holder != caller.Address {
			return protocol.Errf(protocol.CodeUnauthorized, "%s does not hold policy %d", caller.Address.Hex(), policyID)
		}
		if tx.Has(ledger.Persistent, policyClaimKey(policyID)) {
			return protocol.Errf(protocol.CodeAlreadyExists, "policy %d already has an active claim", policyID)
		}
		if amount.Sign() <= 0 || amount.GreaterThan(pol.Coverage) {
			return protocol.Errf(protocol.CodeInvalidInput, "amount must be positive and within coverage %s", pol.Coverage.String())
		}

		claimID = ledger.GetOr(tx, ledger.Persistent, counterKey(), uint64(0)) + 1
		ledger.Set(tx, ledger.Persistent, counterKey(), claimID)

		claim := protocol.Claim{
			ID:          claimID,
			PolicyID:    policyID,
			Claimant:    caller.Address,
			Amount:      amount,
			Status:      protocol.ClaimSubmitted,
			SubmittedAt: tx.Now(),
		}
		ledger.Set(tx, ledger.Persistent, claimKey(claimID), claim)
		ledger.Set(tx, ledger.Persistent, policyClaimKey(policyID), claimID)

		list := ledger.GetOr(tx, ledger.Persistent, claimListKey(), []uint64{})
		next := make([]uint64, 0, len(list)+1)
		next = append(next, list...)
		next = append(next, claimID)
		ledger.Set(tx, ledger.Persistent, claimListKey(), next)

		tx.Emit(emitter, "claims.submitted", claimAttrs(claim))
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info().Uint64("claim_id", claimID).Uint64("policy_id", policyID).Msg("claim submitted")
	return claimID, nil
}

// StartReview moves a submitted claim under review. Processor only.
func (e *Engine) StartReview(caller auth.Caller, claimID uint64) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := e.guard.Require(tx, caller, auth.RoleClaimProcessor); err != nil {
			return err
		}
		claim, err := loadClaim(tx, claimID)
		if err != nil {
			return err
		}
		return transition(tx, claim, protocol.ClaimUnderReview)
	})
}

// ApproveClaim approves a claim under review. When oracle gating is
// configured, a fresh consensus data id must be supplied and meet the
// minimum submission count; liquidity is reserved in the risk pool before
// the state commit.
func (e *Engine) ApproveClaim(caller auth.Caller, claimID uint64, oracleDataID string) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := e.guard.Require(tx, caller, auth.RoleClaimProcessor); err != nil {
			return err
		}
		claim, err := loadClaim(tx, claimID)
		if err != nil {
			return err
		}
		if !protocol.CanTransition(claim.Status, protocol.ClaimApproved) {
			return invalidTransition(claim, protocol.ClaimApproved)
		}

		cfg, hasCfg := ledger.Get[protocol.OracleValidationConfig](tx, ledger.Persistent, oracleCfgKey())
		if hasCfg && cfg.RequireOracleValidation {
			if oracleDataID == "" {
				return protocol.Errf(protocol.CodeInvalidInput, "oracle data id required for approval")
			}
			if e.oracle == nil {
				return protocol.Errf(protocol.CodeNotInitialized, "oracle validator not wired")
			}
			count := e.oracle.SubmissionCount(tx, oracleDataID)
			if count < cfg.MinOracleSubmissions {
				return protocol.Errf(protocol.CodeInsufficientOracleSubmissions,
					"%d oracle submissions for %s, need %d", count, oracleDataID, cfg.MinOracleSubmissions)
			}
		}

		if err := e.pool.ReserveLiquidity(tx, claimID, claim.Amount); err != nil {
			return err
		}
		return transition(tx, claim, protocol.ClaimApproved)
	})
}

// RejectClaim rejects a claim under review. Processor only.
func (e *Engine) RejectClaim(caller auth.Caller, claimID uint64) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := e.guard.Require(tx, caller, auth.RoleClaimProcessor); err != nil {
			return err
		}
		claim, err := loadClaim(tx, claimID)
		if err != nil {
			return err
		}
		return transition(tx, claim, protocol.ClaimRejected)
	})
}

// SettleClaim pays out the reserved funds and records Settled. The payout
// and the state write commit or roll back together; Settled is never
// recorded without a successful payout.
func (e *Engine) SettleClaim(caller auth.Caller, claimID uint64) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := e.guard.Require(tx, caller, auth.RoleClaimProcessor); err != nil {
			return err
		}
		claim, err := loadClaim(tx, claimID)
		if err != nil {
			return err
		}
		if !protocol.CanTransition(claim.Status, protocol.ClaimSettled) {
			return invalidTransition(claim, protocol.ClaimSettled)
		}
		if err := e.pool.PayoutReservedClaim(tx, claimID, claim.Claimant); err != nil {
			return err
		}
		return transition(tx, claim, protocol.ClaimSettled)
	})
}

// Pause stops claim submission. Review operations stay available.
func (e *Engine) Pause(caller auth.Caller) error {
	return e.setPaused(caller, true)
}

// Unpause resumes claim submission.
func (e *Engine) Unpause(caller auth.Caller) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller auth.Caller, paused bool) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		ledger.Set(tx, ledger.Instance, pausedKey(), paused)
		return nil
	})
}

func loadClaim(tx *ledger.Tx, claimID uint64) (protocol.Claim, error) {
	claim, ok := ledger.Get[protocol.Claim](tx, ledger.Persistent, claimKey(claimID))
	if !ok {
		return protocol.Claim{}, protocol.Errf(protocol.CodeNotFound, "claim %d not found", claimID)
	}
	return claim, nil
}

// transition validates the edge against the central table, persists the
// new status, and emits the lifecycle event.
func transition(tx *ledger.Tx, claim protocol.Claim, to protocol.ClaimStatus) error {
	if !protocol.CanTransition(claim.Status, to) {
		return invalidTransition(claim, to)
	}
	claim.Status = to
	ledger.Set(tx, ledger.Persistent, claimKey(claim.ID), claim)
	tx.Emit(emitter, "claims."+to.String(), claimAttrs(claim))
	return nil
}

func invalidTransition(claim protocol.Claim, to protocol.ClaimStatus) error {
	return protocol.Errf(protocol.CodeInvalidState,
		"claim %d: cannot move from %s to %s", claim.ID, claim.Status, to)
}

func claimAttrs(claim protocol.Claim) map[string]string {
	return map[string]string{
		"claim_id":  strconv.FormatUint(claim.ID, 10),
		"policy_id": strconv.FormatUint(claim.PolicyID, 10),
		"claimant":  claim.Claimant.Hex(),
		"amount":    claim.Amount.String(),
		"status":    claim.Status.String(),
	}
}
