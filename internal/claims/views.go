package claims

import (
	"insured-core/internal/ledger"
	"insured-core/internal/protocol"
)

// GetClaim returns the read-only projection of one claim.
func (e *Engine) GetClaim(claimID uint64) (protocol.ClaimView, error) {
	var view protocol.ClaimView
	err := e.store.View(func(tx *ledger.Tx) error {
		claim, err := loadClaim(tx, claimID)
		if err != nil {
			return err
		}
		view = claim.View()
		return nil
	})
	if err != nil {
		return protocol.ClaimView{}, err
	}
	return view, nil
}

// GetClaimsPaginated slices the append-only claim list. The page size is
// capped at protocol.MaxPageSize; a limit of 0 uses the cap.
func (e *Engine) GetClaimsPaginated(start, limit int) (protocol.PaginatedClaimsResult, error) {
	var result protocol.PaginatedClaimsResult
	err := e.store.View(func(tx *ledger.Tx) error {
		list := ledger.GetOr(tx, ledger.Persistent, claimListKey(), []uint64{})
		result.TotalCount = len(list)
		result.Claims = []protocol.ClaimView{}

		limit = protocol.EffectivePageSize(limit)
		if start < 0 || start >= len(list) {
			return nil
		}
		end := start + limit
		if end > len(list) {
			end = len(list)
		}
		for _, id := range list[start:end] {
			claim, err := loadClaim(tx, id)
			if err != nil {
				return err
			}
			result.Claims = append(result.Claims, claim.View())
		}
		return nil
	})
	if err != nil {
		return protocol.PaginatedClaimsResult{}, err
	}
	return result, nil
}

// GetClaimsByStatus pages through claims in a given status, in submission
// order. TotalCount is the number of claims matching the status.
func (e *Engine) GetClaimsByStatus(status protocol.ClaimStatus, start, limit int) (protocol.PaginatedClaimsResult, error) {
	var result protocol.PaginatedClaimsResult
	err := e.store.View(func(tx *ledger.Tx) error {
		list := ledger.GetOr(tx, ledger.Persistent, claimListKey(), []uint64{})
		result.Claims = []protocol.ClaimView{}

		limit = protocol.EffectivePageSize(limit)
		matched := 0
		for _, id := range list {
			claim, err := loadClaim(tx, id)
			if err != nil {
				return err
			}
			if claim.Status != status {
				continue
			}
			if matched >= start && len(result.Claims) < limit {
				result.Claims = append(result.Claims, claim.View())
			}
			matched++
		}
		result.TotalCount = matched
		return nil
	})
	if err != nil {
		return protocol.PaginatedClaimsResult{}, err
	}
	return result, nil
}
