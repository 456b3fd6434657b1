package app

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"insured-core/internal/auth"
)

// SimulateRound feeds one synthetic submission per price through the signed
// submission path and prints the resulting consensus.
func (a *App) SimulateRound(ctx context.Context, asset string, prices []decimal.Decimal) error {
	if asset == "" {
		return fmt.Errorf("asset must be provided")
	}
	if len(prices) == 0 {
		return fmt.Errorf("at least one price must be provided")
	}

	engines, err := a.buildEngines()
	if err != nil {
		return err
	}

	for i, price := range prices {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate source key: %w", err)
		}
		source := crypto.PubkeyToAddress(key.PublicKey)

		if err := engines.Oracle.AddSource(engines.Governance, source); err != nil {
			return fmt.Errorf("add source %d: %w", i, err)
		}

		payload := []byte(fmt.Sprintf("%s:%s", asset, price.String()))
		sig, err := auth.SignPayload(key, payload)
		if err != nil {
			return fmt.Errorf("sign submission %d: %w", i, err)
		}
		caller, err := auth.RecoverCaller(payload, sig)
		if err != nil {
			return fmt.Errorf("recover submitter %d: %w", i, err)
		}

		if err := engines.Oracle.SubmitPrice(caller, asset, price, 100); err != nil {
			return fmt.Errorf("submit price %s: %w", price, err)
		}
		fmt.Fprintf(os.Stdout, "submitted %s from %s\n", price, caller.Address.Hex())
	}

	result := engines.Oracle.EvaluateConsensus(asset)
	if !result.IsValid {
		fmt.Fprintf(os.Stdout, "consensus not reached: %d sources, deviation %s bps\n",
			result.SourcesUsed, result.DeviationBps)
		return nil
	}

	fmt.Fprintf(os.Stdout, "consensus price: %s (%d sources, deviation %s bps)\n",
		result.Price, result.SourcesUsed, result.DeviationBps)

	stored, err := engines.Oracle.GetPrice(asset)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "read path serves: %s (anomaly=%t)\n", stored, engines.Oracle.IsAnomaly(asset))
	return nil
}

// SimulateClaim walks one claim through its whole lifecycle against the
// in-process engines and prints each step.
func (a *App) SimulateClaim(ctx context.Context, coverage, amount decimal.Decimal) error {
	engines, err := a.buildEngines()
	if err != nil {
		return err
	}

	holderKey, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate holder key: %w", err)
	}
	holder := crypto.PubkeyToAddress(holderKey.PublicKey)

	policyID, err := engines.Policies.IssuePolicy(holder, coverage)
	if err != nil {
		return fmt.Errorf("issue policy: %w", err)
	}
	fmt.Fprintf(os.Stdout, "policy %d issued to %s with coverage %s\n", policyID, holder.Hex(), coverage)

	funding := coverage.Mul(decimal.NewFromInt(2))
	if err := engines.Pool.Deposit(engines.Admin, funding); err != nil {
		return fmt.Errorf("fund risk pool: %w", err)
	}
	fmt.Fprintf(os.Stdout, "risk pool funded with %s\n", funding)

	processor := engines.Admin
	if err := engines.Claims.AddProcessor(engines.Admin, processor.Address); err != nil {
		return fmt.Errorf("add processor: %w", err)
	}

	payload := []byte(fmt.Sprintf("claim:%d:%s", policyID, amount.String()))
	sig, err := auth.SignPayload(holderKey, payload)
	if err != nil {
		return fmt.Errorf("sign claim: %w", err)
	}
	claimant, err := auth.RecoverCaller(payload, sig)
	if err != nil {
		return fmt.Errorf("recover claimant: %w", err)
	}

	claimID, err := engines.Claims.SubmitClaim(claimant, policyID, amount)
	if err != nil {
		return fmt.Errorf("submit claim: %w", err)
	}
	fmt.Fprintf(os.Stdout, "claim %d submitted for %s\n", claimID, amount)

	if err := engines.Claims.StartReview(processor, claimID); err != nil {
		return fmt.Errorf("start review: %w", err)
	}
	fmt.Fprintln(os.Stdout, "claim moved under review")

	oracleDataID := ""
	if a.Config.Claims.RequireOracleValidation {
		oracleDataID = a.primaryAsset()
		if err := a.seedOracleSubmissions(engines, oracleDataID); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "oracle submissions seeded for %s\n", oracleDataID)
	}

	if err := engines.Claims.ApproveClaim(processor, claimID, oracleDataID); err != nil {
		return fmt.Errorf("approve claim: %w", err)
	}
	fmt.Fprintf(os.Stdout, "claim approved, %s reserved (pool reserved total: %s)\n",
		amount, engines.Pool.TotalReserved())

	if err := engines.Claims.SettleClaim(processor, claimID); err != nil {
		return fmt.Errorf("settle claim: %w", err)
	}

	view, err := engines.Claims.GetClaim(claimID)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "claim settled: status=%s pool balance=%s reserved=%s\n",
		view.Status, engines.Pool.Balance(), engines.Pool.TotalReserved())
	return nil
}

func (a *App) primaryAsset() string {
	if len(a.Config.Oracle.Assets) > 0 {
		return a.Config.Oracle.Assets[0]
	}
	return "USDC"
}

// seedOracleSubmissions posts enough fresh prices to satisfy the approval
// gate's minimum submission count.
func (a *App) seedOracleSubmissions(engines *Engines, asset string) error {
	min := a.Config.Claims.MinOracleSubmissions
	price := decimal.NewFromInt(100)
	for i := 0; i < min; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate oracle key: %w", err)
		}
		source := crypto.PubkeyToAddress(key.PublicKey)
		if err := engines.Oracle.AddSource(engines.Governance, source); err != nil {
			return fmt.Errorf("add oracle source: %w", err)
		}
		if err := engines.Oracle.SubmitPrice(auth.CallerFor(source), asset, price, 100); err != nil {
			return fmt.Errorf("seed submission: %w", err)
		}
	}
	return nil
}
