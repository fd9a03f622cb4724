package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// RoundUpAddCents returns the cents needed to round baseCents up to the next
// multiple of stepDollars*100. Steps below one dollar are treated as one
// dollar. Non-positive amounts round to nothing.
func RoundUpAddCents(baseCents, stepDollars int64) int64 {
	if baseCents <= 0 {
		return 0
	}
	if stepDollars < 1 {
		stepDollars = 1
	}
	stepCents := stepDollars * 100
	rem := baseCents % stepCents
	if rem == 0 {
		return 0
	}
	return stepCents - rem
}

// GrossUpCoverFees solves total = (base + flat) / (1 - pct) so the processor
// fee comes out of the donor's pocket instead of the net donation. Both the
// total and the fee are rounded half-up to the cent independently, which can
// leave them off by one cent from each other in edge cases.
func GrossUpCoverFees(baseCents int64, feePct float64, feeFlatCents int64) (totalCents, feeCents int64) {
	if baseCents <= 0 {
		return baseCents, 0
	}
	pct := decimal.NewFromFloat(feePct)
	if pct.GreaterThanOrEqual(decimal.NewFromInt(1)) || pct.IsNegative() {
		return baseCents, 0
	}

	base := decimal.NewFromInt(baseCents).Div(decimal.NewFromInt(100))
	flat := decimal.NewFromInt(feeFlatCents).Div(decimal.NewFromInt(100))
	divisor := decimal.NewFromInt(1).Sub(pct)

	total := base.Add(flat).DivRound(divisor, 8)
	fee := total.Sub(base)

	totalCents = total.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	feeCents = fee.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	return totalCents, feeCents
}

// FeeTerms are the knobs ComputeAmounts needs from the fee schedule.
type FeeTerms struct {
	Enabled           bool
	Percent           float64
	FlatCents         int64
	RoundUpStepDollar int64
	MaxAmountCents    int64
}

// ComputeAmounts applies the optional round-up first, then the fee gross-up
// on the rounded base, then clamps the total to the configured maximum.
func ComputeAmounts(terms FeeTerms, baseCents int64, coverFees, roundUp bool) AmountBreakdown {
	b := AmountBreakdown{BaseCents: baseCents, TotalCents: baseCents}
	if baseCents <= 0 {
		return b
	}

	if roundUp {
		b.RoundUpAddCents = RoundUpAddCents(baseCents, terms.RoundUpStepDollar)
		b.TotalCents = baseCents + b.RoundUpAddCents
	}

	if coverFees && terms.Enabled {
		total, fee := GrossUpCoverFees(b.TotalCents, terms.Percent, terms.FlatCents)
		b.TotalCents = total
		b.FeeCents = fee
	}

	if terms.MaxAmountCents > 0 && b.TotalCents > terms.MaxAmountCents {
		b.TotalCents = terms.MaxAmountCents
	}
	return b
}

// Amount sources reported back to clients.
const (
	AmountSourceCents   = "cents"
	AmountSourceDollars = "dollars"
)

// AmountInput carries the raw amount fields from a request. Cents take
// precedence; the dollar fields exist for older clients.
type AmountInput struct {
	AmountCents   *int64
	AmountDollars *float64
}

// ParseAmountCents resolves an amount to integer cents. Legacy dollar values
// are converted with half-up rounding.
func ParseAmountCents(in AmountInput) (int64, string, error) {
	if in.AmountCents != nil {
		cents := *in.AmountCents
		if cents <= 0 {
			return 0, "", fmt.Errorf("%w: amount_cents must be > 0", ErrAmountInvalid)
		}
		return cents, AmountSourceCents, nil
	}
	if in.AmountDollars != nil {
		dollars := decimal.NewFromFloat(*in.AmountDollars)
		cents := dollars.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
		if cents <= 0 {
			return 0, "", fmt.Errorf("%w: amount must be > 0", ErrAmountInvalid)
		}
		return cents, AmountSourceDollars, nil
	}
	return 0, "", fmt.Errorf("%w: amount is required", ErrAmountInvalid)
}

// ServerIdempotencyKey derives the provider idempotency key for an intent
// creation. The same donation, amount, currency and flags always hash to the
// same key, so a retried client request cannot create a second intent.
func ServerIdempotencyKey(donationID snowflake.ID, amountCents int64, currency string, coverFees, roundUp bool) string {
	payload := strings.Join([]string{
		donationID.String(),
		strconv.FormatInt(amountCents, 10),
		strings.ToLower(currency),
		strconv.FormatBool(coverFees),
		strconv.FormatBool(roundUp),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return "ff_pi_" + hex.EncodeToString(sum[:])[:48]
}
