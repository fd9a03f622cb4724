package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
)

func TestRoundUpAddCents(t *testing.T) {
	tests := []struct {
		name string
		base int64
		step int64
		want int64
	}{
		{name: "mid step", base: 1250, step: 5, want: 250},
		{name: "just over boundary", base: 501, step: 5, want: 499},
		{name: "already aligned", base: 1500, step: 5, want: 0},
		{name: "one cent", base: 1, step: 5, want: 499},
		{name: "zero", base: 0, step: 5, want: 0},
		{name: "negative", base: -700, step: 5, want: 0},
		{name: "step below one dollar treated as one", base: 151, step: 0, want: 49},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RoundUpAddCents(tc.base, tc.step)
			if got != tc.want {
				t.Fatalf("RoundUpAddCents(%d, %d) = %d, want %d", tc.base, tc.step, got, tc.want)
			}
		})
	}
}

func TestRoundUpAddCentsProperties(t *testing.T) {
	const step = int64(5)
	stepCents := step * 100
	for base := int64(1); base <= 3*stepCents; base++ {
		add := RoundUpAddCents(base, step)
		if add < 0 || add >= stepCents {
			t.Fatalf("base %d: add %d outside [0, %d)", base, add, stepCents)
		}
		if (base+add)%stepCents != 0 {
			t.Fatalf("base %d: total %d not a multiple of %d", base, base+add, stepCents)
		}
	}
}

func TestGrossUpCoverFees(t *testing.T) {
	totalCents, feeCents := GrossUpCoverFees(1000, 0.029, 30)

	// total - fee must leave the original base intact
	if totalCents-feeCents != 1000 {
		t.Fatalf("net %d, want 1000 (total=%d fee=%d)", totalCents-feeCents, totalCents, feeCents)
	}

	// (10.00 + 0.30) / 0.971 = 10.6076... so 1061 cents
	if totalCents != 1061 {
		t.Fatalf("total %d, want 1061", totalCents)
	}
	if feeCents != 61 {
		t.Fatalf("fee %d, want 61", feeCents)
	}
}

func TestGrossUpCoverFeesDegenerate(t *testing.T) {
	if total, fee := GrossUpCoverFees(0, 0.029, 30); total != 0 || fee != 0 {
		t.Fatalf("zero base: got total=%d fee=%d", total, fee)
	}
	if total, fee := GrossUpCoverFees(1000, 1.0, 30); total != 1000 || fee != 0 {
		t.Fatalf("pct >= 1 should be a no-op: got total=%d fee=%d", total, fee)
	}
	if total, fee := GrossUpCoverFees(1000, -0.1, 30); total != 1000 || fee != 0 {
		t.Fatalf("negative pct should be a no-op: got total=%d fee=%d", total, fee)
	}
}

func TestComputeAmounts(t *testing.T) {
	terms := FeeTerms{
		Enabled:           true,
		Percent:           0.029,
		FlatCents:         30,
		RoundUpStepDollar: 5,
		MaxAmountCents:    2_500_000,
	}

	t.Run("plain", func(t *testing.T) {
		b := ComputeAmounts(terms, 1200, false, false)
		if b.TotalCents != 1200 || b.FeeCents != 0 || b.RoundUpAddCents != 0 {
			t.Fatalf("unexpected breakdown: %+v", b)
		}
	})

	t.Run("round up only", func(t *testing.T) {
		b := ComputeAmounts(terms, 1200, false, true)
		if b.RoundUpAddCents != 300 {
			t.Fatalf("round up add %d, want 300", b.RoundUpAddCents)
		}
		if b.TotalCents != 1500 {
			t.Fatalf("total %d, want 1500", b.TotalCents)
		}
	})

	t.Run("round up then gross up", func(t *testing.T) {
		b := ComputeAmounts(terms, 1200, true, true)
		if b.RoundUpAddCents != 300 {
			t.Fatalf("round up add %d, want 300", b.RoundUpAddCents)
		}
		// gross-up runs on the rounded 1500, not the raw 1200
		if b.TotalCents-b.FeeCents != 1500 {
			t.Fatalf("net %d, want 1500 (total=%d fee=%d)", b.TotalCents-b.FeeCents, b.TotalCents, b.FeeCents)
		}
	})

	t.Run("fees disabled", func(t *testing.T) {
		off := terms
		off.Enabled = false
		b := ComputeAmounts(off, 1200, true, false)
		if b.FeeCents != 0 || b.TotalCents != 1200 {
			t.Fatalf("unexpected breakdown with fees disabled: %+v", b)
		}
	})

	t.Run("clamped to max", func(t *testing.T) {
		b := ComputeAmounts(terms, 2_499_999, true, false)
		if b.TotalCents != terms.MaxAmountCents {
			t.Fatalf("total %d, want clamp at %d", b.TotalCents, terms.MaxAmountCents)
		}
	})
}

func TestParseAmountCents(t *testing.T) {
	cents := func(v int64) *int64 { return &v }
	dollars := func(v float64) *float64 { return &v }

	t.Run("cents", func(t *testing.T) {
		got, source, err := ParseAmountCents(AmountInput{AmountCents: cents(2500)})
		if err != nil {
			t.Fatalf("parse cents: %v", err)
		}
		if got != 2500 || source != AmountSourceCents {
			t.Fatalf("got %d/%s, want 2500/%s", got, source, AmountSourceCents)
		}
	})

	t.Run("dollars", func(t *testing.T) {
		got, source, err := ParseAmountCents(AmountInput{AmountDollars: dollars(25.00)})
		if err != nil {
			t.Fatalf("parse dollars: %v", err)
		}
		if got != 2500 || source != AmountSourceDollars {
			t.Fatalf("got %d/%s, want 2500/%s", got, source, AmountSourceDollars)
		}
	})

	t.Run("cents win over dollars", func(t *testing.T) {
		got, source, err := ParseAmountCents(AmountInput{AmountCents: cents(700), AmountDollars: dollars(99)})
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if got != 700 || source != AmountSourceCents {
			t.Fatalf("got %d/%s, want 700/%s", got, source, AmountSourceCents)
		}
	})

	t.Run("fractional dollars round half up", func(t *testing.T) {
		got, _, err := ParseAmountCents(AmountInput{AmountDollars: dollars(10.005)})
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if got != 1001 {
			t.Fatalf("got %d, want 1001", got)
		}
	})

	for _, tc := range []struct {
		name string
		in   AmountInput
	}{
		{name: "zero cents", in: AmountInput{AmountCents: cents(0)}},
		{name: "negative cents", in: AmountInput{AmountCents: cents(-5)}},
		{name: "zero dollars", in: AmountInput{AmountDollars: dollars(0)}},
		{name: "missing", in: AmountInput{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseAmountCents(tc.in)
			if !errors.Is(err, ErrAmountInvalid) {
				t.Fatalf("expected ErrAmountInvalid, got %v", err)
			}
		})
	}
}

func TestServerIdempotencyKey(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	id := node.Generate()

	key := ServerIdempotencyKey(id, 1500, "USD", true, false)
	if !strings.HasPrefix(key, "ff_pi_") {
		t.Fatalf("key %q missing prefix", key)
	}
	if len(key) != len("ff_pi_")+48 {
		t.Fatalf("key length %d, want %d", len(key), len("ff_pi_")+48)
	}

	// stable across calls and case-insensitive on currency
	if again := ServerIdempotencyKey(id, 1500, "usd", true, false); again != key {
		t.Fatalf("key not stable: %q vs %q", key, again)
	}

	// every argument must change the key
	variants := []string{
		ServerIdempotencyKey(node.Generate(), 1500, "usd", true, false),
		ServerIdempotencyKey(id, 1501, "usd", true, false),
		ServerIdempotencyKey(id, 1500, "eur", true, false),
		ServerIdempotencyKey(id, 1500, "usd", false, false),
		ServerIdempotencyKey(id, 1500, "usd", true, true),
	}
	for i, v := range variants {
		if v == key {
			t.Fatalf("variant %d did not change the key", i)
		}
	}
}
