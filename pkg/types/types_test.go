package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		side Side
		want bool
	}{
		{Buy, true},
		{Sell, true},
		{Side("HOLD"), false},
		{Side(""), false},
	}

	for _, tt := range tests {
		if got := tt.side.Valid(); got != tt.want {
			t.Errorf("Side(%q).Valid() = %v, want %v", tt.side, got, tt.want)
		}
	}
}

func TestPriceLevelString(t *testing.T) {
	t.Parallel()

	lvl := PriceLevel{
		Price: decimal.RequireFromString("0.49"),
		Size:  decimal.RequireFromString("50"),
	}
	want := "50@0.49"
	if got := lvl.String(); got != want {
		t.Errorf("PriceLevel.String() = %q, want %q", got, want)
	}
}

func TestOrderResolutionConstants(t *testing.T) {
	t.Parallel()

	// Guard against accidental typo/renames; resolutions surface by
	// their string value, e.g. in SimpleStrategy's order-resolved log.
	if ResolutionPending != "pending" || ResolutionAccepted != "accepted" ||
		ResolutionRejected != "rejected" || ResolutionSuperseded != "superseded" {
		t.Fatal("OrderResolution constant values changed")
	}
}
