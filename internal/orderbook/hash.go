package orderbook

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/links234/streamcore/pkg/types"
)

// canonicalHash computes this implementation's canonical serialization
// of a book side pair and hashes it: bids sorted by price descending,
// asks sorted by price ascending, zero-size levels excluded, each price
// and size rendered via decimal.Decimal's fixed (non-exponent) string
// form, fields joined with ':' and levels joined with '|', sides joined
// with '#'.
//
// This is this implementation's own canonicalization, not a guarantee
// of byte-for-byte agreement with any particular exchange's server-side
// hash. Hash verification is therefore on by default but self-heals via
// a REST re-fetch on mismatch rather than treating a mismatch as fatal;
// operators who know their upstream's canonical form differs can set
// SkipHashVerification instead of chasing exact agreement.
func canonicalHash(bids, asks []types.PriceLevel) string {
	var b strings.Builder
	writeSide(&b, bids, true)
	b.WriteByte('#')
	writeSide(&b, asks, false)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeSide(b *strings.Builder, levels []types.PriceLevel, descending bool) {
	filtered := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Size.IsZero() || l.Size.IsNegative() {
			continue
		}
		filtered = append(filtered, l)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if descending {
			return filtered[i].Price.GreaterThan(filtered[j].Price)
		}
		return filtered[i].Price.LessThan(filtered[j].Price)
	})
	for i, l := range filtered {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(l.Price.String())
		b.WriteByte(':')
		b.WriteString(l.Size.String())
	}
}
