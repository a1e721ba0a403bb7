package orderbook

import "fmt"

// HashMismatchError reports that a server-supplied hash does not match
// this book's own canonical hash of the same data.
type HashMismatchError struct {
	AssetID string
	Want    string
	Got     string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("asset %s: hash mismatch: server=%s local=%s", e.AssetID, e.Want, e.Got)
}

// CrossedBookError reports that validateAndClean found (and fixed) a
// best bid at or above the best ask.
type CrossedBookError struct {
	AssetID  string
	BestBid  string
	BestAsk  string
}

func (e *CrossedBookError) Error() string {
	return fmt.Sprintf("asset %s: crossed book: best_bid=%s best_ask=%s", e.AssetID, e.BestBid, e.BestAsk)
}
