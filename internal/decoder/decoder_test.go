package decoder

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/links234/streamcore/pkg/types"
)

func newTestDecoder() (*Decoder, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return New(logger), &buf
}

func TestDecodeBookEvent(t *testing.T) {
	t.Parallel()
	d, _ := newTestDecoder()

	raw := []byte(`{"event_type":"book","asset_id":"A1","market":"M1","hash":"h1",
		"buys":[{"price":"0.49","size":"50"},{"price":"0.0","size":"0"}],
		"sells":[{"price":"0.51","size":"30"}]}`)

	evt, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if evt == nil || evt.Kind != types.EventBook {
		t.Fatalf("got %+v, want book event", evt)
	}
	if len(evt.Book.Bids) != 1 {
		t.Fatalf("zero-size level should be dropped, got %d bids", len(evt.Book.Bids))
	}
	if evt.Book.AssetID != "A1" || evt.Book.Hash != "h1" {
		t.Fatalf("unexpected book fields: %+v", evt.Book)
	}
}

func TestDecodePriceChangeEvent(t *testing.T) {
	t.Parallel()
	d, _ := newTestDecoder()

	raw := []byte(`{"event_type":"price_change","market":"M1","hash":"h2",
		"price_changes":[{"asset_id":"A1","price":"0.5","size":"10","side":"BUY","best_bid":"0.5","best_ask":"0.52"}]}`)

	evt, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if evt.Kind != types.EventPriceChange {
		t.Fatalf("kind = %v, want price_change", evt.Kind)
	}
	if len(evt.PriceChangeSet.Changes) != 1 || evt.PriceChangeSet.Changes[0].Side != types.Buy {
		t.Fatalf("unexpected changes: %+v", evt.PriceChangeSet.Changes)
	}
}

func TestDecodeMalformedFrameReturnsDecodeError(t *testing.T) {
	t.Parallel()
	d, _ := newTestDecoder()

	raw := []byte(`{"event_type":"trade","asset_id":"A1","price":"not-a-number","size":"1","side":"BUY"}`)
	evt, err := d.Decode(raw)
	if evt != nil {
		t.Fatalf("expected nil event on decode failure, got %+v", evt)
	}
	var de *DecodeError
	if err == nil {
		t.Fatal("expected a DecodeError")
	}
	if !asDecodeError(err, &de) {
		t.Fatalf("error %v is not a *DecodeError", err)
	}
}

func asDecodeError(err error, target **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if ok {
		*target = de
	}
	return ok
}

func TestDecodeUnknownVariantIsNotAnError(t *testing.T) {
	t.Parallel()
	d, _ := newTestDecoder()

	raw := []byte(`{"event_type":"some_future_kind","foo":"bar"}`)
	evt, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("unknown variant should not error, got %v", err)
	}
	if evt != nil {
		t.Fatalf("unknown variant should yield no event, got %+v", evt)
	}
}

func TestDecodeNonJSONFrameIsIgnored(t *testing.T) {
	t.Parallel()
	d, _ := newTestDecoder()

	evt, err := d.Decode([]byte("PONG"))
	if err != nil || evt != nil {
		t.Fatalf("bare text frame should be silently ignored, got evt=%v err=%v", evt, err)
	}
}

func TestDecodeErrorCadenceDetailThenCoalesce(t *testing.T) {
	t.Parallel()
	d, _ := newTestDecoder()

	bad, _ := json.Marshal(map[string]string{"event_type": "trade", "asset_id": "A1", "price": "x", "size": "1", "side": "BUY"})
	var lastErr error
	for i := 0; i < 12; i++ {
		_, lastErr = d.Decode(bad)
	}
	if lastErr == nil {
		t.Fatal("expected errors to keep being returned past the logging cutover")
	}
	if d.errCount.Load() != 12 {
		t.Fatalf("errCount = %d, want 12", d.errCount.Load())
	}
}
