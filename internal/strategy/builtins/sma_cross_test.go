package builtins

import (
	"context"
	"testing"
	"time"

	"tradedesk/internal/domain"
)

func feedCloses(t *testing.T, s *SMACross, symbol string, closes []float64) []domain.Signal {
	t.Helper()
	ctx := context.Background()
	var all []domain.Signal
	ts := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		sigs, err := s.OnBar(ctx, domain.Bar{
			Symbol:    symbol,
			Timestamp: ts.AddDate(0, 0, i),
			Close:     c,
		})
		if err != nil {
			t.Fatalf("OnBar(%d): %v", i, err)
		}
		all = append(all, sigs...)
	}
	return all
}

func TestSMACrossInitValidation(t *testing.T) {
	if err := NewSMACross(0, 10).Init(context.Background()); err == nil {
		t.Error("zero short period should fail Init")
	}
	if err := NewSMACross(10, 5).Init(context.Background()); err == nil {
		t.Error("long <= short should fail Init")
	}
	if err := NewSMACross(2, 4).Init(context.Background()); err != nil {
		t.Errorf("valid periods failed Init: %v", err)
	}
}

func TestSMACrossSignalsOnCrossover(t *testing.T) {
	s := NewSMACross(2, 4)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Flat, then rally (short SMA crosses above), then slump (crosses below).
	closes := []float64{10, 10, 10, 10, 10, 14, 18, 22, 18, 10, 6, 4}
	sigs := feedCloses(t, s, "AAPL", closes)

	if len(sigs) < 2 {
		t.Fatalf("signals = %d, want at least a buy and a sell", len(sigs))
	}
	if sigs[0].Type != domain.SignalTypeBuy {
		t.Errorf("first signal = %s, want buy on upward cross", sigs[0].Type)
	}
	var sawSell bool
	for _, sig := range sigs[1:] {
		if sig.Type == domain.SignalTypeSell {
			sawSell = true
		}
	}
	if !sawSell {
		t.Error("no sell signal on downward cross")
	}
}

func TestSMACrossNoSignalWithoutHistory(t *testing.T) {
	s := NewSMACross(2, 4)
	sigs := feedCloses(t, s, "AAPL", []float64{10, 11, 12})
	if len(sigs) != 0 {
		t.Errorf("signals = %d before long period filled, want 0", len(sigs))
	}
}

func TestSMACrossTracksSymbolsIndependently(t *testing.T) {
	s := NewSMACross(2, 4)

	// AAPL trends up, MSFT stays flat. Only AAPL should signal.
	up := []float64{10, 10, 10, 10, 12, 15, 19}
	flat := []float64{50, 50, 50, 50, 50, 50, 50}

	aapl := feedCloses(t, s, "AAPL", up)
	msft := feedCloses(t, s, "MSFT", flat)

	if len(aapl) == 0 {
		t.Error("no signal for trending symbol")
	}
	if len(msft) != 0 {
		t.Errorf("flat symbol produced %d signals, want 0", len(msft))
	}
}

func TestBuyHoldBuysOncePerSymbol(t *testing.T) {
	b := NewBuyHold()
	ctx := context.Background()
	ts := time.Now()

	sigs, err := b.OnBar(ctx, domain.Bar{Symbol: "AAPL", Timestamp: ts, Close: 100})
	if err != nil || len(sigs) != 1 || sigs[0].Type != domain.SignalTypeBuy {
		t.Fatalf("first bar: sigs=%v err=%v, want one buy", sigs, err)
	}

	sigs, _ = b.OnBar(ctx, domain.Bar{Symbol: "AAPL", Timestamp: ts, Close: 101})
	if len(sigs) != 0 {
		t.Errorf("second bar produced %d signals, want 0", len(sigs))
	}

	sigs, _ = b.OnBar(ctx, domain.Bar{Symbol: "MSFT", Timestamp: ts, Close: 50})
	if len(sigs) != 1 {
		t.Errorf("new symbol produced %d signals, want 1", len(sigs))
	}
}
