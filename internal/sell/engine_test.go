package sell

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hantu-quant/internal/alert"
	"hantu-quant/pkg/types"
)

// fakePlacer records placed orders and answers with a scripted result.
type fakePlacer struct {
	mu     sync.Mutex
	orders []placedOrder
	reject bool
}

type placedOrder struct {
	code     string
	side     types.Side
	quantity int64
	division types.OrderDivision
}

func (p *fakePlacer) PlaceOrder(_ context.Context, code string, side types.Side, quantity int64, _ float64, division types.OrderDivision) types.OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, placedOrder{code: code, side: side, quantity: quantity, division: division})
	if p.reject {
		return types.OrderResult{Success: false, ErrorCode: "APBK0013", Message: "rejected"}
	}
	return types.OrderResult{Success: true, OrderNumber: "0000012345"}
}

func (p *fakePlacer) placed() []placedOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]placedOrder, len(p.orders))
	copy(out, p.orders)
	return out
}

func newTestEngine(placer OrderPlacer) *Engine {
	return NewEngine(placer, NewEvaluator(testSellConfig()), zerolog.Nop())
}

func activePosition(code string, qty int64) types.Position {
	return types.Position{
		Code:          code,
		EntryPrice:    10000,
		EntryTime:     time.Now().Add(-24 * time.Hour),
		Quantity:      qty,
		CurrentPrice:  10000,
		StopLossPrice: 9700,
		HighestPrice:  10000,
		ATR:           200,
		Status:        types.StatusActive,
	}
}

func TestAddPositionDefaults(t *testing.T) {
	t.Parallel()
	e := newTestEngine(nil)
	e.AddPosition(types.Position{Code: "005930", EntryPrice: 10000, Quantity: 5, HighestPrice: 9000})

	pos, ok := e.Position("005930")
	if !ok {
		t.Fatal("position missing")
	}
	if pos.Status != types.StatusActive {
		t.Errorf("Status = %v, want ACTIVE", pos.Status)
	}
	if pos.HighestPrice != 10000 {
		t.Errorf("HighestPrice = %v, want raised to entry", pos.HighestPrice)
	}
}

func TestUpdatePriceHighestIsMonotone(t *testing.T) {
	t.Parallel()
	e := newTestEngine(nil)
	e.AddPosition(activePosition("005930", 10))

	prices := []float64{10100, 10500, 10300, 10500, 9900, 10400}
	prevHighest := 0.0
	for _, p := range prices {
		pos, ok := e.UpdatePrice("005930", p, 1.5, 3.0)
		if !ok {
			t.Fatalf("update at %v rejected", p)
		}
		if pos.HighestPrice < prevHighest {
			t.Errorf("highest fell from %v to %v", prevHighest, pos.HighestPrice)
		}
		prevHighest = pos.HighestPrice
	}
	if prevHighest != 10500 {
		t.Errorf("highest = %v, want 10500", prevHighest)
	}
}

func TestUpdatePriceTrailingStopUpwardOnly(t *testing.T) {
	t.Parallel()
	e := newTestEngine(nil)
	e.AddPosition(activePosition("005930", 10))

	// Below the 3% activation return the trailing stop stays unset.
	pos, _ := e.UpdatePrice("005930", 10200, 1.5, 3.0)
	if pos.TrailingStopPrice != 0 {
		t.Errorf("trailing set before activation: %v", pos.TrailingStopPrice)
	}

	// 5% return activates: 10500 − 200·1.5 = 10200.
	pos, _ = e.UpdatePrice("005930", 10500, 1.5, 3.0)
	if pos.TrailingStopPrice != 10200 {
		t.Errorf("trailing = %v, want 10200", pos.TrailingStopPrice)
	}

	// A new high ratchets the level up; a pullback never lowers it.
	pos, _ = e.UpdatePrice("005930", 10700, 1.5, 3.0)
	if pos.TrailingStopPrice != 10400 {
		t.Errorf("trailing = %v, want 10400", pos.TrailingStopPrice)
	}
	pos, _ = e.UpdatePrice("005930", 10450, 1.5, 3.0)
	if pos.TrailingStopPrice != 10400 {
		t.Errorf("trailing moved down to %v", pos.TrailingStopPrice)
	}
}

func TestUpdatePriceTrailingFlooredAtStop(t *testing.T) {
	t.Parallel()
	e := newTestEngine(nil)
	pos := activePosition("005930", 10)
	pos.ATR = 5000 // trailing level would land far below the stop
	e.AddPosition(pos)

	got, _ := e.UpdatePrice("005930", 10400, 1.5, 3.0)
	if got.TrailingStopPrice != got.StopLossPrice {
		t.Errorf("trailing = %v, want floored at stop %v", got.TrailingStopPrice, got.StopLossPrice)
	}
}

func TestUpdatePriceDropsUntrackedAndInactive(t *testing.T) {
	t.Parallel()
	e := newTestEngine(nil)
	if _, ok := e.UpdatePrice("999999", 100, 1.5, 3.0); ok {
		t.Error("untracked code accepted")
	}

	pos := activePosition("005930", 10)
	pos.Status = types.StatusStopTriggered
	e.AddPosition(pos)
	if _, ok := e.UpdatePrice("005930", 100, 1.5, 3.0); ok {
		t.Error("non-ACTIVE position accepted")
	}
}

func TestExecutePartialTakeProfit(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{}
	e := newTestEngine(placer)
	pos := activePosition("005930", 10)
	e.AddPosition(pos)
	e.UpdatePrice("005930", 10600, 1.5, 3.0)

	action := Action{
		Signal:    Signal{Reason: TakeProfit, SellRatio: 0.3, TPLevel: 0},
		SellRatio: 0.3,
	}
	event, err := e.Execute(context.Background(), "005930", action)
	if err != nil {
		t.Fatal(err)
	}
	if event.Quantity != 3 || event.Remaining != 7 {
		t.Errorf("event = %+v, want 3 sold, 7 remaining", event)
	}
	if event.OrderNumber != "0000012345" {
		t.Errorf("order number = %q", event.OrderNumber)
	}

	orders := placer.placed()
	if len(orders) != 1 || orders[0].side != types.SELL || orders[0].quantity != 3 || orders[0].division != types.MARKET {
		t.Errorf("orders = %+v", orders)
	}

	got, ok := e.Position("005930")
	if !ok {
		t.Fatal("partially sold position removed")
	}
	if got.Quantity != 7 || got.Status != types.StatusTPTriggered {
		t.Errorf("position = %+v", got)
	}
	if e.DailyTrades(time.Now()) != 1 {
		t.Errorf("daily trades = %d, want 1", e.DailyTrades(time.Now()))
	}
}

func TestExecuteFullExitClosesAndRemoves(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{}
	e := newTestEngine(placer)
	e.AddPosition(activePosition("005930", 10))
	e.UpdatePrice("005930", 9600, 1.5, 3.0)

	action := Action{
		Signal:    Signal{Reason: StopLoss, SellRatio: 1.0, TPLevel: -1},
		SellRatio: 1.0,
		Urgent:    true,
	}
	event, err := e.Execute(context.Background(), "005930", action)
	if err != nil {
		t.Fatal(err)
	}
	if event.Quantity != 10 || event.Remaining != 0 {
		t.Errorf("event = %+v", event)
	}
	if _, ok := e.Position("005930"); ok {
		t.Error("closed position still tracked")
	}
}

func TestExecuteRejectedOrderLeavesPositionIntact(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{reject: true}
	e := newTestEngine(placer)
	e.AddPosition(activePosition("005930", 10))

	action := Action{Signal: Signal{Reason: StopLoss, SellRatio: 1.0}, SellRatio: 1.0, Urgent: true}
	_, err := e.Execute(context.Background(), "005930", action)
	if err == nil {
		t.Fatal("expected error on rejected order")
	}
	if !alert.IsKind(err, alert.KindBrokerLogic) {
		t.Errorf("error kind = %v", err)
	}

	pos, ok := e.Position("005930")
	if !ok {
		t.Fatal("position removed after rejection")
	}
	if pos.Quantity != 10 || pos.Status != types.StatusActive {
		t.Errorf("position mutated: %+v", pos)
	}
	if e.DailyTrades(time.Now()) != 0 {
		t.Error("rejected order counted as a trade")
	}
}

func TestExecuteValidationFailures(t *testing.T) {
	t.Parallel()
	e := newTestEngine(nil)
	action := Action{Signal: Signal{Reason: StopLoss}, SellRatio: 1.0}
	if _, err := e.Execute(context.Background(), "005930", action); !alert.IsKind(err, alert.KindValidation) {
		t.Errorf("nil placer: %v", err)
	}

	e = newTestEngine(&fakePlacer{})
	if _, err := e.Execute(context.Background(), "999999", action); !alert.IsKind(err, alert.KindValidation) {
		t.Errorf("unknown code: %v", err)
	}

	e.AddPosition(activePosition("005930", 2))
	tiny := Action{Signal: Signal{Reason: RSIOverbought}, SellRatio: 0.1}
	if _, err := e.Execute(context.Background(), "005930", tiny); !alert.IsKind(err, alert.KindValidation) {
		t.Errorf("zero-quantity sell: %v", err)
	}
}

func TestExitCallbackPanicIsolated(t *testing.T) {
	t.Parallel()
	e := newTestEngine(&fakePlacer{})
	e.AddPosition(activePosition("005930", 10))

	var secondRan bool
	e.OnExit(func(ExitEvent) { panic("boom") })
	e.OnExit(func(ExitEvent) { secondRan = true })

	action := Action{Signal: Signal{Reason: StopLoss, SellRatio: 1.0}, SellRatio: 1.0, Urgent: true}
	if _, err := e.Execute(context.Background(), "005930", action); err != nil {
		t.Fatal(err)
	}
	if !secondRan {
		t.Error("panic in the first callback blocked the second")
	}
}

func TestDailyTradesResetAcrossDays(t *testing.T) {
	t.Parallel()
	e := newTestEngine(&fakePlacer{})
	e.AddPosition(activePosition("005930", 10))
	action := Action{Signal: Signal{Reason: StopLoss, SellRatio: 1.0}, SellRatio: 1.0, Urgent: true}
	if _, err := e.Execute(context.Background(), "005930", action); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if e.DailyTrades(now) != 1 {
		t.Errorf("today = %d, want 1", e.DailyTrades(now))
	}
	if e.DailyTrades(now.AddDate(0, 0, 1)) != 0 {
		t.Error("counter leaked into the next day")
	}
}

func TestSellQuantityRounding(t *testing.T) {
	t.Parallel()
	cases := []struct {
		held  int64
		ratio float64
		want  int64
	}{
		{10, 0.3, 3},
		{10, 1.0, 10},
		{7, 0.5, 3},
		{2, 0.1, 0},
		{10, 1.5, 10},
	}
	for _, tc := range cases {
		if got := sellQuantity(tc.held, tc.ratio); got != tc.want {
			t.Errorf("sellQuantity(%d, %v) = %d, want %d", tc.held, tc.ratio, got, tc.want)
		}
	}
}
