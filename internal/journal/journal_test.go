package journal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bintrader/internal/config"
	"bintrader/internal/order"
	"bintrader/internal/report"
	"bintrader/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestNewService_RequiresStore(t *testing.T) {
	if _, err := NewService(nil, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestService_RunIDStable(t *testing.T) {
	svc := newTestService(t)
	if svc.RunID() == "" {
		t.Fatal("run id must not be empty")
	}
	if svc.RunID() != svc.RunID() {
		t.Error("run id must be stable for the service lifetime")
	}
}

func TestService_RecordsEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RunStarted(ctx, 3, decimal.NewFromInt(1000))

	o := order.Order{
		CorrelationID: "A",
		Request: order.Request{
			Symbol:    "EURUSD-OTC",
			Direction: order.DirectionUp,
			Stake:     decimal.NewFromInt(1),
			Duration:  order.FixedDuration,
		},
		SubmittedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Outcome:     order.OutcomePending,
	}
	svc.OrderRecorded(ctx, o)

	o.Outcome = order.OutcomeWin
	svc.OrderSettled(ctx, o)

	svc.RunFinished(ctx, report.Build(decimal.NewFromInt(1000), decimal.NewFromInt(1001), []order.Order{o}))

	for _, tc := range []struct {
		eventType EventType
		want      int
	}{
		{EventRunStarted, 1},
		{EventOrder, 1},
		{EventSettlement, 1},
		{EventRunFinished, 1},
		{"", 4},
	} {
		events, err := svc.ListEvents(ctx, tc.eventType, 10)
		if err != nil {
			t.Fatalf("ListEvents(%q) failed: %v", tc.eventType, err)
		}
		if len(events) != tc.want {
			t.Errorf("ListEvents(%q): got %d events, want %d", tc.eventType, len(events), tc.want)
		}
	}
}

func TestService_SettlementPayloadRoundTrips(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	o := order.Order{
		CorrelationID: "B",
		Request: order.Request{
			Symbol:    "GBPUSD-OTC",
			Direction: order.DirectionDown,
			Stake:     decimal.RequireFromString("2.5"),
			Duration:  order.FixedDuration,
		},
		Outcome: order.OutcomeLoss,
	}
	svc.OrderSettled(ctx, o)

	events, err := svc.ListEvents(ctx, EventSettlement, 1)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	var decoded order.Order
	if err := json.Unmarshal(events[0], &decoded); err != nil {
		t.Fatalf("payload not valid json: %v", err)
	}
	if decoded.CorrelationID != "B" || decoded.Outcome != order.OutcomeLoss {
		t.Errorf("unexpected payload: %+v", decoded)
	}
	if !decoded.Request.Stake.Equal(o.Request.Stake) {
		t.Errorf("stake lost precision: %s", decoded.Request.Stake)
	}
}

func TestService_ListEventsLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.RunStarted(ctx, i, decimal.Zero)
	}

	events, err := svc.ListEvents(ctx, EventRunStarted, 3)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected limit to apply, got %d events", len(events))
	}
}
