package history_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/history"
	"github.com/papertrade/trading-engine/internal/model"
)

func record(i int, status model.OrderStatus) model.TradeRecord {
	price := decimal.NewFromInt(100)
	return model.TradeRecord{
		OrderID:     fmt.Sprintf("order-%04d", i),
		Symbol:      "RELIANCE",
		Exchange:    "NSE",
		Side:        model.SideBuy,
		Type:        model.TypeMarket,
		Quantity:    1,
		Price:       price,
		TotalAmount: price,
		Status:      status,
		ExecutedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second),
		LastUpdated: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second),
	}
}

func TestAppend_RetentionBound(t *testing.T) {
	a := model.NewAccount("user1")

	for i := 0; i < model.MaxHistory+1; i++ {
		history.Append(a, record(i, model.StatusCompleted))
	}

	if len(a.History) != model.MaxHistory {
		t.Fatalf("history length = %d, want %d", len(a.History), model.MaxHistory)
	}
	// Oldest record evicted, insertion order preserved for the rest.
	if a.History[0].OrderID != "order-0001" {
		t.Errorf("first record = %s, want order-0001 (order-0000 evicted)", a.History[0].OrderID)
	}
	if last := a.History[len(a.History)-1].OrderID; last != fmt.Sprintf("order-%04d", model.MaxHistory) {
		t.Errorf("last record = %s", last)
	}
}

func TestQuery_Pagination(t *testing.T) {
	a := model.NewAccount("user1")
	for i := 0; i < 105; i++ {
		history.Append(a, record(i, model.StatusCompleted))
	}

	recs, page := history.Query(a, history.Filter{Page: 3, PageSize: 50})
	if len(recs) != 5 {
		t.Fatalf("page 3 has %d records, want 5", len(recs))
	}
	want := history.Pagination{CurrentPage: 3, TotalPages: 3, TotalCount: 105, HasNext: false, HasPrev: true}
	if page != want {
		t.Errorf("pagination = %+v, want %+v", page, want)
	}

	// Results are newest-first, so page 3 holds the five oldest.
	if recs[len(recs)-1].OrderID != "order-0000" {
		t.Errorf("last record on last page = %s, want order-0000", recs[len(recs)-1].OrderID)
	}
}

func TestQuery_PageBeyondEnd(t *testing.T) {
	a := model.NewAccount("user1")
	for i := 0; i < 10; i++ {
		history.Append(a, record(i, model.StatusCompleted))
	}

	recs, page := history.Query(a, history.Filter{Page: 5, PageSize: 50})
	if len(recs) != 0 {
		t.Fatalf("expected empty page, got %d records", len(recs))
	}
	if page.TotalCount != 10 || page.HasNext {
		t.Errorf("pagination = %+v", page)
	}
}

func TestQuery_Filters(t *testing.T) {
	a := model.NewAccount("user1")
	history.Append(a, record(0, model.StatusCompleted))
	history.Append(a, record(1, model.StatusPending))
	rec := record(2, model.StatusCompleted)
	rec.Symbol = "TCS"
	history.Append(a, rec)

	recs, page := history.Query(a, history.Filter{Status: model.StatusPending})
	if len(recs) != 1 || recs[0].Status != model.StatusPending {
		t.Fatalf("status filter returned %+v", recs)
	}
	if page.TotalCount != 1 {
		t.Errorf("total count = %d, want 1", page.TotalCount)
	}

	// Symbol filter is a case-insensitive substring match.
	recs, _ = history.Query(a, history.Filter{SymbolSubstring: "reli"})
	if len(recs) != 2 {
		t.Fatalf("symbol filter returned %d records, want 2", len(recs))
	}
}

func TestQuery_NewestFirst(t *testing.T) {
	a := model.NewAccount("user1")
	for i := 0; i < 3; i++ {
		history.Append(a, record(i, model.StatusCompleted))
	}

	recs, _ := history.Query(a, history.Filter{})
	if recs[0].OrderID != "order-0002" || recs[2].OrderID != "order-0000" {
		t.Errorf("records not sorted by executedAt descending: %s, %s, %s",
			recs[0].OrderID, recs[1].OrderID, recs[2].OrderID)
	}
}

func TestUpdateStatus(t *testing.T) {
	a := model.NewAccount("user1")
	history.Append(a, record(0, model.StatusPending))

	rec, err := history.UpdateStatus(a, "order-0000", model.StatusCancelled)
	if err != nil {
		t.Fatalf("cancel pending order: %v", err)
	}
	if rec.Status != model.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", rec.Status)
	}

	// Cancelled records are immutable.
	_, err = history.UpdateStatus(a, "order-0000", model.StatusCancelled)
	var transitionErr *history.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if transitionErr.Status != model.StatusCancelled {
		t.Errorf("error carries status %s", transitionErr.Status)
	}
}

func TestUpdateStatus_CompletedIsImmutable(t *testing.T) {
	a := model.NewAccount("user1")
	history.Append(a, record(0, model.StatusCompleted))

	_, err := history.UpdateStatus(a, "order-0000", model.StatusCancelled)
	var transitionErr *history.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	a := model.NewAccount("user1")
	if _, err := history.UpdateStatus(a, "missing", model.StatusCancelled); !errors.Is(err, history.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestModify(t *testing.T) {
	a := model.NewAccount("user1")
	history.Append(a, record(0, model.StatusPending))

	rec, err := history.Modify(a, "order-0000", 7, decimal.NewFromInt(120))
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if rec.Quantity != 7 || !rec.Price.Equal(decimal.NewFromInt(120)) {
		t.Errorf("record = qty %d price %s", rec.Quantity, rec.Price)
	}
	if !rec.TotalAmount.Equal(decimal.NewFromInt(840)) {
		t.Errorf("total amount = %s, want 840", rec.TotalAmount)
	}

	// Zero quantity leaves quantity unchanged, only the price moves.
	rec, err = history.Modify(a, "order-0000", 0, decimal.NewFromInt(130))
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if rec.Quantity != 7 || !rec.TotalAmount.Equal(decimal.NewFromInt(910)) {
		t.Errorf("record = qty %d total %s", rec.Quantity, rec.TotalAmount)
	}
}

func TestModify_NonPending(t *testing.T) {
	a := model.NewAccount("user1")
	history.Append(a, record(0, model.StatusCompleted))

	_, err := history.Modify(a, "order-0000", 5, decimal.NewFromInt(100))
	var transitionErr *history.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}
