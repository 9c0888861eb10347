// Package history manages the append-only, bounded trade history of one
// account: FIFO retention eviction, filtered + paginated queries, and the few
// legal status transitions on PENDING records.
package history

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// ErrOrderNotFound is returned when no record carries the given order ID.
var ErrOrderNotFound = errors.New("history: order not found")

// InvalidTransitionError rejects a mutation of a record that is no longer
// PENDING. Completed and cancelled orders are immutable.
type InvalidTransitionError struct {
	OrderID string
	Status  model.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("history: order %s is %s, only PENDING orders can change", e.OrderID, e.Status)
}

// Append adds a record to the account's history, evicting the oldest records
// (by executedAt order) once the retention cap is exceeded. Eviction is part
// of the same atomic unit as the append: the caller persists the account
// afterwards as one write.
func Append(a *model.Account, rec model.TradeRecord) {
	a.History = append(a.History, rec)
	if over := len(a.History) - model.MaxHistory; over > 0 {
		a.History = append([]model.TradeRecord(nil), a.History[over:]...)
	}
}

// Filter narrows a history query. Zero values mean "no constraint"; Page and
// PageSize default to 1 and 50.
type Filter struct {
	Status          model.OrderStatus
	SymbolSubstring string
	Page            int
	PageSize        int
}

// Pagination describes the slice a query returned.
type Pagination struct {
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	TotalCount  int  `json:"total_count"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

// Query returns the account's trade records sorted by executedAt descending,
// filtered and paginated.
func Query(a *model.Account, f Filter) ([]model.TradeRecord, Pagination) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 50
	}

	matched := make([]model.TradeRecord, 0, len(a.History))
	needle := strings.ToLower(f.SymbolSubstring)
	for _, rec := range a.History {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(rec.Symbol), needle) {
			continue
		}
		matched = append(matched, rec)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ExecutedAt.After(matched[j].ExecutedAt)
	})

	total := len(matched)
	totalPages := (total + f.PageSize - 1) / f.PageSize
	start := (f.Page - 1) * f.PageSize
	end := start + f.PageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	page := Pagination{
		CurrentPage: f.Page,
		TotalPages:  totalPages,
		TotalCount:  total,
		HasNext:     end < total,
		HasPrev:     f.Page > 1,
	}
	return matched[start:end], page
}

// Find returns the record with the given order ID.
func Find(a *model.Account, orderID string) (*model.TradeRecord, error) {
	for i := range a.History {
		if a.History[i].OrderID == orderID {
			return &a.History[i], nil
		}
	}
	return nil, ErrOrderNotFound
}

// UpdateStatus transitions a PENDING record to the given status. Any other
// starting state fails with InvalidTransitionError.
func UpdateStatus(a *model.Account, orderID string, status model.OrderStatus) (*model.TradeRecord, error) {
	rec, err := Find(a, orderID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusPending {
		return nil, &InvalidTransitionError{OrderID: orderID, Status: rec.Status}
	}
	rec.Status = status
	rec.LastUpdated = time.Now().UTC()
	out := *rec
	return &out, nil
}

// Modify updates quantity and/or price of a PENDING record and recomputes its
// total amount. Zero quantity / zero price leave the field unchanged.
func Modify(a *model.Account, orderID string, quantity int64, price decimal.Decimal) (*model.TradeRecord, error) {
	rec, err := Find(a, orderID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusPending {
		return nil, &InvalidTransitionError{OrderID: orderID, Status: rec.Status}
	}
	if quantity > 0 {
		rec.Quantity = quantity
	}
	if price.IsPositive() {
		rec.Price = price
	}
	rec.TotalAmount = rec.Price.Mul(decimal.NewFromInt(rec.Quantity))
	rec.LastUpdated = time.Now().UTC()
	out := *rec
	return &out, nil
}
