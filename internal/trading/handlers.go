package trading

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/history"
	"github.com/papertrade/trading-engine/internal/identity"
	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
)

// orderRequest is the JSON body for POST /api/v1/orders. It is decoded into
// the tagged MarketOrder/LimitOrder variant before reaching the pipeline.
type orderRequest struct {
	Symbol   string           `json:"symbol"`
	Exchange string           `json:"exchange"`
	Side     model.Side       `json:"side"`
	Type     model.OrderType  `json:"order_type"`
	Quantity int64            `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// HandlePlaceOrder handles POST /api/v1/orders.
func (s *Service) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.UserIDFrom(r.Context())
	if err != nil {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var ord Order
	switch req.Type {
	case model.TypeMarket:
		ord = MarketOrder{
			Symbol:   req.Symbol,
			Exchange: req.Exchange,
			Side:     req.Side,
			Quantity: req.Quantity,
		}
	case model.TypeLimit:
		var price decimal.Decimal
		if req.Price != nil {
			price = *req.Price
		}
		ord = LimitOrder{
			Symbol:   req.Symbol,
			Exchange: req.Exchange,
			Side:     req.Side,
			Quantity: req.Quantity,
			Price:    price,
		}
	default:
		writeError(w, "order_type must be MARKET or LIMIT", http.StatusBadRequest)
		return
	}

	result, err := s.PlaceOrder(r.Context(), userID, ord)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleGetPortfolio handles GET /api/v1/portfolio.
func (s *Service) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.UserIDFrom(r.Context())
	if err != nil {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	portfolio, err := s.GetPortfolio(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// HandleGetOrders handles GET /api/v1/orders with
// ?status=&symbol=&page=&page_size= filters.
func (s *Service) HandleGetOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.UserIDFrom(r.Context())
	if err != nil {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	f := history.Filter{
		Status:          model.OrderStatus(q.Get("status")),
		SymbolSubstring: q.Get("symbol"),
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	page, err := s.GetOrders(r.Context(), userID, f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleCancelOrder handles DELETE /api/v1/orders/{orderID}.
func (s *Service) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.UserIDFrom(r.Context())
	if err != nil {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	rec, err := s.CancelOrder(r.Context(), userID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type modifyOrderRequest struct {
	Quantity int64            `json:"quantity,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// HandleModifyOrder handles PUT /api/v1/orders/{orderID}.
func (s *Service) HandleModifyOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.UserIDFrom(r.Context())
	if err != nil {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req modifyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	price := decimal.Zero
	if req.Price != nil {
		price = *req.Price
	}
	rec, err := s.ModifyOrder(r.Context(), userID, chi.URLParam(r, "orderID"), req.Quantity, price)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type watchlistRequest struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// HandleAddWatchlist handles POST /api/v1/watchlist.
func (s *Service) HandleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.UserIDFrom(r.Context())
	if err != nil {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req watchlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	watchlist, err := s.AddToWatchlist(r.Context(), userID, req.Symbol, req.Exchange)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchlist": watchlist})
}

// HandleRemoveWatchlist handles DELETE /api/v1/watchlist/{symbol}?exchange=.
func (s *Service) HandleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.UserIDFrom(r.Context())
	if err != nil {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	exchange := r.URL.Query().Get("exchange")
	watchlist, err := s.RemoveFromWatchlist(r.Context(), userID, symbol, exchange)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchlist": watchlist})
}

// HandleCreateAccount handles POST /api/v1/account.
func (s *Service) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.UserIDFrom(r.Context())
	if err != nil {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	account, err := s.CreateAccount(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// HandleResetAccount handles POST /api/v1/account/reset.
func (s *Service) HandleResetAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.UserIDFrom(r.Context())
	if err != nil {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	summary, err := s.ResetAccount(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolio": summary})
}

// HandleDeactivateAccount handles DELETE /api/v1/account.
func (s *Service) HandleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.UserIDFrom(r.Context())
	if err != nil {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := s.DeactivateAccount(r.Context(), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// HandleGetQuote handles GET /api/v1/quotes/{symbol}?exchange=.
func (s *Service) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	exchange := r.URL.Query().Get("exchange")
	price, err := s.LastPrice(r.Context(), symbol, exchange)
	if err != nil {
		writeError(w, "quote not found for the given symbol", http.StatusNotFound)
		return
	}
	sym, exch := normalize(symbol, exchange)
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     sym,
		"exchange":   exch,
		"last_price": price,
	})
}

// Routes mounts all trading endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/orders", s.HandlePlaceOrder)
	r.Get("/orders", s.HandleGetOrders)
	r.Put("/orders/{orderID}", s.HandleModifyOrder)
	r.Delete("/orders/{orderID}", s.HandleCancelOrder)
	r.Get("/portfolio", s.HandleGetPortfolio)
	r.Post("/watchlist", s.HandleAddWatchlist)
	r.Delete("/watchlist/{symbol}", s.HandleRemoveWatchlist)
	r.Post("/account", s.HandleCreateAccount)
	r.Post("/account/reset", s.HandleResetAccount)
	r.Delete("/account", s.HandleDeactivateAccount)
	r.Get("/quotes/{symbol}", s.HandleGetQuote)
}

// writeServiceError maps pipeline errors onto HTTP responses. Business
// rejections carry their required-vs-available context; no error kind is
// coerced into another.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *ValidationError
	var fundsErr *ledger.InsufficientFundsError
	var posErr *ledger.InsufficientPositionError
	var transitionErr *history.InvalidTransitionError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, validationErr.Msg, http.StatusBadRequest)
	case errors.As(err, &fundsErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     "insufficient funds",
			"required":  fundsErr.Required,
			"available": fundsErr.Available,
		})
	case errors.As(err, &posErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     "insufficient quantity to sell",
			"required":  posErr.Required,
			"available": posErr.Available,
		})
	case errors.Is(err, ErrQuoteUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "account not found", http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		writeError(w, "account already exists", http.StatusConflict)
	case errors.Is(err, store.ErrVersionConflict):
		writeError(w, "concurrent modification, please retry", http.StatusConflict)
	case errors.Is(err, history.ErrOrderNotFound):
		writeError(w, "order not found", http.StatusNotFound)
	case errors.As(err, &transitionErr):
		writeError(w, transitionErr.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrAccountInactive):
		writeError(w, "account is deactivated", http.StatusForbidden)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
