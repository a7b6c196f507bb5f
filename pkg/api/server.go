package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/jwyoon/stockmatch/pkg/ledger"
)

// ownerHeader carries the pre-authenticated caller identity. Identity
// verification and token issuance live in an upstream auth service; by
// the time a request reaches this server the owner string is trusted.
const ownerHeader = "X-Owner"

const defaultFillLimit = 50

// Server exposes the intake and read surface over the ledger: deposits,
// withdrawals, order placement/edit/cancel, balance, portfolio and fill
// history. Matching itself has no endpoint; it runs on the scheduler.
type Server struct {
	ledger *ledger.Ledger
	router *mux.Router
	log    *zap.SugaredLogger
	http   *http.Server
}

// NewServer builds the API server around a ledger.
func NewServer(l *ledger.Ledger, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		ledger: l,
		router: mux.NewRouter(),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Balance endpoints
	api.HandleFunc("/balance", s.requireOwner(s.handleGetBalance)).Methods("GET")
	api.HandleFunc("/balance/deposit", s.requireOwner(s.handleDeposit)).Methods("POST")
	api.HandleFunc("/balance/withdraw", s.requireOwner(s.handleWithdraw)).Methods("POST")

	// Order endpoints
	api.HandleFunc("/orders", s.requireOwner(s.handlePlaceOrder)).Methods("POST")
	api.HandleFunc("/orders", s.requireOwner(s.handleGetOrders)).Methods("GET")
	api.HandleFunc("/orders/{id}", s.requireOwner(s.handleEditOrder)).Methods("PUT")
	api.HandleFunc("/orders/{id}", s.requireOwner(s.handleCancelOrder)).Methods("DELETE")

	// Portfolio and fills
	api.HandleFunc("/portfolio", s.requireOwner(s.handleGetPortfolio)).Methods("GET")
	api.HandleFunc("/symbols/{symbol}/fills", s.handleGetFills).Methods("GET")

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", ownerHeader},
		AllowCredentials: true,
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(s.router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Infow("api_server_starting", "addr", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type ownerHandler func(w http.ResponseWriter, r *http.Request, owner string)

func (s *Server) requireOwner(h ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(ownerHeader)
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
			return
		}
		h(w, r, owner)
	}
}

// ==============================
// Handlers
// ==============================

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, owner string) {
	acc, err := s.ledger.Balance(owner)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse(acc))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, owner string) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	acc, err := s.ledger.Deposit(owner, req.Amount)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse(acc))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, owner string) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	acc, err := s.ledger.Withdraw(owner, req.Amount)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse(acc))
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request, owner string) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	side, err := ledger.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := s.ledger.PlaceOrder(owner, req.Symbol, side, req.Quantity, req.LimitPrice)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.log.Infow("order_placed", "owner", owner, "order", o.ID, "symbol", o.Symbol, "side", o.Side.String())
	writeJSON(w, http.StatusCreated, orderResponse(o))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request, owner string) {
	orders, err := s.ledger.OpenOrders(r.Context(), owner)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	resp := make([]OrderResponse, len(orders))
	for i := range orders {
		resp[i] = orderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEditOrder(w http.ResponseWriter, r *http.Request, owner string) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	var req EditOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	o, err := s.ledger.EditOrder(owner, id, req.Quantity, req.LimitPrice)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.log.Infow("order_edited", "owner", owner, "order", id)
	writeJSON(w, http.StatusOK, orderResponse(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request, owner string) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.CancelOrder(owner, id); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.log.Infow("order_cancelled", "owner", owner, "order", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request, owner string) {
	holdings, err := s.ledger.Portfolio(owner)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	resp := make([]HoldingResponse, len(holdings))
	for i, h := range holdings {
		resp[i] = HoldingResponse{Symbol: h.Symbol, Quantity: h.Quantity, AvgPrice: h.AvgPrice}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := defaultFillLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	fills, err := s.ledger.RecentFills(symbol, limit)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	resp := make([]FillResponse, len(fills))
	for i, f := range fills {
		resp[i] = FillResponse{
			ID:            f.ID,
			Symbol:        f.Symbol,
			Price:         f.Price,
			Quantity:      f.Quantity,
			Consideration: f.Consideration,
			Timestamp:     f.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func parseOrderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func balanceResponse(a *ledger.Account) BalanceResponse {
	return BalanceResponse{
		Owner:               a.Owner,
		Balance:             a.Balance,
		CumulativeDeposited: a.CumulativeDeposited,
	}
}

func orderResponse(o *ledger.Order) OrderResponse {
	return OrderResponse{
		ID:         o.ID,
		Owner:      o.Owner,
		Symbol:     o.Symbol,
		Side:       o.Side.String(),
		Quantity:   o.Quantity,
		LimitPrice: o.LimitPrice,
		Status:     o.Status.String(),
		CreatedAt:  o.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
