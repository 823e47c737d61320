package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"p2p-exchange/internal/db"
	"p2p-exchange/internal/engine"
	"p2p-exchange/internal/metrics"
	"p2p-exchange/internal/model"
	"p2p-exchange/internal/stepup"
	"p2p-exchange/internal/ws"
)

type Server struct {
	store      *db.Store
	engine     *engine.Engine
	hub        *ws.Hub
	totp       stepup.TOTP
	secret     []byte
	currencies []string
}

func NewServer(store *db.Store, eng *engine.Engine, hub *ws.Hub, totp stepup.TOTP, secret string, currencies []string) *Server {
	return &Server{
		store:      store,
		engine:     eng,
		hub:        hub,
		totp:       totp,
		secret:     []byte(secret),
		currencies: currencies,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	// Health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	// Auth (public)
	r.Post("/api/register", s.register)
	r.Post("/api/login", s.login)

	// WebSocket. Browsers cannot set headers on the upgrade request, so
	// the token rides in the query string.
	r.Get("/ws", s.handleWS)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Account
		r.Get("/api/me", s.me)
		r.Post("/api/stepup/enroll", s.enrollStepUp)

		// Wallets
		r.Get("/api/wallets", s.listWallets)
		r.Get("/api/wallets/{currency}", s.getWallet)
		r.Get("/api/wallets/{currency}/transactions", s.listTransactions)
		r.Post("/api/wallets/{currency}/withdraw", s.withdraw)

		// Offers
		r.Post("/api/offers", s.createOffer)
		r.Get("/api/offers", s.listOffers)
		r.Get("/api/offers/{id}", s.getOffer)
		r.Post("/api/offers/{id}/deactivate", s.deactivateOffer)
		r.Post("/api/offers/{id}/orders", s.createOrder)

		// Orders
		r.Get("/api/orders", s.listOrders)
		r.Get("/api/orders/{id}", s.getOrder)
		r.Post("/api/orders/{id}/paid", s.markPaid)
		r.Post("/api/orders/{id}/deliver", s.deliver)
		r.Post("/api/orders/{id}/confirm", s.confirm)
		r.Post("/api/orders/{id}/cancel", s.cancel)
		r.Post("/api/orders/{id}/dispute", s.openDispute)
		r.Get("/api/orders/{id}/messages", s.listMessages)

		// Notifications
		r.Get("/api/notifications", s.listNotifications)

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Get("/api/admin/disputes", s.listDisputes)
			r.Post("/api/admin/disputes/{id}/resolve", s.resolveDispute)
			r.Post("/api/admin/users/{id}/freeze", s.freezeUser)
			r.Post("/api/admin/users/{id}/unfreeze", s.unfreezeUser)
			r.Post("/api/admin/users/{id}/kyc", s.setKYC)
			r.Post("/api/admin/deposit", s.adminDeposit)
			r.Get("/api/admin/events", s.listEvents)
			r.Get("/api/admin/metrics", s.adminMetrics)
		})
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		jsonErr(w, 400, "email and password (min 6 chars) required")
		return
	}

	existing, _ := s.store.GetUserByEmail(r.Context(), req.Email)
	if existing != nil {
		jsonErr(w, 409, "email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonErr(w, 500, "hash failed")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Email, string(hash), model.RoleUser)
	if err != nil {
		jsonErr(w, 500, "create user failed: "+err.Error())
		return
	}
	for _, c := range s.currencies {
		if err := s.store.CreateWallet(r.Context(), user.ID, c); err != nil {
			jsonErr(w, 500, "create wallet failed")
			return
		}
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || user == nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) makeToken(userID string, role model.Role) string {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  time.Now().Add(72 * time.Hour).Unix(),
	}
	t, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return t
}

func (s *Server) parseToken(tokenStr string) (userID string, role string, err error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("invalid claims")
	}
	userID, _ = claims["sub"].(string)
	role, _ = claims["role"].(string)
	return userID, role, nil
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			jsonErr(w, 401, "missing token")
			return
		}
		userID, role, err := s.parseToken(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			jsonErr(w, 401, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(ctxRole).(string)
		if role != string(model.RoleAdmin) {
			jsonErr(w, 403, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) actor(r *http.Request) model.Actor {
	uid, _ := r.Context().Value(ctxUserID).(string)
	role, _ := r.Context().Value(ctxRole).(string)
	return model.Actor{ID: uid, Role: model.Role(role)}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, _, err := s.parseToken(r.URL.Query().Get("token"))
	if err != nil {
		jsonErr(w, 401, "invalid token")
		return
	}
	s.hub.HandleWS(w, r, userID)
}

// ── Account ──────────────────────────────────────────

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	uid, _ := r.Context().Value(ctxUserID).(string)
	user, err := s.store.GetUser(r.Context(), uid)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, user)
}

func (s *Server) enrollStepUp(w http.ResponseWriter, r *http.Request) {
	uid, _ := r.Context().Value(ctxUserID).(string)
	user, err := s.store.GetUser(r.Context(), uid)
	if err != nil {
		engineErr(w, err)
		return
	}
	secret, url, err := s.totp.Enroll(user.Email)
	if err != nil {
		jsonErr(w, 500, "enroll failed")
		return
	}
	if err := s.store.EnrollStepUp(r.Context(), uid, secret); err != nil {
		jsonErr(w, 500, "enroll failed")
		return
	}
	json200(w, map[string]string{"secret": secret, "url": url})
}

// ── Wallets ──────────────────────────────────────────

func (s *Server) listWallets(w http.ResponseWriter, r *http.Request) {
	uid, _ := r.Context().Value(ctxUserID).(string)
	wallets, err := s.store.ListWallets(r.Context(), uid)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if wallets == nil {
		wallets = []model.Wallet{}
	}
	json200(w, wallets)
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	uid, _ := r.Context().Value(ctxUserID).(string)
	wallet, err := s.store.GetWallet(r.Context(), uid, chi.URLParam(r, "currency"))
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, wallet)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	uid, _ := r.Context().Value(ctxUserID).(string)
	wallet, err := s.store.GetWallet(r.Context(), uid, chi.URLParam(r, "currency"))
	if err != nil {
		engineErr(w, err)
		return
	}
	txs, err := s.store.ListTransactions(r.Context(), wallet.ID, queryLimit(r, 50, 200))
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	json200(w, txs)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	wallet, err := s.engine.Withdraw(r.Context(), s.actor(r), chi.URLParam(r, "currency"), req.Amount)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, wallet)
}

// ── Offers ───────────────────────────────────────────

func (s *Server) createOffer(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOfferReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	offer, err := s.engine.CreateOffer(r.Context(), s.actor(r), req)
	if err != nil {
		engineErr(w, err)
		return
	}
	json201(w, offer)
}

func (s *Server) listOffers(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	offers, err := s.store.ListOffers(r.Context(), activeOnly, queryLimit(r, 100, 500))
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	json200(w, offers)
}

func (s *Server) getOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := s.store.GetOffer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, offer)
}

func (s *Server) deactivateOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := s.engine.DeactivateOffer(r.Context(), s.actor(r), chi.URLParam(r, "id"))
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, offer)
}

// ── Orders ───────────────────────────────────────────

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	order, err := s.engine.CreateOrder(r.Context(), s.actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		engineErr(w, err)
		return
	}
	json201(w, order)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	uid, _ := r.Context().Value(ctxUserID).(string)
	orders, err := s.store.ListOrdersForUser(r.Context(), uid, queryLimit(r, 100, 500))
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	json200(w, orders)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		engineErr(w, err)
		return
	}
	actor := s.actor(r)
	if !actor.IsAdmin() && !engine.IsParticipant(order, actor.ID) {
		jsonErr(w, 403, "not your order")
		return
	}
	json200(w, order)
}

func (s *Server) markPaid(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.MarkPaid(r.Context(), s.actor(r), chi.URLParam(r, "id"))
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, order)
}

func (s *Server) deliver(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	order, err := s.engine.Deliver(r.Context(), s.actor(r), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, order)
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StepUpToken string `json:"step_up_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	order, err := s.engine.Confirm(r.Context(), s.actor(r), chi.URLParam(r, "id"), req.StepUpToken)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, order)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	order, err := s.engine.Cancel(r.Context(), s.actor(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, order)
}

func (s *Server) openDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Reason == "" {
		jsonErr(w, 400, "reason required")
		return
	}
	dispute, err := s.engine.OpenDispute(r.Context(), s.actor(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		engineErr(w, err)
		return
	}
	json201(w, dispute)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		engineErr(w, err)
		return
	}
	actor := s.actor(r)
	if !actor.IsAdmin() && !engine.IsParticipant(order, actor.ID) {
		jsonErr(w, 403, "not your order")
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), order.ID, queryLimit(r, 100, 500))
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if msgs == nil {
		msgs = []model.OrderMessage{}
	}
	json200(w, msgs)
}

// ── Notifications ────────────────────────────────────

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	uid, _ := r.Context().Value(ctxUserID).(string)
	ns, err := s.store.ListNotifications(r.Context(), uid, queryLimit(r, 50, 200))
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if ns == nil {
		ns = []model.Notification{}
	}
	json200(w, ns)
}

// ── Admin ────────────────────────────────────────────

func (s *Server) listDisputes(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("all") == ""
	disputes, err := s.store.ListDisputes(r.Context(), openOnly, queryLimit(r, 100, 500))
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if disputes == nil {
		disputes = []model.Dispute{}
	}
	json200(w, disputes)
}

func (s *Server) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome     string `json:"outcome"`
		Notes       string `json:"notes"`
		StepUpToken string `json:"step_up_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	outcome := model.DisputeOutcome(req.Outcome)
	if outcome != model.OutcomeRefund && outcome != model.OutcomeRelease {
		jsonErr(w, 400, "outcome must be refund or release")
		return
	}
	dispute, err := s.engine.ResolveDispute(r.Context(), s.actor(r), chi.URLParam(r, "id"), outcome, req.Notes, req.StepUpToken)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, dispute)
}

func (s *Server) freezeUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.engine.FreezeUser(r.Context(), s.actor(r), chi.URLParam(r, "id"), req.Reason); err != nil {
		engineErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "frozen"})
}

func (s *Server) unfreezeUser(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.UnfreezeUser(r.Context(), s.actor(r), chi.URLParam(r, "id")); err != nil {
		engineErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "active"})
}

func (s *Server) setKYC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status model.KYCStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	switch req.Status {
	case model.KYCNone, model.KYCPending, model.KYCApproved, model.KYCRejected:
	default:
		jsonErr(w, 400, "unknown kyc status")
		return
	}
	userID := chi.URLParam(r, "id")
	if _, err := s.store.GetUser(r.Context(), userID); err != nil {
		engineErr(w, err)
		return
	}
	if err := s.store.SetKYCStatus(r.Context(), userID, req.Status); err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, map[string]string{"status": string(req.Status)})
}

func (s *Server) adminDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string          `json:"user_id"`
		Currency string          `json:"currency"`
		Amount   decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.UserID == "" || req.Currency == "" {
		jsonErr(w, 400, "user_id and currency required")
		return
	}
	wallet, err := s.engine.Deposit(r.Context(), s.actor(r), req.UserID, req.Currency, req.Amount)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, wallet)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	var op *string
	if orderID != "" {
		op = &orderID
	}
	events, err := s.store.ListEvents(r.Context(), op, queryLimit(r, 100, 500))
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if events == nil {
		events = []model.EventLog{}
	}
	json200(w, events)
}

func (s *Server) adminMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := s.store.Counts(ctx)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	fees, err := s.store.GetPlatformFees(ctx)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, map[string]any{
		"counts":        counts,
		"platform_fees": fees,
		"fee_bps":       s.engine.FeeBps(),
	})
}

// ── Helpers ──────────────────────────────────────────

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= max {
		limit = n
	}
	return limit
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func json201(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// engineErr maps domain errors onto HTTP status codes.
func engineErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		jsonErr(w, 404, err.Error())
	case errors.Is(err, model.ErrStepUpRequired):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(403)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": "step_up_required"})
	case errors.Is(err, model.ErrNotAuthorized),
		errors.Is(err, model.ErrAccountFrozen),
		errors.Is(err, model.ErrKYCRequired):
		jsonErr(w, 403, err.Error())
	case errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrAlreadyDisputed),
		errors.Is(err, model.ErrAlreadyResolved):
		jsonErr(w, 409, err.Error())
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInsufficientFunds):
		jsonErr(w, 400, err.Error())
	case errors.Is(err, model.ErrInvariantViolation):
		jsonErr(w, 500, "internal accounting error")
	default:
		jsonErr(w, 500, err.Error())
	}
}
