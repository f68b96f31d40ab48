package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tokoledger/internal/archive"
	"tokoledger/internal/domain"
	"tokoledger/internal/service"
	"tokoledger/internal/store"
)

type API struct {
	service      *service.Service
	auth         *AuthManager
	archiveJob   *archive.Job
	log          zerolog.Logger
	loginLimiter *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, archiveJob *archive.Job, log zerolog.Logger) *API {
	return &API{
		service:      svc,
		auth:         auth,
		archiveJob:   archiveJob,
		log:          log,
		loginLimiter: newAttemptLimiter(5, time.Minute),
	}
}

// sweepThreshold bounds the limiter map: once it holds this many keys, fully
// expired ones are dropped on the next Allow.
const sweepThreshold = 1024

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
	now     func() time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time), now: time.Now}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= sweepThreshold {
		l.sweepLocked(cutoff)
	}

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

// sweepLocked drops keys whose attempts have all aged out, so idle client
// addresses do not accumulate forever.
func (l *attemptLimiter) sweepLocked(cutoff time.Time) {
	for key, history := range l.entries {
		live := false
		for _, ts := range history {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.entries, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		middleware.Recoverer,
		a.requestLogger,
		middleware.Timeout(30*time.Second),
	)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/products", a.handleListProducts)
			r.Post("/products", a.handleCreateProduct)
			r.Get("/products/{id}", a.handleGetProduct)
			r.Put("/products/{id}", a.handleUpdateProduct)
			r.Delete("/products/{id}", a.handleDeleteProduct)
			r.Post("/products/{id}/warehouse", a.handleReplenishWarehouse)
			r.Post("/products/{id}/transfer", a.handleTransferToSellable)

			r.Post("/sales", a.handleRecordSale)
			r.Get("/sales", a.handleListSales)
			r.Get("/sales/today", a.handleListSalesToday)
			r.Get("/sales/summary", a.handleTodaySummary)
			r.Get("/sales/summary/users/{id}", a.handleUserSummary)

			r.Get("/archive", a.handleListArchives)
			r.Post("/archive/run", a.handleRunArchive)

			r.Get("/store-status", a.handleGetStoreStatus)
			r.Put("/store-status", a.handleSetStoreStatus)

			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
			r.Delete("/users/{id}", a.handleDeleteUser)
			r.Put("/users/{id}/password", a.handleSetUserPassword)
		})
	})

	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		a.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(startedAt)).
			Msg("request")
	})
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.archiveOpportunistically(r.Context())

	writeJSON(w, http.StatusOK, resp)
}

// archiveOpportunistically runs the end-of-day close from read/login paths:
// the first such request of a new day archives yesterday. Failures are
// logged, never surfaced to the caller.
func (a *API) archiveOpportunistically(ctx context.Context) {
	if a.archiveJob == nil {
		return
	}
	if _, err := a.archiveJob.RunArchiveCheck(ctx, time.Now().UTC()); err != nil {
		a.log.Error().Err(err).Msg("opportunistic archive check failed")
	}
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := a.service.AddProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req domain.ProductUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := a.service.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.service.DeleteProduct(r.Context(), id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReplenishWarehouse(w http.ResponseWriter, r *http.Request) {
	a.handleStockChange(w, r, a.service.ReplenishWarehouse)
}

func (a *API) handleTransferToSellable(w http.ResponseWriter, r *http.Request) {
	a.handleStockChange(w, r, a.service.TransferToSellable)
}

func (a *API) handleStockChange(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64, req domain.StockRequest) (*domain.Product, error)) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req domain.StockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := op(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordSaleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.RecordSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	// Viewing sales history is one of the archive trigger points: close out
	// yesterday before listing, so archived rows never show up here.
	a.archiveOpportunistically(r.Context())

	sales, err := a.service.ListSales(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleListSalesToday(w http.ResponseWriter, r *http.Request) {
	a.archiveOpportunistically(r.Context())

	sales, err := a.service.ListSalesToday(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleTodaySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.TodaySummary(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleUserSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	var day time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, err = time.Parse("2006-01-02", raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("invalid date, expected YYYY-MM-DD"))
			return
		}
	}

	summary, err := a.service.SalesSummaryForUser(r.Context(), id, day)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleListArchives(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.ListArchives(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *API) handleRunArchive(w http.ResponseWriter, r *http.Request) {
	record, err := a.service.RunArchiveCheck(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if record == nil {
		writeJSON(w, http.StatusOK, map[string]any{"archived": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": true, "record": record})
}

func (a *API) handleGetStoreStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.service.StoreStatus(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.StoreStatus{"status": status})
}

func (a *API) handleSetStoreStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.StoreStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.service.SetStoreStatus(r.Context(), req); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.StoreStatus{"status": req.Status})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.service.DeleteUser(r.Context(), id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetUserPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.service.SetUserPassword(r.Context(), id, req.Password); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// writeServiceError maps the store error taxonomy onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrInvalidInput):
		a.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrDuplicateIdentity),
		errors.Is(err, store.ErrProductHasSales),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInsufficientWarehouseStock):
		a.writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrForbidden), errors.Is(err, store.ErrStoreClosed):
		a.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, ErrInvalidCredentials):
		a.writeError(w, http.StatusUnauthorized, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log; the response body carries a generic
	// message so internals never leak to clients.
	msg := err.Error()
	if status >= 500 {
		a.log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
