package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-cart-engine/internal/cart"
	"github.com/safar/go-cart-engine/internal/config"
	"github.com/safar/go-cart-engine/internal/coupon"
	"github.com/safar/go-cart-engine/internal/database"
	"github.com/safar/go-cart-engine/internal/events"
	"github.com/safar/go-cart-engine/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const sessionCookie = "cart_session"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database")

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	defer producer.Close()
	if producer.Enabled() {
		logger.Info("order event producer enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	app := &application{db: db, producer: producer, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/products", app.handleProducts)
	mux.HandleFunc("/products/", app.handleProductByID)
	mux.HandleFunc("/users/", app.handleUserByID)
	mux.HandleFunc("/cart", app.handleCart)
	mux.HandleFunc("/cart/items", app.handleCartItems)
	mux.HandleFunc("/cart/items/", app.handleCartItemByID)
	mux.HandleFunc("/cart/merge", app.handleCartMerge)
	mux.HandleFunc("/coupons/preview", app.handleCouponPreview)
	mux.HandleFunc("/checkout", app.handleCheckout)
	mux.HandleFunc("/orders/", app.handleOrderByID)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

type application struct {
	db       *sql.DB
	producer *events.Producer
	logger   *zap.Logger
}

// resolveOwner maps the request to a cart owner: the upstream-authenticated
// user id when present, otherwise the guest session cookie (minted here on
// first contact).
func (app *application) resolveOwner(w http.ResponseWriter, r *http.Request) cart.Owner {
	if header := r.Header.Get("X-User-ID"); header != "" {
		if userID, err := strconv.ParseInt(header, 10, 64); err == nil {
			return cart.AccountOwner(userID)
		}
	}

	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		return cart.GuestOwner(cookie.Value)
	}

	sessionID := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Now().Add(30 * 24 * time.Hour),
	})
	return cart.GuestOwner(sessionID)
}

func (app *application) handleProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		SKU         string `json:"sku"`
		Slug        string `json:"slug"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Price       string `json:"price"`
		Stock       int    `json:"stock"`
		Status      string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid price")
		return
	}

	product, err := store.CreateProduct(ctx, app.db, store.CreateProductRequest{
		SKU:         req.SKU,
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Price:       price,
		Stock:       req.Stock,
		Status:      req.Status,
	})
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

func (app *application) handleProductByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(r.URL.Path[len("/products/"):], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := store.GetProduct(ctx, app.db, id)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, product)

	case http.MethodPut:
		// Admin stock adjustment: compare-and-set on the version column, so
		// a stale admin screen gets a conflict instead of clobbering stock.
		var req struct {
			Stock   int `json:"stock"`
			Version int `json:"version"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := store.UpdateStockOptimistic(ctx, app.db, id, req.Stock, req.Version); err != nil {
			app.respondStoreError(w, err)
			return
		}

		product, err := store.GetProduct(ctx, app.db, id)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, product)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleUserByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(r.URL.Path[len("/users/"):], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := store.GetUser(ctx, app.db, id)
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (app *application) handleCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := app.resolveOwner(w, r)

	switch r.Method {
	case http.MethodGet:
		lines, err := cart.ListLines(ctx, app.db, owner)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		subtotal, err := cart.Subtotal(ctx, app.db, owner)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		count, err := cart.ItemCount(ctx, app.db, owner)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]any{
			"lines":      lines,
			"subtotal":   subtotal,
			"item_count": count,
		})

	case http.MethodDelete:
		if err := cart.Clear(ctx, app.db, owner); err != nil {
			app.respondStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleCartItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	owner := app.resolveOwner(w, r)

	var req struct {
		ProductID int64  `json:"product_id"`
		VariantID *int64 `json:"variant_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var variantID sql.NullInt64
	if req.VariantID != nil {
		variantID = sql.NullInt64{Int64: *req.VariantID, Valid: true}
	}

	line, err := cart.AddItem(ctx, app.db, owner, req.ProductID, variantID, req.Quantity)
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, line)
}

func (app *application) handleCartItemByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := app.resolveOwner(w, r)

	lineID, err := strconv.ParseInt(r.URL.Path[len("/cart/items/"):], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid cart line ID")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req struct {
			Quantity int `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		line, err := cart.UpdateQuantity(ctx, app.db, owner, lineID, req.Quantity)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, line)

	case http.MethodDelete:
		if err := cart.RemoveItem(ctx, app.db, owner, lineID); err != nil {
			app.respondStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCartMerge is invoked by the login flow: the guest session's cart is
// folded into the freshly authenticated account.
func (app *application) handleCartMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		respondError(w, http.StatusBadRequest, "No guest session")
		return
	}

	if _, err := store.GetUser(ctx, app.db, req.UserID); err != nil {
		app.respondStoreError(w, err)
		return
	}

	if err := cart.MergeGuestCart(ctx, app.db, cookie.Value, req.UserID); err != nil {
		app.respondStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleCouponPreview validates a code against the owner's current subtotal.
// This is advisory: checkout re-validates before committing.
func (app *application) handleCouponPreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	owner := app.resolveOwner(w, r)

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := coupon.GetByCode(ctx, app.db, req.Code)
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	subtotal, err := cart.Subtotal(ctx, app.db, owner)
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	now := time.Now()
	respondJSON(w, http.StatusOK, map[string]any{
		"code":     c.Code,
		"valid":    coupon.IsValid(c, subtotal, now),
		"discount": coupon.Discount(c, subtotal, now),
		"subtotal": subtotal,
	})
}

func (app *application) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	owner := app.resolveOwner(w, r)
	if owner.IsGuest() {
		respondError(w, http.StatusUnauthorized, "Checkout requires an account")
		return
	}

	var req struct {
		CouponCode string `json:"coupon_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := store.PlaceOrder(ctx, app.db, store.PlaceOrderRequest{
		UserID:     owner.UserID.Int64,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	if err := app.producer.PublishOrderCreated(ctx, order); err != nil {
		app.logger.Error("publish order event", zap.Error(err), zap.Int64("order_id", order.ID))
	}

	respondJSON(w, http.StatusCreated, order)
}

func (app *application) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(r.URL.Path[len("/orders/"):], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := store.GetOrder(ctx, app.db, id)
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (app *application) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrVariantNotFound),
		errors.Is(err, database.ErrCartLineNotFound),
		errors.Is(err, database.ErrCouponNotFound),
		errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrCouponExhausted),
		errors.Is(err, database.ErrOptimisticLockFailed),
		errors.Is(err, database.ErrLockTimeout):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, database.ErrInvalidQuantity),
		errors.Is(err, database.ErrEmptyCart),
		errors.Is(err, database.ErrCouponNotValid):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		app.logger.Error("internal error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
