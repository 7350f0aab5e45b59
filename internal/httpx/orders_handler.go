package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/cataloghq/fulfillment/internal/fulfillment"
	kafkax "github.com/cataloghq/fulfillment/internal/kafka"
	"github.com/cataloghq/fulfillment/internal/redisx"
)

// Publishers holds one producer per event topic.
type Publishers struct {
	Created *kafkax.Producer
	Status  *kafkax.Producer
	Deleted *kafkax.Producer
}

// HistoryReader serves the status audit trail written by the audit consumer.
type HistoryReader interface {
	StatusLog(ctx context.Context, orderID string) ([]fulfillment.StatusChange, error)
}

// Cache is the slice of the Redis API the handler touches. *redis.Client
// satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type OrdersHandler struct {
	Engine  *fulfillment.Engine
	Pub     Publishers
	Redis   Cache
	History HistoryReader
	Service string
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	if h.History != nil {
		r.Get("/orders/{id}/history", h.orderHistory)
	}
	r.Post("/orders/{id}/status", h.updateStatus)
	r.Delete("/orders/{id}", h.deleteOrder)
	r.Get("/skus", h.listSKUs)
	r.Post("/skus", h.createSKU)
	r.Delete("/skus/{id}", h.deleteSKU)
	r.Get("/skus/{id}/available", h.skuAvailable)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in fulfillment.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// resubmits with a known external id are answered from the cache
	// without touching the engine at all
	var idemKey string
	if h.Redis != nil && in.ExternalID != "" {
		idemKey = fmt.Sprintf(redisx.KeyIdemOrderCreate, in.ExternalID)
		if id, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && id != "" {
			if o, gerr := h.Engine.GetOrder(ctx, id); gerr == nil {
				writeJSON(w, http.StatusOK, o)
				return
			}
		}
	}

	o, err := h.Engine.CreateOrder(ctx, in)
	if err != nil {
		writeErr(w, err)
		return
	}

	if idemKey != "" {
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheOrder(ctx, o)

	h.publish(h.Pub.Created, fulfillment.EventOrderCreated, o.ID, r,
		fulfillment.OrderCreatedPayload{
			OrderID:    o.ID,
			ExternalID: o.ExternalID,
			CustomerID: o.CustomerID,
			Lines:      o.Lines,
			TotalCents: o.TotalCents,
		})

	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrder, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Engine.GetOrder(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) orderHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	entries, err := h.History.StatusLog(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type updateStatusReq struct {
	Status fulfillment.Status `json:"status"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, from, err := h.Engine.Transition(ctx, orderID, req.Status)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheOrder(ctx, o)

	h.publish(h.Pub.Status, fulfillment.EventOrderStatusChanged, o.ID, r,
		fulfillment.OrderStatusChangedPayload{OrderID: o.ID, From: from, To: o.Status})

	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Engine.DeleteOrder(ctx, orderID); err != nil {
		writeErr(w, err)
		return
	}
	if h.Redis != nil {
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrder, orderID)).Err()
	}

	h.publish(h.Pub.Deleted, fulfillment.EventOrderDeleted, orderID, r,
		fulfillment.OrderDeletedPayload{OrderID: orderID})

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) listSKUs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	skus, err := h.Engine.ListSKUs(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, skus)
}

type createSKUReq struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	OnHand     int64  `json:"on_hand"`
}

func (h *OrdersHandler) createSKU(w http.ResponseWriter, r *http.Request) {
	var req createSKUReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.Engine.CreateSKU(ctx, fulfillment.SKU{
		ID: req.ID, Name: req.Name, PriceCents: req.PriceCents, OnHand: req.OnHand,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *OrdersHandler) deleteSKU(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Engine.DeleteSKU(ctx, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) skuAvailable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	n, err := h.Engine.Available(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"available": n})
}

func (h *OrdersHandler) cacheOrder(ctx context.Context, o *fulfillment.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrder, o.ID), b, redisx.TTLOrderCache).Err()
}

func (h *OrdersHandler) publish(p *kafkax.Producer, eventType, orderID string, r *http.Request, payload any) {
	if p == nil {
		return
	}
	ev := fulfillment.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(fulfillment.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
