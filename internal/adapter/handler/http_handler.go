package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/stock-allocation/internal/core/service"
	"github.com/rl1809/stock-allocation/internal/metrics"
)

type HTTPHandler struct {
	allocations *service.AllocationService
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func NewHTTPHandler(allocations *service.AllocationService, m *metrics.Metrics, log *slog.Logger) *HTTPHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPHandler{allocations: allocations, metrics: m, log: log}
}

// Register mounts the API routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sales", h.CreateSale)
	mux.HandleFunc("GET /api/sales/{id}", h.GetSale)
	mux.HandleFunc("PUT /api/sales/{id}", h.UpdateSale)
	mux.HandleFunc("DELETE /api/sales/{id}", h.DeleteSale)
	mux.HandleFunc("GET /api/items", h.FindItem)
	mux.HandleFunc("GET /api/items/{id}/batches", h.ListBatches)
	mux.HandleFunc("GET /api/items/{id}/containers", h.ContainerGroups)
	mux.HandleFunc("POST /api/items/{id}/preview", h.Preview)
	mux.HandleFunc("GET /api/items/{id}/verify", h.Verify)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

func (h *HTTPHandler) CreateSale(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return
	}

	create, err := req.toCreate()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.allocations.CreateSaleAllocation(r.Context(), create)
	h.metrics.ObserveSaleOperation("http", "create", outcomeOf(err), time.Since(start))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, Response{Success: true, Data: newSaleView(result)})
}

func (h *HTTPHandler) UpdateSale(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return
	}

	update, err := req.toUpdate(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.allocations.UpdateSaleAllocation(r.Context(), update)
	h.metrics.ObserveSaleOperation("http", "update", outcomeOf(err), time.Since(start))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: newSaleView(result)})
}

func (h *HTTPHandler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := h.allocations.DeleteSaleAllocation(r.Context(), r.PathValue("id"))
	h.metrics.ObserveSaleOperation("http", "delete", outcomeOf(err), time.Since(start))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Message: "sale deleted"})
}

func (h *HTTPHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	result, err := h.allocations.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: newSaleView(result)})
}

// FindItem serves ?name=<display name>, matched after normalization.
func (h *HTTPHandler) FindItem(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		h.fail(w, r, fmt.Errorf("%w: name is required", errBadRequest))
		return
	}

	item, err := h.allocations.FindItem(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: ItemView{ID: item.ID, Name: item.Name}})
}

// ListBatches serves ?exclude=1,2&for_sale=<id>&as_of=<rfc3339>&order=id|unload_date.
func (h *HTTPHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathItemID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	qs := r.URL.Query()
	req := BatchListRequest{
		ItemID:    itemID,
		ForSaleID: qs.Get("for_sale"),
		AsOf:      qs.Get("as_of"),
		Order:     qs.Get("order"),
	}
	if raw := qs.Get("exclude"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				h.fail(w, r, fmt.Errorf("%w: exclude: %q is not a batch id", errBadRequest, part))
				return
			}
			req.ExcludeBatchIDs = append(req.ExcludeBatchIDs, id)
		}
	}

	q, err := req.query()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	batches, err := h.allocations.ListAvailableBatches(r.Context(), itemID, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: newBatchList(batches)})
}

func (h *HTTPHandler) ContainerGroups(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathItemID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	groups, err := h.allocations.ContainerGroups(r.Context(), itemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: newContainerGroupViews(groups)})
}

// Preview resolves a sale request against current stock without writing.
func (h *HTTPHandler) Preview(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathItemID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return
	}
	req.ItemID = itemID

	create, err := req.toCreate()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	plan, shortfall, err := h.allocations.PreviewAllocation(r.Context(), create)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: newPlanView(plan, shortfall)})
}

func (h *HTTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathItemID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	report, err := h.allocations.Verify(r.Context(), itemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.ObserveDrift(strconv.FormatInt(itemID, 10), report.Drift.InexactFloat64(), report.Healthy())

	writeJSON(w, http.StatusOK, Response{Success: true, Data: newReportView(report)})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	f := classify(err)
	if f.status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, f.status, Response{Success: false, Message: f.message})
}

func pathItemID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid item id %q", errBadRequest, r.PathValue("id"))
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
