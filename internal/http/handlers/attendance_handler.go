package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fieldtrack/attendance/internal/attendance"
	"github.com/fieldtrack/attendance/internal/domain"
	appmw "github.com/fieldtrack/attendance/internal/http/middleware"
	"github.com/fieldtrack/attendance/internal/http/response"
	"github.com/fieldtrack/attendance/internal/syncer"
)

type AttendanceService interface {
	ClockIn(ctx context.Context, user *domain.User, in attendance.ClockInInput) (*domain.AttendanceRecord, error)
	ClockOut(ctx context.Context, user *domain.User, in attendance.ClockOutInput) (*domain.AttendanceRecord, error)
	Active(ctx context.Context, userID int64) (*domain.AttendanceRecord, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.AttendanceRecord, error)
}

type SyncService interface {
	Reconcile(ctx context.Context, userID int64, records []syncer.Record) *syncer.Report
}

type AttendanceHandler struct {
	engine       AttendanceService
	sync         SyncService
	maxBatchSize int
}

func NewAttendanceHandler(engine AttendanceService, sync SyncService, maxBatchSize int) *AttendanceHandler {
	if maxBatchSize <= 0 {
		maxBatchSize = 100
	}
	return &AttendanceHandler{engine: engine, sync: sync, maxBatchSize: maxBatchSize}
}

func (h *AttendanceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/clock-in", h.clockIn)
	r.Post("/clock-out", h.clockOut)
	r.Get("/active", h.active)
	r.Get("/", h.list)
	r.Post("/sync", h.syncBatch)
	return r
}

func (h *AttendanceHandler) clockIn(w http.ResponseWriter, r *http.Request) {
	user := appmw.CurrentUser(r)

	var in attendance.ClockInInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	rec, err := h.engine.ClockIn(r.Context(), user, in)
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, rec)
}

func (h *AttendanceHandler) clockOut(w http.ResponseWriter, r *http.Request) {
	user := appmw.CurrentUser(r)

	var in attendance.ClockOutInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	rec, err := h.engine.ClockOut(r.Context(), user, in)
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, rec)
}

func (h *AttendanceHandler) active(w http.ResponseWriter, r *http.Request) {
	user := appmw.CurrentUser(r)

	rec, err := h.engine.Active(r.Context(), user.ID)
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}
	if rec == nil {
		response.WriteJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"active": true, "record": rec})
}

func (h *AttendanceHandler) list(w http.ResponseWriter, r *http.Request) {
	user := appmw.CurrentUser(r)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.engine.ListByUser(r.Context(), user.ID, limit, offset)
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.AttendanceRecord{}
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (h *AttendanceHandler) syncBatch(w http.ResponseWriter, r *http.Request) {
	user := appmw.CurrentUser(r)

	var req struct {
		Records []syncer.Record `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if len(req.Records) == 0 {
		response.BadRequest(w, "records is required")
		return
	}
	if len(req.Records) > h.maxBatchSize {
		response.BadRequest(w, "batch exceeds maximum size of "+strconv.Itoa(h.maxBatchSize))
		return
	}

	report := h.sync.Reconcile(r.Context(), user.ID, req.Records)
	response.WriteJSON(w, http.StatusOK, report)
}
