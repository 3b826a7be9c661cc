package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/bissquit/push-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// Handler-level error codes.
const (
	CodeInvalidPagination = "invalid_pagination"
	CodeRequestTooLarge   = "request_too_large"
)

// maxRequestBytes caps a broadcast request body. It covers the longest valid
// title, body and url even when every character is JSON-escaped.
const maxRequestBytes = 64 << 10

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidAudience, Status: http.StatusBadRequest, Code: string(ReasonInvalidAudience), Message: ErrInvalidAudience.Message},
	{Error: ErrEmptyTitle, Status: http.StatusBadRequest, Code: string(ReasonEmptyTitle), Message: ErrEmptyTitle.Message},
	{Error: ErrEmptyBody, Status: http.StatusBadRequest, Code: string(ReasonEmptyBody), Message: ErrEmptyBody.Message},
	{Error: ErrTitleTooLong, Status: http.StatusBadRequest, Code: string(ReasonTitleTooLong), Message: ErrTitleTooLong.Message},
	{Error: ErrBodyTooLong, Status: http.StatusBadRequest, Code: string(ReasonBodyTooLong), Message: ErrBodyTooLong.Message},
	{Error: ErrInvalidURL, Status: http.StatusBadRequest, Code: string(ReasonInvalidURL), Message: ErrInvalidURL.Message},
	{Error: ErrRecipientsUnavailable, Status: http.StatusServiceUnavailable, Code: "recipients_unavailable", Message: "recipient directory is unavailable, broadcast not completed"},
	{Error: ErrHistoryUnavailable, Status: http.StatusServiceUnavailable, Code: "history_unavailable", Message: "broadcast history is unavailable"},
	{Error: ErrShuttingDown, Status: http.StatusServiceUnavailable, Code: "shutting_down", Message: "server is shutting down, broadcast not started"},
}

// Handler handles HTTP requests for broadcasts.
type Handler struct {
	service *Service
}

// NewHandler creates a new broadcast handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers broadcast routes. They are meant for admins only.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/broadcasts", func(r chi.Router) {
		r.Post("/", h.CreateBroadcast)
		r.Get("/audience-stats", h.GetAudienceStats)
		r.Get("/history", h.ListHistory)
	})
}

// CreateBroadcastRequest represents request body for sending a broadcast.
type CreateBroadcastRequest struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	URL            string `json:"url,omitempty"`
	TargetAudience string `json:"targetAudience"`
}

// ReportResponse is the delivery summary of a broadcast.
type ReportResponse struct {
	TotalUsers       int `json:"totalUsers"`
	SentSuccessfully int `json:"sentSuccessfully"`
	Failed           int `json:"failed"`
	NoSubscription   int `json:"noSubscription"`
}

// AudienceStatResponse counts one audience.
type AudienceStatResponse struct {
	Audience string `json:"audience"`
	Total    int    `json:"total"`
	WithPush int    `json:"withPush"`
}

// HistoryEntryResponse is one broadcast history record.
type HistoryEntryResponse struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	URL            string         `json:"url,omitempty"`
	TargetAudience string         `json:"targetAudience"`
	Report         ReportResponse `json:"report"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// HistoryResponse is a page of broadcast history.
type HistoryResponse struct {
	Entries []HistoryEntryResponse `json:"entries"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// CreateBroadcast handles POST /broadcasts.
func (h *Handler) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req CreateBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, CodeRequestTooLarge,
				fmt.Sprintf("request body must be at most %d bytes", tooLarge.Limit))
			return
		}
		httputil.Error(w, http.StatusBadRequest, httputil.CodeInvalidJSON, "invalid json")
		return
	}

	ctx := r.Context()
	if userID := httputil.GetUserID(ctx); userID != "" {
		ctx = ctxlog.With(ctx, "sender_id", userID)
	}

	report, err := h.service.Broadcast(ctx, domain.BroadcastRequest{
		Title:    req.Title,
		Body:     req.Body,
		URL:      req.URL,
		Audience: domain.AudienceKind(req.TargetAudience),
	})
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, toReportResponse(report))
}

// GetAudienceStats handles GET /broadcasts/audience-stats.
func (h *Handler) GetAudienceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.AudienceStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := make([]AudienceStatResponse, 0, len(stats))
	for _, s := range stats {
		resp = append(resp, AudienceStatResponse{
			Audience: string(s.Audience),
			Total:    s.Total,
			WithPush: s.WithPush,
		})
	}

	httputil.Success(w, http.StatusOK, resp)
}

// ListHistory handles GET /broadcasts/history.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, CodeInvalidPagination, err.Error())
		return
	}

	page, err := h.service.ListHistory(r.Context(), limit, offset)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := HistoryResponse{
		Entries: make([]HistoryEntryResponse, 0, len(page.Entries)),
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	}
	for _, e := range page.Entries {
		resp.Entries = append(resp.Entries, HistoryEntryResponse{
			ID:             e.ID,
			Title:          e.Title,
			Body:           e.Body,
			URL:            e.URL,
			TargetAudience: string(e.Audience),
			Report:         toReportResponse(e.Report),
			CreatedAt:      e.CreatedAt,
		})
	}

	httputil.Success(w, http.StatusOK, resp)
}

// parsePagination reads limit and offset. Missing values fall back to the
// service defaults; limits above MaxHistoryLimit are clamped by the service.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
	}

	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}

	return limit, offset, nil
}

func toReportResponse(r domain.BroadcastReport) ReportResponse {
	return ReportResponse{
		TotalUsers:       r.TotalRecipients,
		SentSuccessfully: r.SentSuccessfully,
		Failed:           r.Failed,
		NoSubscription:   r.NoSubscription,
	}
}
