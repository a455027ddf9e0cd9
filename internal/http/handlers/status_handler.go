// Status HTTP handlers.
//
// This file exposes read-only request lookups:
//   - GET /requests          (list, paginated)
//   - GET /requests/{id}     (single request with its transition history)
//
// Status reads never mutate pipeline state; requesters and operators poll
// them to follow a request from RECEIVED to its terminal state.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-mint-node/internal/domain"
	"github.com/tbourn/go-mint-node/internal/repo"
	"github.com/tbourn/go-mint-node/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// RequestStatusResponse wraps a request and its transition history.
type RequestStatusResponse struct {
	Request     domain.Request      `json:"request"`
	Transitions []domain.Transition `json:"transitions"`
}

// ListRequestsResponse wraps a page of requests and pagination information.
type ListRequestsResponse struct {
	Requests   []domain.Request `json:"requests"`
	Pagination Pagination       `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// GetRequest returns a single request with its transition history.
//
// Responses:
//   - 200 OK with RequestStatusResponse
//   - 400 Bad Request when the id is not a UUID
//   - 404 Not Found when no request has that id
func (h *Handlers) GetRequest(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request id")
		return
	}

	req, hist, err := h.status.Get(c.Request.Context(), id)
	switch {
	case err == nil:
		ok(c, http.StatusOK, RequestStatusResponse{Request: *req, Transitions: hist})
	case errors.Is(err, repo.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "request not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load request")
	}
}

// ListRequests returns a page of requests, newest first.
//
// Responses:
//   - 200 OK with ListRequestsResponse
//   - 500 Internal Server Error when the query fails
func (h *Handlers) ListRequests(c *gin.Context) {
	page, pageSize := clampPagination(c)

	reqs, total, err := h.status.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list requests")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListRequestsResponse{
		Requests: reqs,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
