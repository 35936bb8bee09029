package handlers

import (
	"net/http"
	"strconv"
	"time"

	"boxoffice/internal/middleware"
	"boxoffice/internal/models"
	"boxoffice/internal/service"

	"github.com/gin-gonic/gin"
)

// GetTicket - GET /api/tickets/:token
// Проверить билет по токену
func (h *Handlers) GetTicket(c *gin.Context) {
	ticket, err := h.tickets.Lookup(c.Request.Context(), c.Param("token"))
	if err != nil {
		handleServiceError(c, err, "Failed to get ticket")
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// ResendTicket - POST /api/admin/tickets/:token/resend
// Повторно отправить подтверждение покупателю
func (h *Handlers) ResendTicket(c *gin.Context) {
	ticket, err := h.tickets.Resend(c.Request.Context(), c.Param("token"))
	if err != nil {
		handleServiceError(c, err, "Failed to resend ticket")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent", "email": ticket.PurchaserEmail})
}

// CheckInTicket - POST /api/admin/tickets/:token/checkin
// Отметить проход по билету
func (h *Handlers) CheckInTicket(c *gin.Context) {
	ticket, already, err := h.tickets.CheckIn(c.Request.Context(), c.Param("token"))
	if err != nil {
		handleServiceError(c, err, "Failed to check in ticket")
		return
	}

	status := "ok"
	if already {
		status = "already"
	}
	c.JSON(http.StatusOK, models.CheckInResponse{Status: status, Ticket: *ticket})
}

// IssueTickets - POST /api/admin/tickets/issue
// Выпустить билеты за наличные или пригласительные
func (h *Handlers) IssueTickets(c *gin.Context) {
	var req models.IssueTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tickets, err := h.tickets.Issue(c.Request.Context(), &req, middleware.AdminUser(c))
	if err != nil {
		handleServiceError(c, err, "Failed to issue tickets")
		return
	}

	c.JSON(http.StatusCreated, models.IssueTicketsResponse{Tickets: tickets})
}

// SearchTickets - GET /api/admin/tickets/search
// Найти билеты по email или имени покупателя
func (h *Handlers) SearchTickets(c *gin.Context) {
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	tickets, total, err := h.tickets.Search(c.Request.Context(), c.Query("q"), size)
	if err != nil {
		handleServiceError(c, err, "Failed to search tickets")
		return
	}

	c.JSON(http.StatusOK, models.TicketSearchResponse{Total: total, Tickets: tickets})
}

// SweepReservations - POST /api/admin/reaper/sweep
// Удалить просроченные брони вручную
func (h *Handlers) SweepReservations(c *gin.Context) {
	var req models.SweepRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.OlderThanMin < 0 || req.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_min and limit must not be negative"})
		return
	}

	result, err := h.reaper.Sweep(c.Request.Context(), service.SweepOptions{
		OlderThan: time.Duration(req.OlderThanMin) * time.Minute,
		Limit:     req.Limit,
		DryRun:    req.DryRun.Bool(),
	})
	if err != nil {
		handleServiceError(c, err, "Failed to sweep reservations")
		return
	}

	c.JSON(http.StatusOK, result)
}
