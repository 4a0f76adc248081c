package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/clientbilling/internal/invoice/domain"
	"github.com/smallbiznis/clientbilling/pkg/db/pagination"
)

func (s *Server) GenerateProjectInvoice(c *gin.Context) {
	var req invoicedomain.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)

	resp, err := s.invoiceSvc.GenerateForProject(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondGenerated(c, resp)
}

func (s *Server) GenerateAgentCostInvoice(c *gin.Context) {
	var req invoicedomain.AgentCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.ProjectID = strings.TrimSpace(req.ProjectID)

	resp, err := s.invoiceSvc.GenerateForAgentCosts(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondGenerated(c, resp)
}

// respondGenerated answers 200 with null data when nothing was unbilled.
func respondGenerated(c *gin.Context, inv *invoicedomain.Invoice) {
	if inv == nil {
		c.JSON(http.StatusOK, gin.H{"data": nil, "generated": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": inv, "generated": true})
}

func (s *Server) MarkOverdueInvoices(c *gin.Context) {
	count, err := s.invoiceSvc.MarkOverdue(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"updated": count}})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
		ProjectID  string `form:"project_id"`
		Status     string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		CustomerID: strings.TrimSpace(query.CustomerID),
		ProjectID:  strings.TrimSpace(query.ProjectID),
		Status:     strings.ToLower(strings.TrimSpace(query.Status)),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

type setInvoiceStatusRequest struct {
	Status string `json:"status"`
}

// SetInvoiceStatus is the administrative override. A paid invoice never
// moves back to another status.
func (s *Server) SetInvoiceStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req setInvoiceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	status := invoicedomain.InvoiceStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		AbortWithError(c, invoicedomain.ErrInvalidStatus)
		return
	}

	resp, err := s.invoiceSvc.SetStatus(c.Request.Context(), id, status, invoicedomain.KeepPaid())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.invoiceSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ListInvoicePaymentPlans(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := s.planSvc.ListByInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
