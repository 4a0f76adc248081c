package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	workdomain "github.com/smallbiznis/clientbilling/internal/workentry/domain"
)

func (s *Server) RecordWorkEntry(c *gin.Context) {
	var req workdomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.workSvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetWorkEntryByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := s.workSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListWorkEntries(c *gin.Context) {
	req, ok := bindWorkListQuery(c)
	if !ok {
		return
	}

	resp, err := s.workSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RecordAgentCost(c *gin.Context) {
	var req workdomain.RecordAgentCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.workSvc.RecordAgentCost(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListAgentCosts(c *gin.Context) {
	req, ok := bindWorkListQuery(c)
	if !ok {
		return
	}

	resp, err := s.workSvc.ListAgentCosts(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func bindWorkListQuery(c *gin.Context) (workdomain.ListRequest, bool) {
	var query struct {
		ProjectID  string `form:"project_id"`
		CustomerID string `form:"customer_id"`
		InvoiceID  string `form:"invoice_id"`
		State      string `form:"state"`
		PageSize   string `form:"page_size"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return workdomain.ListRequest{}, false
	}

	pageSize, err := parseOptionalInt(query.PageSize)
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return workdomain.ListRequest{}, false
	}

	return workdomain.ListRequest{
		ProjectID:  strings.TrimSpace(query.ProjectID),
		CustomerID: strings.TrimSpace(query.CustomerID),
		InvoiceID:  strings.TrimSpace(query.InvoiceID),
		State:      workdomain.StateFilter(strings.ToLower(strings.TrimSpace(query.State))),
		PageSize:   pageSize,
	}, true
}
