package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ratedomain "github.com/smallbiznis/clientbilling/internal/rate/domain"
)

type createRateRequest struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	UnitLabel string `json:"unit_label"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency"`
}

func (s *Server) CreateRate(c *gin.Context) {
	var req createRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.rateSvc.Create(c.Request.Context(), ratedomain.CreateRequest{
		Code:      strings.TrimSpace(req.Code),
		Name:      strings.TrimSpace(req.Name),
		UnitLabel: strings.TrimSpace(req.UnitLabel),
		UnitPrice: req.UnitPrice,
		Currency:  strings.TrimSpace(req.Currency),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListRates(c *gin.Context) {
	activeOnly, err := parseOptionalBool(c.Query("active"))
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	req := ratedomain.ListRequest{}
	if activeOnly != nil {
		req.ActiveOnly = *activeOnly
	}
	resp, err := s.rateSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRateByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := s.rateSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateRate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req ratedomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.rateSvc.Update(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteRate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.rateSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
