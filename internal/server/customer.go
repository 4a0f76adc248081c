package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/clientbilling/internal/customer/domain"
)

type createCustomerRequest struct {
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Currency string         `json:"currency"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.customerSvc.Create(c.Request.Context(), customerdomain.CreateCustomerRequest{
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		Currency: strings.TrimSpace(req.Currency),
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListCustomers(c *gin.Context) {
	pageSize, err := parseOptionalInt(c.Query("page_size"))
	if err != nil || pageSize < 0 {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	resp, err := s.customerSvc.List(c.Request.Context(), customerdomain.ListCustomerRequest{
		Name:     strings.TrimSpace(c.Query("name")),
		Email:    strings.TrimSpace(c.Query("email")),
		PageSize: pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCustomerByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	parsed, _ := snowflake.ParseString(id)

	resp, err := s.customerSvc.GetByID(c.Request.Context(), parsed)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
