package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plandomain "github.com/smallbiznis/clientbilling/internal/paymentplan/domain"
)

// paymentPlanView adds the derived state, which separates a cancellation
// still awaiting provider confirmation from a settled one.
type paymentPlanView struct {
	plandomain.PaymentPlan
	State     plandomain.PlanState `json:"state"`
	Remainder int64                `json:"installment_remainder"`
}

func newPaymentPlanView(plan *plandomain.PaymentPlan) *paymentPlanView {
	if plan == nil {
		return nil
	}
	return &paymentPlanView{
		PaymentPlan: *plan,
		State:       plan.State(),
		Remainder:   plan.InstallmentRemainder(),
	}
}

type createPaymentPlanRequest struct {
	InvoiceID    string `json:"invoice_id"`
	Installments int    `json:"installments"`
	Frequency    string `json:"frequency"`
}

func (s *Server) CreatePaymentPlan(c *gin.Context) {
	var req createPaymentPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.planSvc.CreatePlan(c.Request.Context(), plandomain.CreatePlanRequest{
		InvoiceID:    strings.TrimSpace(req.InvoiceID),
		Installments: req.Installments,
		Frequency:    plandomain.Frequency(strings.TrimSpace(req.Frequency)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": newPaymentPlanView(resp)})
}

func (s *Server) GetPaymentPlanByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := s.planSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newPaymentPlanView(resp)})
}

func (s *Server) AcceptPaymentPlan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req plandomain.AcceptRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.planSvc.AcceptPlan(c.Request.Context(), id, plandomain.AcceptRequest{
		Email: strings.TrimSpace(req.Email),
		Name:  strings.TrimSpace(req.Name),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":         newPaymentPlanView(resp),
		"checkout_url": resp.CheckoutURL,
	})
}

func (s *Server) CancelPaymentPlan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := s.planSvc.CancelPlan(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	changed := resp != nil
	if resp == nil {
		resp, err = s.planSvc.Get(c.Request.Context(), id)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": newPaymentPlanView(resp), "changed": changed})
}
