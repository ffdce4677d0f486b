package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adreel/adreel"
	"github.com/adreel/adreel/billing"
	"github.com/adreel/adreel/id"
	"github.com/adreel/adreel/job"
	"github.com/adreel/adreel/pipeline"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

// submit charges the principal when the policy says so, then enqueues
// the job.
func (s *Server) submit(c *gin.Context, name, queue string, payload any) {
	who := principal(c)

	if s.policy == adreel.ConsumeAtSubmission {
		if err := s.ledger.Consume(c.Request.Context(), who); err != nil {
			if errors.Is(err, adreel.ErrInsufficientCredits) {
				c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
				return
			}
			s.fail(c, err)
			return
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		s.fail(c, err)
		return
	}
	j, err := s.broker.Submit(c.Request.Context(), name, queue, who, raw)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": j.ID.String(),
		"status": string(j.State),
	})
}

func (s *Server) generate(c *gin.Context) {
	var req pipeline.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Normalize()
	s.submit(c, "generate", "video", req)
}

func (s *Server) analyze(c *gin.Context) {
	var req pipeline.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.submit(c, "analyze", "analysis", req)
}

func (s *Server) jobStatus(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	j, err := s.broker.Job(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, adreel.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		s.fail(c, err)
		return
	}
	// Jobs are visible to their owner only.
	if j.Principal != principal(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	resp := gin.H{"status": string(j.State)}
	if j.State == job.StateFinished {
		resp["result_url"] = j.ResultURL
	}
	if j.Failure != nil && j.State == job.StateFailed {
		resp["error"] = j.Failure.Message
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) credits(c *gin.Context) {
	balance, err := s.ledger.Balance(c.Request.Context(), principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": balance})
}

func (s *Server) billingOrder(c *gin.Context) {
	var req struct {
		Plan string `json:"plan" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.billing.CreateOrder(c.Request.Context(), principal(c), req.Plan)
	if err != nil {
		if errors.Is(err, adreel.ErrInvalidPlan) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan"})
			return
		}
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": order.ID,
		"amount":   order.Amount,
		"currency": order.Currency,
	})
}

func (s *Server) billingWebhook(c *gin.Context) {
	var req struct {
		OrderID   string `json:"razorpay_order_id" binding:"required"`
		PaymentID string `json:"razorpay_payment_id" binding:"required"`
		Signature string `json:"razorpay_signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	grant, err := s.billing.HandlePayment(c.Request.Context(), billing.Confirmation{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	switch {
	case errors.Is(err, adreel.ErrSignatureMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature mismatch"})
	case errors.Is(err, adreel.ErrPaymentNotCaptured):
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment not captured"})
	case errors.Is(err, adreel.ErrInvalidPlan):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan"})
	case errors.Is(err, adreel.ErrDuplicatePayment):
		c.JSON(http.StatusConflict, gin.H{"status": "already processed"})
	case err != nil:
		s.fail(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":  "applied",
			"plan":    grant.Plan,
			"credits": grant.Credits,
		})
	}
}

// fail logs an unexpected error and returns a bare 500.
func (s *Server) fail(c *gin.Context, err error) {
	s.logger.Error("request failed",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
