package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type confirmCheckoutRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

type portalRequest struct {
	ReturnURL string `json:"return_url" binding:"required"`
}

func (s *Server) ConfirmCheckout(c *gin.Context) {
	var req confirmCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("session_id is required"))
		return
	}

	result, err := s.invoiceSvc.Confirm(c.Request.Context(), userIDFrom(c), strings.TrimSpace(req.SessionID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":     newInvoiceView(result.Invoice),
		"replayed": result.Replayed,
	})
}

func (s *Server) GetSubscription(c *gin.Context) {
	sub, err := s.subscriptionSvc.Current(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	sub, err := s.subscriptionSvc.CancelAtPeriodEnd(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	sub, err := s.subscriptionSvc.Resume(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) CreatePortalSession(c *gin.Context) {
	var req portalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("return_url is required"))
		return
	}

	url, err := s.subscriptionSvc.PortalURL(c.Request.Context(), userIDFrom(c), strings.TrimSpace(req.ReturnURL))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) ListInvoices(c *gin.Context) {
	items, err := s.invoiceSvc.ListForUser(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newInvoiceViews(items)})
}
