package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/lifecycle"
)

type createListingRequest struct {
	Project      ledger.PublicKey `json:"project"`
	Quantity     uint64           `json:"quantity" binding:"required"`
	PricePerUnit uint64           `json:"pricePerUnit" binding:"required"`
	Vintage      int              `json:"vintage"`
}

type purchaseRequest struct {
	Quantity uint64 `json:"quantity" binding:"required"`
}

// createListing handles POST /api/v1/marketplace/listings
func (h *Handler) createListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !requireAddress(c, "project", req.Project) {
		return
	}
	receipt, err := h.deps.Orchestrator.CreateListing(c.Request.Context(), lifecycle.ListingRequest{
		Seller:       h.identity(c),
		Project:      req.Project,
		Quantity:     req.Quantity,
		PricePerUnit: req.PricePerUnit,
		Vintage:      req.Vintage,
	})
	if err != nil {
		h.fail(c, "create_listing", err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// purchaseListing handles POST /api/v1/marketplace/listings/:address/purchase
func (h *Handler) purchaseListing(c *gin.Context) {
	addr, ok := h.pathAddress(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receipt, err := h.deps.Orchestrator.PurchaseListing(c.Request.Context(), h.identity(c), addr, req.Quantity)
	if err != nil {
		h.fail(c, "purchase_listing", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// cancelListing handles DELETE /api/v1/marketplace/listings/:address
func (h *Handler) cancelListing(c *gin.Context) {
	addr, ok := h.pathAddress(c)
	if !ok {
		return
	}
	receipt, err := h.deps.Orchestrator.CancelListing(c.Request.Context(), h.identity(c), addr)
	if err != nil {
		h.fail(c, "cancel_listing", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}
