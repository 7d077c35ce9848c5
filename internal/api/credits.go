package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/certificates"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/views"
)

type transferRequest struct {
	To     ledger.PublicKey `json:"to"`
	Amount uint64           `json:"amount" binding:"required"`
}

// getBalance handles GET /api/v1/credits/balance
func (h *Handler) getBalance(c *gin.Context) {
	identity := h.identity(c)
	bal, err := h.deps.Orchestrator.Balance(c.Request.Context(), identity)
	if err != nil {
		h.fail(c, "balance", err)
		return
	}
	retired, err := h.deps.Orchestrator.Retired(c.Request.Context(), identity)
	if err != nil {
		h.fail(c, "balance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal, "retired": retired})
}

// transferCredits handles POST /api/v1/credits/transfer
func (h *Handler) transferCredits(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !requireAddress(c, "to", req.To) {
		return
	}
	receipt, err := h.deps.Orchestrator.Transfer(c.Request.Context(), h.identity(c), req.To, req.Amount)
	if err != nil {
		h.fail(c, "transfer_credits", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// retireCredits handles POST /api/v1/credits/retire
func (h *Handler) retireCredits(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receipt, err := h.deps.Orchestrator.Retire(c.Request.Context(), h.identity(c), req.Amount)
	if err != nil {
		h.fail(c, "retire_credits", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// getCertificate handles GET /api/v1/credits/certificate. The certificate
// attests to the caller's retirement sink as re-read from the ledger.
func (h *Handler) getCertificate(c *gin.Context) {
	ctx := c.Request.Context()
	identity := h.identity(c)

	retired, err := h.deps.Orchestrator.Retired(ctx, identity)
	if err != nil {
		h.fail(c, "certificate", err)
		return
	}
	econ, err := h.deps.Source.TokenEconomics(ctx, identity)
	if err != nil {
		h.fail(c, "certificate", err)
		return
	}
	retirement := certificates.Retirement{
		Holder:      identity,
		Sink:        retired.Account,
		Amount:      retired.Amount,
		Decimals:    econ.Decimals,
		Beneficiary: c.Query("beneficiary"),
		Reason:      c.Query("reason"),
		IssuedAt:    time.Now().UTC(),
	}
	if projects, err := h.deps.Source.UserProjects(ctx, identity); err == nil {
		retirement.Projects = projectLines(projects)
	} else {
		h.logger.Warn("Certificate rendered without project lines", zap.Error(err))
	}

	pdf, err := h.deps.Certificates.Bytes(retirement)
	if err != nil {
		h.fail(c, "certificate", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=retirement-%s.pdf", retirement.ID()))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// projectLines lists the holder's own projects with the credits each has
// issued.
func projectLines(projects []views.ProjectSummary) []certificates.ProjectLine {
	var lines []certificates.ProjectLine
	for _, p := range projects {
		if p.Project.CreditsIssued == 0 {
			continue
		}
		lines = append(lines, certificates.ProjectLine{
			ProjectID: p.Project.ProjectID,
			Ecosystem: p.Project.Ecosystem.Type,
			Credits:   p.Project.CreditsIssued,
		})
	}
	return lines
}
