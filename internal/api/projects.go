package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/lifecycle"
	"blue-carbon/registry-portal/registry-portal-backend/internal/pinning"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/geospatial"
)

type registerProjectRequest struct {
	ProjectID     string           `json:"projectId" binding:"required"`
	ContentID     string           `json:"contentId"`
	EstimatedTons uint64           `json:"estimatedTons" binding:"required"`
	Ecosystem     ledger.Ecosystem `json:"ecosystem"`
	// Boundary is an optional GeoJSON outline of the site. When given it
	// sets the ecosystem's area and centroid.
	Boundary json.RawMessage `json:"boundary"`
}

type verifyProjectRequest struct {
	ReportCID     string `json:"reportCid"`
	VerifiedTons  uint64 `json:"verifiedTons"`
	Approve       bool   `json:"approve"`
	Confidence    uint8  `json:"confidence"`
	QualityRating uint8  `json:"qualityRating"`
}

type amountRequest struct {
	Amount uint64 `json:"amount" binding:"required"`
}

type monitoringRequest struct {
	Timestamp int64                 `json:"timestamp"`
	Data      ledger.MonitoringData `json:"data"`
}

type registerVerifierRequest struct {
	Identity     ledger.PublicKey `json:"identity"`
	VerifierType string           `json:"verifierType" binding:"required"`
	Credentials  string           `json:"credentials"`
}

// getRegistry handles GET /api/v1/registry
func (h *Handler) getRegistry(c *gin.Context) {
	status, err := h.deps.Orchestrator.RegistryStatus(c.Request.Context())
	if err != nil {
		h.fail(c, "registry_status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ensureRegistry handles POST /api/v1/registry/ensure
func (h *Handler) ensureRegistry(c *gin.Context) {
	status, err := h.deps.Orchestrator.EnsureRegistry(c.Request.Context(), h.identity(c))
	if err != nil {
		h.fail(c, "ensure_registry", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// registerVerifier handles POST /api/v1/verifiers
func (h *Handler) registerVerifier(c *gin.Context) {
	var req registerVerifierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !requireAddress(c, "identity", req.Identity) {
		return
	}
	receipt, err := h.deps.Orchestrator.RegisterVerifier(c.Request.Context(), lifecycle.RegisterVerifierRequest{
		Admin:        h.identity(c),
		Identity:     req.Identity,
		VerifierType: req.VerifierType,
		Credentials:  req.Credentials,
	})
	if err != nil {
		h.fail(c, "register_verifier", err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// registerProject handles POST /api/v1/projects. A multipart body carries
// the request as a "metadata" JSON field plus "documents" files, which are
// pinned before registration.
func (h *Handler) registerProject(c *gin.Context) {
	var req registerProjectRequest
	var documents []pinning.File
	if c.ContentType() == "multipart/form-data" {
		if err := json.Unmarshal([]byte(c.PostForm("metadata")), &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid metadata: " + err.Error()})
			return
		}
		files, err := readFiles(c, "documents")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		documents = files
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ProjectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectId is required"})
		return
	}
	if len(req.Boundary) > 0 {
		if err := applyBoundary(&req.Ecosystem, req.Boundary); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid boundary: " + err.Error()})
			return
		}
	}

	receipt, err := h.deps.Orchestrator.Register(c.Request.Context(), lifecycle.RegisterRequest{
		Owner:         h.identity(c),
		ProjectID:     req.ProjectID,
		ContentID:     req.ContentID,
		EstimatedTons: req.EstimatedTons,
		Ecosystem:     req.Ecosystem,
		Documents:     documents,
	})
	if err != nil {
		h.fail(c, "register_project", err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// getProject handles GET /api/v1/projects/:address
func (h *Handler) getProject(c *gin.Context) {
	addr, ok := h.pathAddress(c)
	if !ok {
		return
	}
	status, err := h.deps.Orchestrator.ProjectStatus(c.Request.Context(), addr)
	if err != nil {
		h.fail(c, "project_status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// verifyProject handles POST /api/v1/projects/:address/verify
func (h *Handler) verifyProject(c *gin.Context) {
	addr, ok := h.pathAddress(c)
	if !ok {
		return
	}
	var req verifyProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receipt, err := h.deps.Orchestrator.Verify(c.Request.Context(), lifecycle.VerifyRequest{
		Project:       addr,
		Validator:     h.identity(c),
		ReportCID:     req.ReportCID,
		VerifiedTons:  req.VerifiedTons,
		Approve:       req.Approve,
		Confidence:    req.Confidence,
		QualityRating: req.QualityRating,
	})
	if err != nil {
		h.fail(c, "verify_project", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// mintCredits handles POST /api/v1/projects/:address/mint
func (h *Handler) mintCredits(c *gin.Context) {
	addr, ok := h.pathAddress(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receipt, err := h.deps.Orchestrator.MintCredits(c.Request.Context(), addr, h.identity(c), req.Amount)
	if err != nil {
		h.fail(c, "mint_credits", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// submitMonitoring handles POST /api/v1/projects/:address/monitoring
func (h *Handler) submitMonitoring(c *gin.Context) {
	addr, ok := h.pathAddress(c)
	if !ok {
		return
	}
	var req monitoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receipt, err := h.deps.Orchestrator.SubmitMonitoring(c.Request.Context(), lifecycle.MonitoringRequest{
		Submitter: h.identity(c),
		Project:   addr,
		Timestamp: req.Timestamp,
		Data:      req.Data,
	})
	if err != nil {
		h.fail(c, "submit_monitoring", err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// pinDocuments handles POST /api/v1/documents
func (h *Handler) pinDocuments(c *gin.Context) {
	if h.deps.Pinner == nil {
		h.fail(c, "pin_documents", lifecycle.ErrPinningDisabled)
		return
	}
	files, err := readFiles(c, "files")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.deps.Pinner.Pin(c.Request.Context(), files)
	if err != nil {
		h.fail(c, "pin_documents", err)
		return
	}
	status := http.StatusCreated
	if res.FailedCount > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, res)
}

// readFiles reads every file of a multipart field into memory.
func readFiles(c *gin.Context, field string) ([]pinning.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	headers := form.File[field]
	files := make([]pinning.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, pinning.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

func applyBoundary(eco *ledger.Ecosystem, raw json.RawMessage) error {
	g, err := geospatial.ParseBoundary(raw)
	if err != nil {
		return err
	}
	site, err := geospatial.Describe(g)
	if err != nil {
		return err
	}
	eco.AreaHectares = site.Hectares
	eco.Latitude = site.Latitude()
	eco.Longitude = site.Longitude()
	return nil
}
