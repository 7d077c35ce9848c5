// Package api exposes the registry to the portal UI over HTTP.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/auth"
	"blue-carbon/registry-portal/registry-portal-backend/internal/certificates"
	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/lifecycle"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications/websocket"
	"blue-carbon/registry-portal/registry-portal-backend/internal/pinning"
	"blue-carbon/registry-portal/registry-portal-backend/internal/views"
)

// MaxUploadMemory bounds the in-memory part of a multipart document upload.
const MaxUploadMemory = 32 << 20

// Deps are the services behind the API.
type Deps struct {
	Orchestrator *lifecycle.Orchestrator
	Views        *views.Reconciler
	Source       *views.Source
	Pinner       *pinning.Coordinator
	Certificates *certificates.Generator
	Tokens       *auth.TokenService
	Sockets      *websocket.Manager
}

// Handler handles HTTP requests for registry operations
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new registry handler
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

// RegisterRoutes registers registry routes. Everything except the websocket
// endpoint requires a wallet token; the websocket accepts the token as a
// query parameter.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ws", h.serveWebSocket)

	api := router.Group("", auth.RequireWallet(h.deps.Tokens))
	{
		api.GET("/registry", h.getRegistry)
		api.POST("/registry/ensure", h.ensureRegistry)

		api.POST("/verifiers", h.registerVerifier)

		api.POST("/projects", h.registerProject)
		api.GET("/projects/:address", h.getProject)
		api.POST("/projects/:address/verify", h.verifyProject)
		api.POST("/projects/:address/mint", h.mintCredits)
		api.POST("/projects/:address/monitoring", h.submitMonitoring)

		api.GET("/credits/balance", h.getBalance)
		api.POST("/credits/transfer", h.transferCredits)
		api.POST("/credits/retire", h.retireCredits)
		api.GET("/credits/certificate", h.getCertificate)

		api.POST("/documents", h.pinDocuments)

		api.POST("/marketplace/listings", h.createListing)
		api.POST("/marketplace/listings/:address/purchase", h.purchaseListing)
		api.DELETE("/marketplace/listings/:address", h.cancelListing)

		api.GET("/views/:aggregate", h.getView)
		api.POST("/views/:aggregate/refetch", h.refetchView)
	}
}

// identity returns the authenticated wallet. RequireWallet guarantees it
// is present on every protected route.
func (h *Handler) identity(c *gin.Context) ledger.PublicKey {
	pk, _ := auth.Identity(c)
	return pk
}

func (h *Handler) pathAddress(c *gin.Context) (ledger.PublicKey, bool) {
	pk, err := ledger.ParsePublicKey(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return ledger.PublicKey{}, false
	}
	return pk, true
}

func requireAddress(c *gin.Context, field string, pk ledger.PublicKey) bool {
	if pk.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " is required"})
		return false
	}
	return true
}

// statusFor maps a classified failure to an HTTP status.
func statusFor(ce *failure.Error) int {
	switch ce.Kind {
	case failure.KindInvalidNamespaceInput:
		return http.StatusBadRequest
	case failure.KindUserCancelled:
		return http.StatusConflict
	case failure.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case failure.KindAccountMissingOrUninitialized:
		return http.StatusNotFound
	case failure.KindRemoteProgramRejected:
		return http.StatusUnprocessableEntity
	case failure.KindRegistryNotReady:
		return http.StatusServiceUnavailable
	case failure.KindNetworkUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a classified failure.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	ce := failure.Classify(err)
	status := statusFor(ce)
	switch {
	case errors.Is(err, lifecycle.ErrMissingContentID),
		errors.Is(err, pinning.ErrNoDocuments):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownSigner):
		status = http.StatusForbidden
	case errors.Is(err, lifecycle.ErrPinningDisabled):
		status = http.StatusNotImplemented
	case errors.Is(err, certificates.ErrNothingRetired):
		status = http.StatusNotFound
	case errors.Is(err, views.ErrSuperseded):
		status = http.StatusConflict
	case errors.Is(err, views.ErrClosed):
		status = http.StatusServiceUnavailable
	}

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("kind", string(ce.Kind)),
		zap.String("code", ce.Code),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", fields...)
	} else {
		h.logger.Warn("Request rejected", fields...)
	}
	c.JSON(status, gin.H{"error": ce})
}
