package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"blue-carbon/registry-portal/registry-portal-backend/internal/auth"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/views"
)

// SessionHeader lets one token drive several independent UI sessions, such
// as browser tabs. It defaults to the token's session id.
const SessionHeader = "X-View-Session"

func (h *Handler) resolveView(c *gin.Context) (views.View, bool) {
	req := views.Request{
		Name:     views.Name(c.Param("aggregate")),
		Session:  c.GetHeader(SessionHeader),
		Identity: h.identity(c),
	}
	if req.Session == "" {
		if claims, ok := auth.ClaimsFrom(c); ok {
			req.Session = claims.SessionID
		}
	}
	if p := c.Query("project"); p != "" {
		pk, err := ledger.ParsePublicKey(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil, false
		}
		req.Project = pk
	}
	v, err := h.deps.Views.Resolve(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, views.ErrClosed) {
			h.fail(c, "resolve_view", err)
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return v, true
}

// getView handles GET /api/v1/views/:aggregate. The first request mounts
// the aggregate; later ones return the current snapshot, stale or not.
func (h *Handler) getView(c *gin.Context) {
	v, ok := h.resolveView(c)
	if !ok {
		return
	}
	snap, err := v.Mount(c.Request.Context())
	if err != nil && snap.Error == nil {
		h.fail(c, "view_"+v.Name(), err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// refetchView handles POST /api/v1/views/:aggregate/refetch
func (h *Handler) refetchView(c *gin.Context) {
	v, ok := h.resolveView(c)
	if !ok {
		return
	}
	snap, err := v.Refetch(c.Request.Context())
	if err != nil && snap.Error == nil {
		h.fail(c, "refetch_"+v.Name(), err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
