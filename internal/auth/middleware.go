package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

const (
	identityKey = "wallet_identity"
	claimsKey   = "wallet_claims"
)

// RequireWallet rejects requests without a valid bearer token and stores
// the wallet identity on the gin context.
func RequireWallet(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		identity, err := claims.Identity()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(identityKey, identity)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Identity returns the authenticated wallet identity.
func Identity(c *gin.Context) (ledger.PublicKey, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return ledger.PublicKey{}, false
	}
	pk, ok := v.(ledger.PublicKey)
	return pk, ok
}

// ClaimsFrom returns the validated token claims.
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
