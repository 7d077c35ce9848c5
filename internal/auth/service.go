package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/security"
)

const (
	challengeTTL   = 5 * time.Minute
	challengeLimit = 4096
)

var (
	ErrUnknownChallenge = errors.New("unknown or expired challenge")
	ErrBadSignature     = errors.New("signature does not match identity")
)

// Challenge is a one-time message a wallet signs to prove it holds the key
// for Identity.
type Challenge struct {
	Nonce     string           `json:"nonce"`
	Identity  ledger.PublicKey `json:"identity"`
	Message   string           `json:"message"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Session is the result of a successful login.
type Session struct {
	Token     string           `json:"token"`
	Identity  ledger.PublicKey `json:"identity"`
	SessionID string           `json:"session_id"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Service authenticates wallets by signed challenge and issues tokens.
type Service struct {
	tokens     *TokenService
	challenges *expirable.LRU[string, Challenge]
	signatures security.Validator
	issuer     string
	logger     *zap.Logger
}

func NewService(tokens *TokenService, issuer string, logger *zap.Logger) *Service {
	return &Service{
		tokens:     tokens,
		challenges: expirable.NewLRU[string, Challenge](challengeLimit, nil, challengeTTL),
		signatures: security.NewValidator(),
		issuer:     issuer,
		logger:     logger,
	}
}

func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// NewChallenge creates a challenge for identity.
func (s *Service) NewChallenge(identity ledger.PublicKey) (Challenge, error) {
	if identity.IsZero() {
		return Challenge{}, fmt.Errorf("identity is required")
	}
	nonce := uuid.NewString()
	c := Challenge{
		Nonce:     nonce,
		Identity:  identity,
		Message:   fmt.Sprintf("Sign in to %s\nwallet: %s\nnonce: %s", s.issuer, identity, nonce),
		ExpiresAt: time.Now().Add(challengeTTL),
	}
	s.challenges.Add(nonce, c)
	return c, nil
}

// Login consumes a challenge and, if signature is the identity's ed25519
// signature over the challenge message, issues a token.
func (s *Service) Login(nonce, signature string) (*Session, error) {
	c, ok := s.challenges.Get(nonce)
	if !ok {
		return nil, ErrUnknownChallenge
	}
	s.challenges.Remove(nonce)

	if _, err := s.signatures.Validate(c.Identity.Bytes(), []byte(c.Message), signature); err != nil {
		s.logger.Warn("Wallet login rejected",
			zap.String("identity", c.Identity.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return s.issue(c.Identity)
}

// Refresh reissues a token for the holder of valid claims.
func (s *Service) Refresh(claims *Claims) (*Session, error) {
	identity, err := claims.Identity()
	if err != nil {
		return nil, err
	}
	return s.issue(identity)
}

func (s *Service) issue(identity ledger.PublicKey) (*Session, error) {
	token, claims, err := s.tokens.Issue(identity)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Wallet session issued",
		zap.String("identity", identity.String()),
		zap.String("session_id", claims.SessionID))
	return &Session{
		Token:     token,
		Identity:  identity,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SignChallenge answers a challenge with an in-process key, acting as the
// wallet.
func SignChallenge(k *ledger.Keypair, c Challenge) string {
	return k.SignMessage([]byte(c.Message)).String()
}
