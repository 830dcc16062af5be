package services

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// TURN REST credentials, coturn-compatible:
//
//	identity = <unix_expiry_timestamp>:<user_id>
//	secret   = base64(hmac_sha1(shared_secret, identity))
//
// The relay verifies these out of band with the same shared secret; nothing
// is stored per credential. Rotating the secret invalidates everything
// outstanding at once.

// refreshSkew keeps a cached credential from being handed out moments before
// it expires.
const refreshSkew = 10 * time.Second

type TurnConfig struct {
	SharedSecret string
	TTL          time.Duration
	ICEServers   []webrtc.ICEServer
	Now          func() time.Time
}

type turnService struct {
	sharedSecret []byte
	ttl          time.Duration
	iceServers   []webrtc.ICEServer
	now          func() time.Time

	mu    sync.Mutex
	cache map[string]*domain.RelayCredential

	logger *zap.SugaredLogger
}

// NewTurnService builds the credential issuer. An empty shared secret is a
// configuration fault and must abort startup, never degrade silently.
func NewTurnService(cfg TurnConfig, logger *zap.SugaredLogger) (ports.TurnService, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turn shared secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("turn ttl must be > 0")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &turnService{
		sharedSecret: []byte(cfg.SharedSecret),
		ttl:          cfg.TTL,
		iceServers:   cfg.ICEServers,
		now:          cfg.Now,
		cache:        make(map[string]*domain.RelayCredential),
		logger:       logger,
	}, nil
}

func (s *turnService) TTL() time.Duration {
	return s.ttl
}

// Issue returns the relay credential for a user, reusing the cached one
// while it is still comfortably inside its validity window.
func (s *turnService) Issue(userID string) (*domain.RelayCredential, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cached, ok := s.cache[userID]; ok && cached.ExpiresAt.After(now.Add(refreshSkew)) {
		return cached, nil
	}

	expiresAt := now.Add(s.ttl)
	identity := fmt.Sprintf("%d:%s", expiresAt.Unix(), userID)

	cred := &domain.RelayCredential{
		Identity:  identity,
		Secret:    s.sign(identity),
		TTL:       s.ttl,
		ExpiresAt: time.Unix(expiresAt.Unix(), 0).UTC(),
	}
	s.cache[userID] = cred

	if s.logger != nil {
		s.logger.Debugw("issued relay credential",
			"user_id", userID,
			"expires_at", cred.ExpiresAt,
		)
	}

	return cred, nil
}

// Verify recomputes the digest for an identity and compares it against the
// supplied secret in constant time. Expired or malformed identities fail.
func (s *turnService) Verify(identity, secret string) bool {
	expiryRaw, _, ok := strings.Cut(identity, ":")
	if !ok {
		return false
	}

	expiry, err := strconv.ParseInt(expiryRaw, 10, 64)
	if err != nil {
		return false
	}
	if !s.now().Before(time.Unix(expiry, 0)) {
		return false
	}

	expected := s.sign(identity)
	return hmac.Equal([]byte(expected), []byte(secret))
}

// ICEServers renders the configured endpoint list for a user, injecting the
// issued identity/secret into TURN entries. STUN entries never carry
// credentials.
func (s *turnService) ICEServers(userID string) ([]webrtc.ICEServer, *domain.RelayCredential, error) {
	cred, err := s.Issue(userID)
	if err != nil {
		return nil, nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(s.iceServers))
	for _, server := range s.iceServers {
		out := webrtc.ICEServer{URLs: append([]string(nil), server.URLs...)}
		if hasTURNURL(server) {
			out.Username = cred.Identity
			out.Credential = cred.Secret
		}
		servers = append(servers, out)
	}

	return servers, cred, nil
}

func (s *turnService) sign(identity string) string {
	mac := hmac.New(sha1.New, s.sharedSecret)
	mac.Write([]byte(identity))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
