// Package auth implements AuthManager (spec.md §4.3): bearer credential
// validation across three trust domains, per-key agent-pattern scope, and
// API key lifecycle. Adapted from the teacher's internal/hub/auth
// (contextKey/WithUser/GetUser/TokenFromHeader), rewritten around
// composite {server_secret}.{key} tokens and bcrypt-verified key records
// instead of session-table lookups.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/audit"
	"github.com/c3po-dev/c3po/internal/coordinator/id"
	"github.com/c3po-dev/c3po/internal/coordinator/store"
	"github.com/c3po-dev/c3po/internal/coordinator/validate"
	"github.com/c3po-dev/c3po/internal/util/timefmt"
)

type contextKey int

const principalKey contextKey = iota

// Domain is one of the three trust domains spec.md §4.3 distinguishes by
// path prefix.
type Domain string

const (
	DomainAgent     Domain = "agent"
	DomainOAuth     Domain = "oauth"
	DomainAdmin     Domain = "admin"
	DomainAnonymous Domain = "anonymous"
)

// Principal is the authenticated identity attached to a request context.
type Principal struct {
	Domain       Domain
	KeyID        string // agent-principal only
	AgentPattern string // agent-principal only; "*" for anonymous/proxy/admin
	ID           string // rate-limit identity: the key id for agent principals (all agents sharing a key share one limit); the transport replaces "anonymous" with the caller's address
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from ctx, or nil if none was attached.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// TokenFromHeader extracts a Bearer token from an Authorization header value.
func TokenFromHeader(authHeader string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authHeader, prefix) {
		return strings.TrimPrefix(authHeader, prefix)
	}
	return ""
}

// KeyRecord is an API key as stored (spec.md §3 "API key record").
type KeyRecord struct {
	KeyID        string         `db:"key_id" json:"key_id"`
	AgentPattern string         `db:"agent_pattern" json:"agent_pattern"`
	Description  string         `db:"description" json:"description"`
	CreatedAt    string         `db:"created_at" json:"created_at"`
	RevokedAt    sql.NullString `db:"revoked_at" json:"revoked_at,omitempty"`
}

// Manager is the coordinator's AuthManager.
type Manager struct {
	db           *store.DB
	audit        *audit.Log
	serverSecret string
	adminKey     string
	proxyToken   string
	devMode      bool
	logger       *slog.Logger
	now          func() time.Time
}

// Config carries the three auth secrets read from the environment. All
// three empty triggers dev mode (spec.md §4.3).
type Config struct {
	ServerSecret string
	AdminKey     string
	ProxyToken   string
}

// New builds a Manager.
func New(db *store.DB, auditLog *audit.Log, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	devMode := cfg.ServerSecret == "" && cfg.AdminKey == "" && cfg.ProxyToken == ""
	return &Manager{
		db:           db,
		audit:        auditLog,
		serverSecret: cfg.ServerSecret,
		adminKey:     cfg.AdminKey,
		proxyToken:   cfg.ProxyToken,
		devMode:      devMode,
		logger:       logger,
		now:          time.Now,
	}
}

// DevMode reports whether all three secrets are unset, bypassing auth
// entirely with an anonymous principal.
func (m *Manager) DevMode() bool { return m.devMode }

// Authenticate validates the Authorization header for the given trust
// domain and returns the resulting Principal, or an *apierr.Error of kind
// UNAUTHENTICATED.
func (m *Manager) Authenticate(ctx context.Context, domain Domain, authHeader string) (*Principal, error) {
	if m.devMode || domain == DomainAnonymous {
		return &Principal{Domain: DomainAnonymous, AgentPattern: "*", ID: "anonymous"}, nil
	}

	token := TokenFromHeader(authHeader)
	if token == "" {
		return nil, apierr.New(apierr.Unauthenticated, "missing bearer token", "re-enroll")
	}

	switch domain {
	case DomainAgent:
		return m.authenticateAgent(ctx, token)
	case DomainOAuth:
		return m.authenticateProxy(token)
	case DomainAdmin:
		return m.authenticateAdmin(ctx, token)
	default:
		return nil, apierr.New(apierr.Unauthenticated, "unknown trust domain", "re-enroll")
	}
}

func (m *Manager) authenticateAgent(ctx context.Context, token string) (*Principal, error) {
	prefix, rawKey, ok := splitComposite(token)
	if !ok || subtle.ConstantTimeCompare([]byte(prefix), []byte(m.serverSecret)) != 1 {
		return nil, apierr.New(apierr.Unauthenticated, "malformed or mismatched server secret", "re-enroll")
	}

	hash := sha256Hex(rawKey)
	var rec struct {
		KeyRecord
		BcryptHash string `db:"bcrypt_hash"`
	}
	err := m.db.GetContext(ctx, &rec, `
		SELECT key_id, agent_pattern, description, created_at, revoked_at, bcrypt_hash
		FROM api_keys WHERE sha256_hash = ?
	`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.New(apierr.Unauthenticated, "unknown API key", "re-enroll")
	}
	if err != nil {
		return nil, apierr.StoreFailure(err)
	}
	if rec.RevokedAt.Valid {
		return nil, apierr.New(apierr.Unauthenticated, "API key revoked", "re-enroll")
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.BcryptHash), []byte(rawKey)) != nil {
		return nil, apierr.New(apierr.Unauthenticated, "API key does not match", "re-enroll")
	}

	return &Principal{Domain: DomainAgent, KeyID: rec.KeyID, AgentPattern: rec.AgentPattern, ID: rec.KeyID}, nil
}

func (m *Manager) authenticateProxy(token string) (*Principal, error) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(m.proxyToken)) != 1 {
		return nil, apierr.New(apierr.Unauthenticated, "proxy bearer token mismatch", "re-enroll")
	}
	return &Principal{Domain: DomainOAuth, AgentPattern: "*", ID: "proxy"}, nil
}

func (m *Manager) authenticateAdmin(ctx context.Context, token string) (*Principal, error) {
	if prefix, adminKey, ok := splitComposite(token); ok {
		if subtle.ConstantTimeCompare([]byte(prefix), []byte(m.serverSecret)) == 1 &&
			subtle.ConstantTimeCompare([]byte(adminKey), []byte(m.adminKey)) == 1 {
			return &Principal{Domain: DomainAdmin, AgentPattern: "*", ID: "admin"}, nil
		}
	}

	// Legacy format: bare admin key with no server-secret prefix (spec.md §9
	// Open Question 3). Preserved as a migration affordance, but logged and
	// audited on every use.
	if subtle.ConstantTimeCompare([]byte(token), []byte(m.adminKey)) == 1 {
		m.logger.Warn("admin request used legacy bare admin-key token format")
		m.audit.Record(ctx, audit.ActorAdmin, "admin", "authenticate", "", "ok", "legacy admin token format")
		return &Principal{Domain: DomainAdmin, AgentPattern: "*", ID: "admin"}, nil
	}

	return nil, apierr.New(apierr.Unauthenticated, "admin token mismatch", "re-enroll")
}

func splitComposite(token string) (prefix, rest string, ok bool) {
	idx := strings.IndexByte(token, '.')
	if idx < 0 {
		return "", "", false
	}
	return token[:idx], token[idx+1:], true
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// CheckScope enforces that p may act as agentID, per spec.md §4.3's
// fnmatch(agent_id, pattern) rule.
func CheckScope(p *Principal, agentID string) error {
	if p == nil {
		return apierr.New(apierr.ForbiddenScope, fmt.Sprintf("no principal may act as %q", agentID), "admin issues correctly scoped key")
	}
	if !validate.ScopeMatch(p.AgentPattern, agentID) {
		return apierr.New(apierr.ForbiddenScope, fmt.Sprintf("pattern %q does not cover %q", p.AgentPattern, agentID), "admin issues correctly scoped key")
	}
	return nil
}

// CreateKey generates a new API key scoped to pattern, returning the
// one-time composite token the caller must store; only its bcrypt hash and
// sha256 index are persisted.
func (m *Manager) CreateKey(ctx context.Context, pattern, description string) (keyID, compositeToken string, err error) {
	rawKey := id.Generate()
	keyID = "key_" + id.Generate()[:16]

	bcryptHash, hashErr := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if hashErr != nil {
		return "", "", apierr.StoreFailure(hashErr)
	}

	storeErr := store.RetryBusy(ctx, func() error {
		_, err := m.db.ExecContext(ctx, `
			INSERT INTO api_keys (sha256_hash, key_id, bcrypt_hash, agent_pattern, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sha256Hex(rawKey), keyID, string(bcryptHash), pattern, description, timefmt.Format(m.now()))
		return err
	})
	if storeErr != nil {
		return "", "", apierr.StoreFailure(storeErr)
	}

	return keyID, m.serverSecret + "." + rawKey, nil
}

// RevokeKey soft-deletes a key by id; subsequent lookups fail.
func (m *Manager) RevokeKey(ctx context.Context, keyID string) error {
	return store.RetryBusy(ctx, func() error {
		res, err := m.db.ExecContext(ctx, `
			UPDATE api_keys SET revoked_at = ? WHERE key_id = ? AND revoked_at IS NULL
		`, timefmt.Format(m.now()), keyID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.New(apierr.InvalidRequest, fmt.Sprintf("no active key %q", keyID), "check key id")
		}
		return nil
	})
}

// ListKeys returns every key record, without secrets.
func (m *Manager) ListKeys(ctx context.Context) ([]KeyRecord, error) {
	var recs []KeyRecord
	err := m.db.SelectContext(ctx, &recs, `
		SELECT key_id, agent_pattern, description, created_at, revoked_at FROM api_keys ORDER BY created_at
	`)
	if err != nil {
		return nil, apierr.StoreFailure(err)
	}
	return recs, nil
}
