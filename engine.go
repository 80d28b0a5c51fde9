// Package authkit issues and validates opaque bearer credentials and
// resolves principal permission sets against a role hierarchy (RBAC) and an
// attribute policy set (ABAC). It is designed to be consulted per request by
// a row-level filter evaluator and by administrative tooling.
package authkit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/oarkflow/authkit/logger"
)

const (
	// maxRoleDepth caps every parent-chain walk. Cycles are rejected at
	// write time; the cap keeps traversal bounded on corrupt data.
	maxRoleDepth = 64

	defaultLastUsedInterval = time.Minute
	defaultAuditBuffer      = 1024
)

// Engine wires the credential lifecycle, the RBAC graph, the claims cache,
// the ABAC evaluator and the context resolver over pluggable stores.
type Engine struct {
	credentials CredentialStore
	roles       RoleStore
	assignments AssignmentStore
	claims      ClaimsCache
	attributes  AttributeStore
	policies    PolicyStore
	audit       AuditStore

	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc

	// mu guards the RBAC graph: admin mutations take the write lock so
	// ResolvePermissions always reads a consistent snapshot.
	mu sync.RWMutex

	// closureCache memoizes resolved permission sets per principal. Entries
	// are keyed by a generation counter that is bumped on every graph
	// mutation, so a stale async write can never resurface after an
	// invalidation.
	closureCache *ristretto.Cache
	closureGen   atomic.Uint64

	credentialTTL    time.Duration // zero = credentials never expire
	lastUsedInterval time.Duration
	lastUsedSeen     sync.Map // credential id -> unix nano of last scheduled touch
	lastUsedCh       chan lastUsedUpdate

	auditCh chan Event
	stopCh  chan struct{}
	stopped sync.Once
}

type lastUsedUpdate struct {
	credentialID string
	at           time.Time
}

// EngineOption configures an Engine at construction time.
type EngineOption func(e *Engine) error

// WithClaimsCache replaces the default in-memory claims cache.
func WithClaimsCache(c ClaimsCache) EngineOption {
	return func(e *Engine) error {
		e.claims = c
		return nil
	}
}

// WithCredentialTTL sets the default expiry applied to newly created
// credentials. Zero means credentials do not expire.
func WithCredentialTTL(d time.Duration) EngineOption {
	return func(e *Engine) error {
		if d < 0 {
			return fmt.Errorf("credential ttl must not be negative: %w", ErrInvalid)
		}
		e.credentialTTL = d
		return nil
	}
}

// WithLastUsedInterval sets the coalescing window for last_used_at updates.
func WithLastUsedInterval(d time.Duration) EngineOption {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("last-used interval must be positive: %w", ErrInvalid)
		}
		e.lastUsedInterval = d
		return nil
	}
}

// WithClosureCache sizes the ristretto permission-closure cache.
func WithClosureCache(numCounters, maxCost, bufferItems int64) EngineOption {
	return func(e *Engine) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("configure closure cache: %w", err)
		}
		if e.closureCache != nil {
			e.closureCache.Close()
		}
		e.closureCache = cache
		return nil
	}
}

// NewEngine builds an Engine over the given stores. The claims cache
// defaults to an in-memory implementation; override it with WithClaimsCache.
func NewEngine(
	credentials CredentialStore,
	roles RoleStore,
	assignments AssignmentStore,
	attributes AttributeStore,
	policies PolicyStore,
	audit AuditStore,
	opts ...EngineOption,
) (*Engine, error) {
	e := &Engine{
		credentials:      credentials,
		roles:            roles,
		assignments:      assignments,
		claims:           NewMemoryClaimsCache(),
		attributes:       attributes,
		policies:         policies,
		audit:            audit,
		logger:           logger.NewNullLogger(),
		traceIDFunc:      func() string { return uuid.NewString() },
		lastUsedInterval: defaultLastUsedInterval,
		lastUsedCh:       make(chan lastUsedUpdate, 256),
		auditCh:          make(chan Event, defaultAuditBuffer),
		stopCh:           make(chan struct{}),
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init closure cache: %w", err)
	}
	e.closureCache = cache

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	go e.auditWorker()
	go e.lastUsedWorker()
	return e, nil
}

// Close stops the background workers. Pending queued writes are dropped;
// last_used_at and audit records are best effort by contract.
func (e *Engine) Close() {
	e.stopped.Do(func() {
		close(e.stopCh)
		e.closureCache.Close()
	})
}

func (e *Engine) auditWorker() {
	bg := context.Background()
	for {
		select {
		case entry := <-e.auditCh:
			if err := e.audit.RecordEvent(bg, &entry); err != nil {
				e.logger.Error("audit record failed", "kind", entry.Kind, "error", err.Error())
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) lastUsedWorker() {
	bg := context.Background()
	for {
		select {
		case upd := <-e.lastUsedCh:
			if err := e.credentials.TouchLastUsed(bg, upd.credentialID, upd.at); err != nil {
				// A missed touch never affects an authorization outcome.
				e.logger.Debug("last-used touch failed", "credential", upd.credentialID, "error", err.Error())
			}
		case <-e.stopCh:
			return
		}
	}
}

// closure cache helpers

func (e *Engine) closureKey(principalID string) string {
	return strconv.FormatUint(e.closureGen.Load(), 10) + ":" + principalID
}

func (e *Engine) getClosureFromCache(principalID string) ([]string, bool) {
	v, ok := e.closureCache.Get(e.closureKey(principalID))
	if !ok {
		return nil, false
	}
	perms, ok := v.([]string)
	return perms, ok
}

func (e *Engine) setClosureInCache(principalID string, perms []string) {
	e.closureCache.Set(e.closureKey(principalID), perms, int64(len(perms)+1))
}

// invalidateClosures bumps the generation counter so every memoized
// permission set becomes unreachable, then clears the cache to release
// memory. Called on every grant, parent or permission mutation.
func (e *Engine) invalidateClosures() {
	e.closureGen.Add(1)
	e.closureCache.Clear()
}

func (e *Engine) recordEvent(kind, principalID, credentialID string, detail map[string]any) {
	entry := Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		Kind:         kind,
		PrincipalID:  principalID,
		CredentialID: credentialID,
		TraceID:      e.traceIDFunc(),
		Detail:       detail,
	}
	select {
	case e.auditCh <- entry:
	default:
		// drop rather than block the caller
	}
}
