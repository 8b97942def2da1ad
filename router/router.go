// Package router hands out executors for a primary (write) backend and a
// pool of read replicas. Writes and transactions always run on the primary;
// reads are spread over the replicas by a per-router policy and fall back
// to the primary when no replica is available.
package router

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prashanthpai/datacore/cache"
)

// Role is the part a target plays.
type Role string

const (
	RoleWrite Role = "write"
	RoleRead  Role = "read"
)

// PoolConfig bounds an executor's connection pool. Zero values keep the
// driver defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Target is one physical backend.
type Target struct {
	Name   string
	Driver string
	DSN    string
	// Weight is only used by the weighted policy. Non-positive means 1.
	Weight int
	Pool   PoolConfig
}

// Config describes the backends a Router connects to.
type Config struct {
	Primary       Target
	Replicas      []Target
	LoadBalancing Policy
}

// Opener builds an executor for a target.
type Opener func(ctx context.Context, t Target) (Executor, error)

type Option func(*Router)

// WithOpener replaces the default database/sql opener.
func WithOpener(o Opener) Option {
	return func(r *Router) { r.open = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithRand sets the source of uniform values in [0, 1) used by the random
// and weighted policies.
func WithRand(f func() float64) Option {
	return func(r *Router) { r.rnd = f }
}

// Router routes statements between the primary and the replicas.
type Router struct {
	cfg    Config
	open   Opener
	logger *zap.Logger
	rnd    func() float64

	mu        sync.RWMutex
	connected bool
	write     *member
	reads     *selector
}

// New validates cfg and returns an unconnected Router.
func New(cfg Config, opts ...Option) (*Router, error) {
	policy, err := ParsePolicy(string(cfg.LoadBalancing))
	if err != nil {
		return nil, err
	}
	cfg.LoadBalancing = policy
	if cfg.Primary.Name == "" {
		cfg.Primary.Name = "primary"
	}
	cfg.Replicas = append([]Target(nil), cfg.Replicas...)
	for i := range cfg.Replicas {
		if cfg.Replicas[i].Weight <= 0 {
			cfg.Replicas[i].Weight = 1
		}
	}

	r := &Router{cfg: cfg, rnd: rand.Float64}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.open == nil {
		r.open = Open(r.logger)
	}
	return r, nil
}

// Connect opens and probes every target. A primary failure closes whatever
// was opened and is returned as a *ConnectionError. A replica failure is
// logged and that replica is left out of the read pool for the life of the
// Router. Calling Connect on a connected Router is a no-op.
func (r *Router) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		return nil
	}

	primary, err := r.connectTarget(ctx, r.cfg.Primary)
	if err != nil {
		r.logger.Error("primary unavailable",
			zap.String("target", r.cfg.Primary.Name),
			zap.Error(err))
		return &ConnectionError{Target: r.cfg.Primary.Name, Role: RoleWrite, Err: err}
	}
	r.logger.Info("connected", zap.String("target", r.cfg.Primary.Name), zap.String("role", string(RoleWrite)))

	var reads []*member
	for i, t := range r.cfg.Replicas {
		if t.Name == "" {
			t.Name = "replica-" + strconv.Itoa(i)
		}
		exec, err := r.connectTarget(ctx, t)
		if err != nil {
			r.logger.Warn("replica excluded from read pool",
				zap.String("target", t.Name),
				zap.Error(err))
			continue
		}
		r.logger.Info("connected", zap.String("target", t.Name), zap.String("role", string(RoleRead)))
		reads = append(reads, &member{target: t, exec: exec})
	}

	if len(reads) == 0 {
		r.logger.Warn("no read replicas available, reads are served by primary")
	}

	r.write = &member{target: r.cfg.Primary, exec: primary}
	if len(reads) > 0 {
		r.reads = newSelector(r.cfg.LoadBalancing, reads, r.rnd)
	}
	r.connected = true
	return nil
}

func (r *Router) connectTarget(ctx context.Context, t Target) (Executor, error) {
	exec, err := r.open(ctx, t)
	if err != nil {
		return nil, err
	}
	if err := exec.Probe(ctx); err != nil {
		_ = exec.Close()
		return nil, err
	}
	return exec, nil
}

// WriteExecutor returns the primary executor.
func (r *Router) WriteExecutor() (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.connected {
		return nil, ErrNotConnected
	}
	return r.write.exec, nil
}

// ReadExecutor selects a replica by policy, or returns the primary when the
// read pool is empty.
func (r *Router) ReadExecutor() (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.connected {
		return nil, ErrNotConnected
	}
	if r.reads == nil {
		return r.write.exec, nil
	}
	return r.reads.pick().exec, nil
}

// Query runs a read on a read executor.
func (r *Router) Query(ctx context.Context, query string, args ...interface{}) (*cache.Item, error) {
	exec, err := r.ReadExecutor()
	if err != nil {
		return nil, err
	}
	return exec.Query(ctx, query, args...)
}

// QueryWrite runs a row-returning statement on the primary, such as a write
// with a RETURNING clause or a read that must observe its own writes.
func (r *Router) QueryWrite(ctx context.Context, query string, args ...interface{}) (*cache.Item, error) {
	exec, err := r.WriteExecutor()
	if err != nil {
		return nil, err
	}
	return exec.Query(ctx, query, args...)
}

// ExecuteWrite runs a statement on the primary.
func (r *Router) ExecuteWrite(ctx context.Context, query string, args ...interface{}) (int64, error) {
	exec, err := r.WriteExecutor()
	if err != nil {
		return 0, err
	}
	return exec.Exec(ctx, query, args...)
}

// Transaction runs fn in a transaction on the primary. fn must issue its
// statements through tx. An error from fn rolls back and is returned as is.
func (r *Router) Transaction(ctx context.Context, fn func(ctx context.Context, tx Querier) error) error {
	exec, err := r.WriteExecutor()
	if err != nil {
		return err
	}

	log := r.logger.With(zap.String("tx_id", uuid.NewString()))
	log.Debug("transaction started")
	if err := exec.RunInTransaction(ctx, fn); err != nil {
		var rb *RollbackError
		if errors.As(err, &rb) {
			log.Error("transaction rollback failed", zap.Error(rb.RollbackErr))
		} else {
			log.Debug("transaction rolled back", zap.Error(err))
		}
		return err
	}
	log.Debug("transaction committed")
	return nil
}

// TargetStats is the pool state of one connected target.
type TargetStats struct {
	Name   string `json:"name"`
	Weight int    `json:"weight,omitempty"`
	PoolStats
}

// Stats is a snapshot of the router.
type Stats struct {
	Connected     bool          `json:"connected"`
	Write         *TargetStats  `json:"write,omitempty"`
	Read          []TargetStats `json:"read"`
	LoadBalancing Policy        `json:"load_balancing"`
	// ReadsServedByPrimary is set when every read goes to the primary
	// because no replica is available.
	ReadsServedByPrimary bool `json:"reads_served_by_primary"`
	// ExcludedReplicas counts configured replicas left out by Connect.
	ExcludedReplicas int `json:"excluded_replicas"`
}

func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Connected:     r.connected,
		Read:          []TargetStats{},
		LoadBalancing: r.cfg.LoadBalancing,
	}
	if !r.connected {
		return s
	}

	s.Write = &TargetStats{Name: r.write.target.Name, PoolStats: r.write.exec.Stats()}
	if r.reads == nil {
		s.ReadsServedByPrimary = true
		s.ExcludedReplicas = len(r.cfg.Replicas)
		return s
	}
	for _, m := range r.reads.members {
		s.Read = append(s.Read, TargetStats{
			Name:      m.target.Name,
			Weight:    m.target.Weight,
			PoolStats: m.exec.Stats(),
		})
	}
	s.ExcludedReplicas = len(r.cfg.Replicas) - len(r.reads.members)
	return s
}

// Disconnect closes the primary and every replica. The Router can be
// connected again afterwards.
func (r *Router) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return nil
	}

	var first error
	closeMember := func(m *member) {
		if err := m.exec.Close(); err != nil {
			r.logger.Error("close failed", zap.String("target", m.target.Name), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	if r.reads != nil {
		for _, m := range r.reads.members {
			closeMember(m)
		}
	}
	closeMember(r.write)

	r.write, r.reads, r.connected = nil, nil, false
	r.logger.Info("disconnected")
	return first
}
