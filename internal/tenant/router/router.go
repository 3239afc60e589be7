// Package router resolves logical tenant identifiers to physical store
// handles. Every ledger operation asks the router instead of holding a
// fixed connection.
package router

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Opener opens a gorm connection for a store config. Swapped in tests.
type Opener func(db.Config) (*gorm.DB, error)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	DB     *gorm.DB

	Opener Opener `optional:"true"`
}

// Router maps tenant IDs to store handles. Handles are opened once and
// shared; the map is safe for concurrent resolution.
type Router struct {
	cfg  config.Config
	log  *zap.Logger
	open Opener

	platform *gorm.DB

	mu      sync.RWMutex
	handles map[snowflake.ID]*gorm.DB
}

func New(p Params) *Router {
	open := p.Opener
	if open == nil {
		open = db.Open
	}
	return &Router{
		cfg:      p.Config,
		log:      p.Log.Named("tenant.router"),
		open:     open,
		platform: p.DB,
		handles:  make(map[snowflake.ID]*gorm.DB),
	}
}

// Resolve returns the store for the tenant carried by ctx, or the
// platform store when ctx is platform-scoped.
func (r *Router) Resolve(ctx context.Context) (*gorm.DB, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return r.platform, nil
	}
	return r.Tenant(tenantID)
}

// Platform returns the platform-level store.
func (r *Router) Platform() *gorm.DB {
	return r.platform
}

// Tenant returns the handle for one tenant store, opening it on first use.
func (r *Router) Tenant(tenantID snowflake.ID) (*gorm.DB, error) {
	if tenantID == 0 {
		return r.platform, nil
	}

	r.mu.RLock()
	handle, ok := r.handles[tenantID]
	r.mu.RUnlock()
	if ok {
		return handle, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if handle, ok := r.handles[tenantID]; ok {
		return handle, nil
	}

	handle, err := r.open(r.cfg.TenantDB(tenantID.String()))
	if err != nil {
		r.log.Error("open tenant store failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	r.handles[tenantID] = handle
	return handle, nil
}

// Register installs a pre-opened handle for a tenant. Used by tests and
// by provisioning flows that build the store themselves.
func (r *Router) Register(tenantID snowflake.ID, handle *gorm.DB) {
	if tenantID == 0 || handle == nil {
		return
	}
	r.mu.Lock()
	r.handles[tenantID] = handle
	r.mu.Unlock()
}
