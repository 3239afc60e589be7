package router_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/tenant/router"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return conn
}

func newRouter(t *testing.T, opener router.Opener) (*router.Router, *gorm.DB) {
	t.Helper()

	platform := openMemory(t)
	rt := router.New(router.Params{
		Config: config.Config{},
		Log:    zap.NewNop(),
		DB:     platform,
		Opener: opener,
	})
	return rt, platform
}

func TestResolveFallsBackToPlatform(t *testing.T) {
	rt, platform := newRouter(t, nil)

	conn, err := rt.Resolve(context.Background())
	require.NoError(t, err)
	assert.Same(t, platform, conn)

	conn, err = rt.Resolve(tenantctx.WithPlatform(context.Background()))
	require.NoError(t, err)
	assert.Same(t, platform, conn)
}

func TestResolveOpensTenantStoreOnce(t *testing.T) {
	opens := 0
	rt, platform := newRouter(t, func(cfg db.Config) (*gorm.DB, error) {
		opens++
		return openMemory(t), nil
	})

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	tenantID := node.Generate()
	ctx := tenantctx.WithTenantID(context.Background(), tenantID)

	first, err := rt.Resolve(ctx)
	require.NoError(t, err)
	assert.NotSame(t, platform, first)

	second, err := rt.Resolve(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, opens)
}

func TestResolveOpenFailure(t *testing.T) {
	openErr := errors.New("store unreachable")
	rt, _ := newRouter(t, func(cfg db.Config) (*gorm.DB, error) {
		return nil, openErr
	})

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	ctx := tenantctx.WithTenantID(context.Background(), node.Generate())

	_, err = rt.Resolve(ctx)
	assert.ErrorIs(t, err, openErr)
}

func TestRegisterInstallsHandle(t *testing.T) {
	rt, platform := newRouter(t, func(cfg db.Config) (*gorm.DB, error) {
		t.Fatal("registered tenant must not reopen")
		return nil, nil
	})

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	tenantID := node.Generate()
	handle := openMemory(t)

	rt.Register(tenantID, handle)

	conn, err := rt.Tenant(tenantID)
	require.NoError(t, err)
	assert.Same(t, handle, conn)

	// Zero-ID registration is discarded.
	rt.Register(0, handle)
	conn, err = rt.Tenant(0)
	require.NoError(t, err)
	assert.Same(t, platform, conn)
}

func TestTenantIDFromContext(t *testing.T) {
	_, ok := tenantctx.TenantIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := context.WithValue(context.Background(), tenantctx.TenantContextKey{}, "1234567890123456789")
	id, ok := tenantctx.TenantIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "1234567890123456789", id.String())

	ctx = context.WithValue(context.Background(), tenantctx.TenantContextKey{}, "not-a-snowflake")
	_, ok = tenantctx.TenantIDFromContext(ctx)
	assert.False(t, ok)
}
