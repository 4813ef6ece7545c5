package context_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	ctxPkg "github.com/yeisme/panvault/pkg/context"
	"github.com/yeisme/panvault/pkg/internal/storage"
)

func TestUser(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ctxPkg.UserFrom(ctx))

	ctx = ctxPkg.WithUser(ctx, "alice")
	assert.Equal(t, "alice", ctxPkg.UserFrom(ctx))
}

func TestStorageManager(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ctxPkg.GetManager(ctx))

	mgr := &storage.Manager{}
	assert.Same(t, mgr, ctxPkg.GetManager(ctxPkg.WithStorageManager(ctx, mgr)))
}
