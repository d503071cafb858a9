package access

import (
	"context"
	"testing"

	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	dir.AddMember("biz", "alice", ROLE_OWNER)
	dir.AddMember("biz", "bob", "manager")

	role, err := Authorize(ctx, dir, "biz", "bob")
	require.NoError(t, err)
	require.Equal(t, "manager", role)

	_, err = Authorize(ctx, dir, "other", "bob")
	require.True(t, api.IsForbidden(err))

	_, err = Authorize(ctx, dir, "biz", "")
	require.True(t, api.IsForbidden(err))

	dir.RemoveMember("biz", "bob")
	_, err = Authorize(ctx, dir, "biz", "bob")
	require.True(t, api.IsForbidden(err))
}

func TestCanApprove(t *testing.T) {
	require.True(t, CanApprove(ROLE_OWNER, "manager"))
	require.True(t, CanApprove("manager", "manager"))
	require.False(t, CanApprove("analyst", "manager"))
}
