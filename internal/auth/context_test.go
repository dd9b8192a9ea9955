package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrincipal(t *testing.T) {
	ctx := context.Background()
	_, ok := FromContext(ctx)
	require.False(t, ok)

	ctx = WithPrincipal(ctx, Principal{UserID: "user42", DeviceID: "dev-1"})
	p, ok := FromContext(ctx)
	require.True(t, ok)
	require.True(t, p.Owns("user42"))
	require.False(t, p.Owns("user99"))

	user, ok := GetUserID(ctx)
	require.True(t, ok)
	require.Equal(t, "user42", user)
	device, ok := GetDeviceID(ctx)
	require.True(t, ok)
	require.Equal(t, "dev-1", device)

	_, ok = GetDeviceID(WithPrincipal(context.Background(), Principal{UserID: "user42"}))
	require.False(t, ok)
	_, ok = FromContext(WithPrincipal(context.Background(), Principal{DeviceID: "dev-1"}))
	require.False(t, ok)
	require.False(t, Principal{}.Owns(""))
}
