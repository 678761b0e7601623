package client_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-taskauth"
	"github.com/goliatone/go-taskauth/client"
)

func TestTokenHelpers(t *testing.T) {
	now := time.Now()
	token := mintToken(t, userID, auth.RoleViewer, now, time.Hour)

	claims, err := client.DecodeClaims(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID())
	assert.False(t, claims.Can(string(auth.CapabilityManageUsers)))

	remaining := client.TimeUntilExpiration(token, now)
	assert.InDelta(t, time.Hour.Seconds(), remaining.Seconds(), 1)

	assert.False(t, client.NeedsRefresh(token, now, client.DefaultRefreshThreshold))
	assert.True(t, client.NeedsRefresh(token, now.Add(56*time.Minute), client.DefaultRefreshThreshold))
	assert.False(t, client.IsExpired(token, now))
	assert.True(t, client.IsExpired(token, now.Add(2*time.Hour)))

	assert.Zero(t, client.TimeUntilExpiration("garbage", now))
	assert.True(t, client.IsExpired("garbage", now))
}
