package pairing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/storage/memstore"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *memstore.Store, domain.SourceConnection) {
	t.Helper()
	store := memstore.New()
	sc, err := store.CreateSource(context.Background(), domain.SourceConnection{
		Kind:          "ios",
		Auth:          domain.AuthDevice,
		PairingStatus: domain.PairingPending,
	})
	require.NoError(t, err)

	_, err = store.CreateStream(context.Background(), domain.StreamConnection{
		SourceID:   sc.ID,
		StreamKind: "healthkit",
		Enabled:    true,
	})
	require.NoError(t, err)

	svc := New(NewMemoryCodeStore(), store, store, ttl)
	return svc, store, sc
}

func TestStartThenComplete_PairsDevice(t *testing.T) {
	svc, store, sc := newTestService(t, time.Minute)
	ctx := context.Background()

	code, expiresAt, err := svc.Start(ctx, sc.ID)
	require.NoError(t, err)
	assert.Len(t, code, codeLength)
	assert.True(t, expiresAt.After(time.Now()))

	result, err := svc.Complete(ctx, code, DeviceInfo{DeviceID: "iphone-1"})
	require.NoError(t, err)
	assert.Equal(t, sc.ID, result.SourceID)
	assert.Contains(t, result.AvailableStreams, "healthkit")
	assert.NotEmpty(t, result.DeviceToken)

	updated, err := store.GetSource(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PairingActive, updated.PairingStatus)
	assert.NotEmpty(t, updated.Credentials.DeviceTokenHash)
}

func TestComplete_CodeIsOneTimeUse(t *testing.T) {
	svc, _, sc := newTestService(t, time.Minute)
	ctx := context.Background()

	code, _, err := svc.Start(ctx, sc.ID)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, code, DeviceInfo{DeviceID: "iphone-1"})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, code, DeviceInfo{DeviceID: "iphone-2"})
	assert.Error(t, err)
}

func TestComplete_ExpiredCodeFails(t *testing.T) {
	svc, _, sc := newTestService(t, time.Millisecond)
	ctx := context.Background()

	code, _, err := svc.Start(ctx, sc.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = svc.Complete(ctx, code, DeviceInfo{DeviceID: "iphone-1"})
	assert.Error(t, err)
}

func TestAuthenticate_RejectsUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t, time.Minute)
	_, err := svc.Authenticate(context.Background(), "dvtok_not-a-real-token")
	assert.Error(t, err)
}

func TestVerify_ReturnsEnabledStreams(t *testing.T) {
	svc, _, sc := newTestService(t, time.Minute)
	ctx := context.Background()

	code, _, err := svc.Start(ctx, sc.ID)
	require.NoError(t, err)
	result, err := svc.Complete(ctx, code, DeviceInfo{DeviceID: "iphone-1"})
	require.NoError(t, err)

	verified, err := svc.Verify(ctx, result.DeviceToken)
	require.NoError(t, err)
	assert.True(t, verified.ConfigurationComplete)
	assert.Contains(t, verified.EnabledStreams, "healthkit")
}
