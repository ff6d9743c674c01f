package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urgent-alert-relay/pkg/models"
)

func TestRecover_ResumesWithRemainingTime(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	ctx := context.Background()

	payload := trip("T1", "250")
	payload.ReceivedAt = time.Now().Add(-5 * time.Second)
	require.NoError(t, h.store.SavePayload(ctx, payload))

	recovered, err := h.mgr.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	session, ok := h.mgr.Session(models.KindTripRequest)
	require.True(t, ok)
	assert.Equal(t, "T1", session.Payload.ID)
	assert.True(t, session.Deadline.Equal(payload.ReceivedAt.Add(20*time.Second)))

	w := h.mgr.active(models.KindTripRequest)
	assert.InDelta(t, 15, w.Remaining(), 1)
	assert.Equal(t, 1, h.wake.Held())

	// Recovering again does not create a second window
	recovered, err = h.mgr.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
	assert.Equal(t, 1, h.wake.Acquired())
}

func TestRecover_ExpiredPayloadTimesOut(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	ctx := context.Background()

	payload := trip("T1", "250")
	payload.ReceivedAt = time.Now().Add(-25 * time.Second)
	require.NoError(t, h.store.SavePayload(ctx, payload))

	recovered, err := h.mgr.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
	assert.Equal(t, 0, h.wake.Acquired())

	handoff, err := h.bridge.Consume(ctx, models.KindTripRequest)
	require.NoError(t, err)
	require.NotNil(t, handoff)
	assert.Equal(t, models.ResolutionTimedOut, handoff.Resolution)
	assert.Equal(t, "250", handoff.Fields["estimatedPrice"])

	stored, err := h.store.LoadPayload(ctx, models.KindTripRequest)
	require.NoError(t, err)
	assert.Nil(t, stored)

	// A late redelivery of the same alert is a duplicate
	assert.Equal(t, Ignored, h.mgr.Dispatch(ctx, payload, nil))
}

func TestRecover_AlreadyResolvedOnlyClearsPayload(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	ctx := context.Background()

	require.NoError(t, h.store.SavePayload(ctx, chat("C1")))
	_, err := h.store.RestoreHandoff(ctx, models.PendingHandoff{
		Kind:       models.KindChatMessage,
		PayloadID:  "C1",
		Resolution: models.ResolutionAccepted,
	})
	require.NoError(t, err)

	recovered, err := h.mgr.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)

	stored, err := h.store.LoadPayload(ctx, models.KindChatMessage)
	require.NoError(t, err)
	assert.Nil(t, stored)

	handoff, err := h.bridge.Consume(ctx, models.KindChatMessage)
	require.NoError(t, err)
	require.NotNil(t, handoff)
	assert.Equal(t, models.ResolutionAccepted, handoff.Resolution)
}

func TestView_MergesStoredFieldsAndDefaults(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	ctx := context.Background()

	_, ok, err := h.mgr.View(ctx, models.KindTripRequest, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	payload := trip("T1", "250")
	payload.ReceivedAt = time.Now().Add(-8 * time.Second)
	require.Equal(t, Promoted, h.mgr.Dispatch(ctx, payload, nil))

	view, ok, err := h.mgr.View(ctx, models.KindTripRequest, map[string]string{
		"pickup":      "Plaza Central",
		"destination": "",
	})
	require.NoError(t, err)
	require.True(t, ok)

	session, _ := h.mgr.Session(models.KindTripRequest)
	assert.Equal(t, session.SessionID, view.SessionID)
	assert.Equal(t, "T1", view.PayloadID)
	assert.Equal(t, "Plaza Central", view.Fields["pickup"])
	assert.Equal(t, "Destination", view.Fields["destination"])
	assert.Equal(t, "250", view.Fields["estimatedPrice"])
	assert.InDelta(t, 12, view.RemainingSeconds, 1)

	_, _, err = h.mgr.View(ctx, models.Kind("sms"), nil)
	assert.Error(t, err)
}
