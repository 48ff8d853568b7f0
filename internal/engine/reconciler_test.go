package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	contracts "notifgate/contracts/mq"
	"notifgate/internal/model"
	"notifgate/pkg/mq"
)

type reconcilerHarness struct {
	reconciler *Reconciler
	deliveries *fakeDeliveryStore
	endpoints  *fakeEndpointStore
	publisher  *fakePublisher
}

func newReconcilerHarness(threshold int) *reconcilerHarness {
	h := &reconcilerHarness{
		deliveries: newFakeDeliveryStore(),
		endpoints:  newFakeEndpointStore(),
		publisher:  &fakePublisher{},
	}
	h.reconciler = NewReconciler(h.deliveries, h.endpoints, h.publisher, threshold, zap.NewNop())
	return h
}

// pendingRecord inserts a fresh pending delivery for ep and returns its id.
func (h *reconcilerHarness) pendingRecord(t *testing.T, ep *model.Endpoint) uuid.UUID {
	t.Helper()
	rec := &model.DeliveryRecord{
		ID:           uuid.New(),
		EventID:      uuid.New(),
		EndpointID:   ep.ID,
		EndpointType: ep.Type,
		Result:       model.InvocationPending,
	}
	require.NoError(t, h.deliveries.Insert(context.Background(), rec))
	return rec.ID
}

func callback(historyID uuid.UUID, successful bool, errType string, status int) json.RawMessage {
	cb := contracts.ConnectorCallback{
		HistoryID:  historyID.String(),
		Successful: successful,
		DurationMs: 42,
	}
	if errType != "" {
		cb.Error = &contracts.CallbackError{Type: errType, StatusCode: status}
	}
	data, _ := json.Marshal(cb)
	return data
}

func TestHandleSuccessCompletesRecordAndResetsCounter(t *testing.T) {
	h := newReconcilerHarness(10)
	ep := webhookEndpoint("org-1")
	ep.ConsecutiveServerErrors = 7
	h.endpoints.add(ep)
	id := h.pendingRecord(t, ep)

	err := h.reconciler.Handle(context.Background(), callback(id, true, "", 0))
	require.NoError(t, err)

	rec := h.deliveries.records[id]
	assert.Equal(t, model.InvocationSuccess, rec.Result)
	assert.Equal(t, int64(42), rec.DurationMs)
	assert.Equal(t, 0, ep.ConsecutiveServerErrors)
	assert.True(t, ep.Enabled)
	assert.Empty(t, h.publisher.published)
}

func TestHandleClientErrorDisablesOnFirstStrike(t *testing.T) {
	h := newReconcilerHarness(10)
	ep := webhookEndpoint("org-1")
	h.endpoints.add(ep)
	id := h.pendingRecord(t, ep)

	err := h.reconciler.Handle(context.Background(), callback(id, false, contracts.ErrorTypeClient, 401))
	require.NoError(t, err)

	assert.False(t, ep.Enabled)
	require.Len(t, h.publisher.published, 1)

	pub := h.publisher.published[0]
	assert.Equal(t, contracts.IngressRoutingKey, pub.RoutingKey)

	// The self-event carries a fresh message id so it survives dedup on
	// its way back through ingress.
	msgID, _ := pub.Headers[mq.MessageIDHeader].(string)
	_, err = uuid.Parse(msgID)
	assert.NoError(t, err)

	env := pub.Payload.(contracts.IngressEnvelope)
	assert.Equal(t, SelfEventBundle, env.Bundle)
	assert.Equal(t, SelfEventApplication, env.Application)
	assert.Equal(t, SelfEventType, env.EventType)
	assert.Equal(t, "org-1", env.OrgID)
	require.Len(t, env.Recipients, 1)
	assert.True(t, env.Recipients[0].OnlyAdmins)
	assert.True(t, env.Recipients[0].IgnoreUserPreferences)

	require.Len(t, env.Events, 1)
	assert.Equal(t, ep.ID.String(), env.Events[0].Payload["endpoint_id"])
	assert.Equal(t, contracts.ErrorTypeClient, env.Events[0].Payload["error_type"])
	assert.Equal(t, 401, env.Events[0].Payload["status_code"])
	assert.Equal(t, 1, env.Events[0].Payload["attempt_count"])
}

func TestHandleClientErrorOnDisabledEndpointEmitsNothing(t *testing.T) {
	h := newReconcilerHarness(10)
	ep := webhookEndpoint("org-1")
	h.endpoints.add(ep)

	first := h.pendingRecord(t, ep)
	second := h.pendingRecord(t, ep)

	require.NoError(t, h.reconciler.Handle(context.Background(), callback(first, false, contracts.ErrorTypeClient, 403)))
	require.NoError(t, h.reconciler.Handle(context.Background(), callback(second, false, contracts.ErrorTypeClient, 403)))

	// Both records complete, but only the callback that flipped the
	// endpoint publishes the disable notification.
	assert.Equal(t, model.InvocationFailure, h.deliveries.records[first].Result)
	assert.Equal(t, model.InvocationFailure, h.deliveries.records[second].Result)
	assert.Len(t, h.publisher.published, 1)
}

func TestHandleServerErrorsDisableAtThreshold(t *testing.T) {
	h := newReconcilerHarness(3)
	ep := webhookEndpoint("org-1")
	h.endpoints.add(ep)

	for i := 0; i < 2; i++ {
		id := h.pendingRecord(t, ep)
		require.NoError(t, h.reconciler.Handle(context.Background(), callback(id, false, contracts.ErrorTypeServer, 503)))
		assert.True(t, ep.Enabled)
		assert.Empty(t, h.publisher.published)
	}

	id := h.pendingRecord(t, ep)
	require.NoError(t, h.reconciler.Handle(context.Background(), callback(id, false, contracts.ErrorTypeServer, 503)))

	assert.False(t, ep.Enabled)
	require.Len(t, h.publisher.published, 1)
	env := h.publisher.published[0].Payload.(contracts.IngressEnvelope)
	assert.Equal(t, contracts.ErrorTypeServer, env.Events[0].Payload["error_type"])
	assert.Equal(t, 3, env.Events[0].Payload["attempt_count"])
}

func TestHandleSuccessBetweenServerErrorsResetsTheRun(t *testing.T) {
	h := newReconcilerHarness(3)
	ep := webhookEndpoint("org-1")
	h.endpoints.add(ep)

	for i := 0; i < 2; i++ {
		id := h.pendingRecord(t, ep)
		require.NoError(t, h.reconciler.Handle(context.Background(), callback(id, false, contracts.ErrorTypeServer, 502)))
	}

	id := h.pendingRecord(t, ep)
	require.NoError(t, h.reconciler.Handle(context.Background(), callback(id, true, "", 0)))
	assert.Equal(t, 0, ep.ConsecutiveServerErrors)

	// The run starts over: two more failures are still under threshold.
	for i := 0; i < 2; i++ {
		id := h.pendingRecord(t, ep)
		require.NoError(t, h.reconciler.Handle(context.Background(), callback(id, false, contracts.ErrorTypeServer, 502)))
	}
	assert.True(t, ep.Enabled)
	assert.Empty(t, h.publisher.published)
}

func TestHandleTransportErrorCountsAsServerError(t *testing.T) {
	// A callback with no error detail at all (connection refused and the
	// like) follows the threshold path.
	h := newReconcilerHarness(1)
	ep := webhookEndpoint("org-1")
	h.endpoints.add(ep)
	id := h.pendingRecord(t, ep)

	require.NoError(t, h.reconciler.Handle(context.Background(), callback(id, false, "", 0)))

	assert.False(t, ep.Enabled)
	require.Len(t, h.publisher.published, 1)
	env := h.publisher.published[0].Payload.(contracts.IngressEnvelope)
	assert.Equal(t, 0, env.Events[0].Payload["status_code"])
}

func TestHandleUnknownHistoryIDIsDropped(t *testing.T) {
	h := newReconcilerHarness(10)
	ep := webhookEndpoint("org-1")
	h.endpoints.add(ep)

	err := h.reconciler.Handle(context.Background(), callback(uuid.New(), false, contracts.ErrorTypeClient, 401))
	require.NoError(t, err)

	// No health effect from a callback we cannot attribute.
	assert.True(t, ep.Enabled)
	assert.Empty(t, h.publisher.published)
}

func TestHandleDuplicateCallbackHasNoSecondHealthEffect(t *testing.T) {
	h := newReconcilerHarness(2)
	ep := webhookEndpoint("org-1")
	h.endpoints.add(ep)
	id := h.pendingRecord(t, ep)

	require.NoError(t, h.reconciler.Handle(context.Background(), callback(id, false, contracts.ErrorTypeServer, 500)))
	assert.Equal(t, 1, ep.ConsecutiveServerErrors)

	// Redelivered callback: the record is already terminal, so the
	// counter must not move again.
	require.NoError(t, h.reconciler.Handle(context.Background(), callback(id, false, contracts.ErrorTypeServer, 500)))
	assert.Equal(t, 1, ep.ConsecutiveServerErrors)
	assert.True(t, ep.Enabled)
}

func TestHandleUntrackedCallbackIsAcked(t *testing.T) {
	h := newReconcilerHarness(10)
	ep := webhookEndpoint("org-1")
	h.endpoints.add(ep)

	// Digest mails carry no delivery record id; their callbacks must
	// neither touch health counters nor count as unknown history.
	err := h.reconciler.Handle(context.Background(), json.RawMessage(`{"history_id":"","successful":false}`))
	require.NoError(t, err)
	assert.True(t, ep.Enabled)
	assert.Empty(t, h.publisher.published)
}

func TestHandleMalformedCallbackIsAcked(t *testing.T) {
	h := newReconcilerHarness(10)

	assert.NoError(t, h.reconciler.Handle(context.Background(), json.RawMessage(`{not json`)))
	assert.NoError(t, h.reconciler.Handle(context.Background(), json.RawMessage(`{"history_id":"not-a-uuid"}`)))
	assert.Empty(t, h.publisher.published)
}

func TestHandleStoreFailurePropagatesForRedelivery(t *testing.T) {
	h := newReconcilerHarness(10)
	h.deliveries.failAll = assert.AnError

	err := h.reconciler.Handle(context.Background(), callback(uuid.New(), true, "", 0))
	assert.Error(t, err)
}
