package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	contracts "notifgate/contracts/mq"
	"notifgate/internal/model"
	"notifgate/internal/processor"
)

type digestHarness struct {
	runner        *DigestRunner
	staging       *fakeStagingStore
	subscriptions *fakeSubscriptionStore
	publisher     *fakePublisher
}

func newDigestHarness() *digestHarness {
	h := &digestHarness{
		staging:       &fakeStagingStore{},
		subscriptions: newFakeSubscriptionStore(),
		publisher:     &fakePublisher{},
	}
	h.runner = NewDigestRunner(h.staging, h.subscriptions, h.publisher, nil, time.Minute, zap.NewNop())
	return h
}

func (h *digestHarness) stage(org, bundle, app, eventType string, at time.Time) {
	h.staging.rows = append(h.staging.rows, &model.StagedRow{
		ID:          uuid.New(),
		OrgID:       org,
		Bundle:      bundle,
		Application: app,
		Payload:     json.RawMessage(`{"event_type":"` + eventType + `"}`),
		CreatedAt:   at,
	})
}

func digestPayload(t *testing.T, pub publishedMessage) processor.EmailPayload {
	t.Helper()
	out, ok := pub.Payload.(contracts.ConnectorMessage)
	require.True(t, ok)
	var payload processor.EmailPayload
	require.NoError(t, json.Unmarshal(out.RenderedPayload, &payload))
	return payload
}

func TestRunFoldsWindowIntoOneDigestPerKey(t *testing.T) {
	h := newDigestHarness()
	now := time.Now().UTC()
	start, end := now.Add(-time.Hour), now

	h.subscriptions.daily["org-1/rhel/policies"] = []string{"alice"}
	h.stage("org-1", "rhel", "policies", "policy-triggered", now.Add(-30*time.Minute))
	h.stage("org-1", "rhel", "policies", "policy-triggered", now.Add(-20*time.Minute))
	h.stage("org-1", "rhel", "policies", "policy-resolved", now.Add(-10*time.Minute))

	require.NoError(t, h.runner.Run(context.Background(), start, end))

	require.Len(t, h.publisher.published, 1)
	out := h.publisher.published[0].Payload.(contracts.ConnectorMessage)
	assert.Empty(t, out.DeliveryRecordID, "digest sends are fire-and-forget")

	payload := digestPayload(t, h.publisher.published[0])
	assert.Equal(t, []string{"alice"}, payload.Recipients)

	var body struct {
		Aggregates struct {
			Total      int            `json:"total"`
			EventTypes map[string]int `json:"event_types"`
		} `json:"aggregates"`
	}
	require.NoError(t, json.Unmarshal(payload.Body, &body))
	assert.Equal(t, 3, body.Aggregates.Total)
	assert.Equal(t, 2, body.Aggregates.EventTypes["policy-triggered"])
	assert.Equal(t, 1, body.Aggregates.EventTypes["policy-resolved"])

	assert.Empty(t, h.staging.rows)
}

func TestRunPurgeIsScopedToTheWindow(t *testing.T) {
	h := newDigestHarness()
	now := time.Now().UTC()
	start, end := now.Add(-time.Hour), now

	h.subscriptions.daily["org-1/rhel/policies"] = []string{"alice"}
	h.stage("org-1", "rhel", "policies", "in-window", now.Add(-30*time.Minute))
	// Staged while the run executes: after the window end, must survive.
	h.stage("org-1", "rhel", "policies", "late", now.Add(time.Second))

	require.NoError(t, h.runner.Run(context.Background(), start, end))

	require.Len(t, h.staging.rows, 1)
	assert.Contains(t, string(h.staging.rows[0].Payload), "late")
}

func TestRunKeyFailureDoesNotStopOtherKeys(t *testing.T) {
	h := newDigestHarness()
	now := time.Now().UTC()
	start, end := now.Add(-time.Hour), now

	h.subscriptions.daily["org-1/rhel/policies"] = []string{"alice"}
	h.subscriptions.daily["org-1/openshift/advisor"] = []string{"bob"}
	h.stage("org-1", "rhel", "policies", "policy-triggered", now.Add(-30*time.Minute))
	h.stage("org-1", "openshift", "advisor", "recommendation", now.Add(-30*time.Minute))

	// The broker rejects the advisor digest; the policies one must still
	// go out and be purged, and the run must report the failure so the
	// scheduler holds the window for a retry.
	h.publisher.failMatch = "advisor"

	err := h.runner.Run(context.Background(), start, end)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisor")

	require.Len(t, h.publisher.published, 1)
	payload := digestPayload(t, h.publisher.published[0])
	assert.Equal(t, []string{"alice"}, payload.Recipients)

	// The failed key's rows stay staged for the retry.
	require.Len(t, h.staging.rows, 1)
	assert.Equal(t, "openshift", h.staging.rows[0].Bundle)
}

func TestRunRetriedWindowRecoversFailedKey(t *testing.T) {
	h := newDigestHarness()
	now := time.Now().UTC()
	start := now.Add(-time.Hour)

	h.subscriptions.daily["org-1/rhel/policies"] = []string{"alice"}
	h.subscriptions.daily["org-1/openshift/advisor"] = []string{"bob"}
	h.stage("org-1", "rhel", "policies", "policy-triggered", now.Add(-30*time.Minute))
	h.stage("org-1", "openshift", "advisor", "recommendation", now.Add(-30*time.Minute))

	h.publisher.failMatch = "advisor"
	require.Error(t, h.runner.Run(context.Background(), start, now))
	require.Len(t, h.publisher.published, 1)

	// Broker recovers; the retried run covers the extended window. Only
	// the failed key has rows left, so nothing is delivered twice.
	h.publisher.failMatch = ""
	require.NoError(t, h.runner.Run(context.Background(), start, now.Add(time.Minute)))

	require.Len(t, h.publisher.published, 2)
	payload := digestPayload(t, h.publisher.published[1])
	assert.Equal(t, []string{"bob"}, payload.Recipients)
	assert.Empty(t, h.staging.rows)
}

func TestRunWithoutRecipientsStillConsumesRows(t *testing.T) {
	h := newDigestHarness()
	now := time.Now().UTC()
	start, end := now.Add(-time.Hour), now

	h.stage("org-1", "rhel", "policies", "policy-triggered", now.Add(-30*time.Minute))

	require.NoError(t, h.runner.Run(context.Background(), start, end))

	assert.Empty(t, h.publisher.published)
	assert.Empty(t, h.staging.rows)
}

func TestRunSeparatesOrgs(t *testing.T) {
	h := newDigestHarness()
	now := time.Now().UTC()
	start, end := now.Add(-time.Hour), now

	h.subscriptions.daily["org-1/rhel/policies"] = []string{"alice"}
	h.subscriptions.daily["org-2/rhel/policies"] = []string{"bob"}
	h.stage("org-1", "rhel", "policies", "policy-triggered", now.Add(-30*time.Minute))
	h.stage("org-2", "rhel", "policies", "policy-triggered", now.Add(-30*time.Minute))

	require.NoError(t, h.runner.Run(context.Background(), start, end))

	require.Len(t, h.publisher.published, 2)
	first := digestPayload(t, h.publisher.published[0])
	second := digestPayload(t, h.publisher.published[1])
	assert.ElementsMatch(t,
		[][]string{first.Recipients, second.Recipients},
		[][]string{{"alice"}, {"bob"}},
	)
}

func TestDailyOnlyAudienceReceivesDigest(t *testing.T) {
	h := newDigestHarness()
	h.subscriptions.daily["org-1/rhel/policies"] = []string{"alice"}

	// alice has no instant subscription, so dispatch sends nothing
	// immediately but must still stage the event.
	dispatcher := NewDispatcher(
		processor.NewRegistry(),
		newFakeDeliveryStore(),
		h.subscriptions,
		h.staging,
		h.publisher,
		zap.NewNop(),
	)
	ev, et := testEvent("org-1")
	email := model.Endpoint{ID: uuid.New(), OrgID: "org-1", Type: model.EndpointTypeEmail, Enabled: true}
	require.NoError(t, dispatcher.Dispatch(context.Background(), ev, et, []model.Endpoint{email}, nil))
	require.Empty(t, h.publisher.published)

	start := ev.CreatedAt.Add(-time.Minute)
	end := ev.CreatedAt.Add(time.Minute)
	require.NoError(t, h.runner.Run(context.Background(), start, end))

	require.Len(t, h.publisher.published, 1)
	payload := digestPayload(t, h.publisher.published[0])
	assert.Equal(t, []string{"alice"}, payload.Recipients)
}

func TestEventCountAccumulatorHandlesOpaquePayloads(t *testing.T) {
	acc := NewEventCountAccumulator(model.AggregationKey{})
	acc.Fold(json.RawMessage(`{"event_type":"a"}`))
	acc.Fold(json.RawMessage(`not json`))
	acc.Fold(json.RawMessage(`{}`))

	summary := acc.Summary()
	assert.Equal(t, 3, summary["total"])
	counts := summary["event_types"].(map[string]int)
	assert.Equal(t, 1, counts["a"])
	assert.Equal(t, 2, counts["unknown"])
}
