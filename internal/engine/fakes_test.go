package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"notifgate/internal/model"
	"notifgate/internal/repository"
)

// In-memory collaborators mirroring the pgx repositories' semantics,
// including the atomic conditional updates on endpoint health.

type fakeEventStore struct {
	eventTypes map[string]*model.EventType // bundle/app/name
	events     []*model.Event
	failCreate error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{eventTypes: make(map[string]*model.EventType)}
}

func (s *fakeEventStore) addEventType(et *model.EventType) {
	s.eventTypes[et.Bundle+"/"+et.Application+"/"+et.Name] = et
}

func (s *fakeEventStore) Create(ctx context.Context, ev *model.Event) error {
	if s.failCreate != nil {
		return s.failCreate
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeEventStore) ResolveEventType(ctx context.Context, bundle, application, name string) (*model.EventType, error) {
	et, ok := s.eventTypes[bundle+"/"+application+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", repository.ErrUnknownEventType, bundle, application, name)
	}
	return et, nil
}

type fakeTargetStore struct {
	targets map[uuid.UUID][]model.Endpoint // keyed by event type id
	err     error
}

func newFakeTargetStore() *fakeTargetStore {
	return &fakeTargetStore{targets: make(map[uuid.UUID][]model.Endpoint)}
}

func (s *fakeTargetStore) ResolveTargets(ctx context.Context, orgID string, eventTypeID uuid.UUID) ([]model.Endpoint, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.targets[eventTypeID], nil
}

type fakeEndpointStore struct {
	endpoints map[uuid.UUID]*model.Endpoint
}

func newFakeEndpointStore() *fakeEndpointStore {
	return &fakeEndpointStore{endpoints: make(map[uuid.UUID]*model.Endpoint)}
}

func (s *fakeEndpointStore) add(ep *model.Endpoint) {
	s.endpoints[ep.ID] = ep
}

func (s *fakeEndpointStore) GetByID(ctx context.Context, id uuid.UUID, orgID string) (*model.Endpoint, error) {
	ep, ok := s.endpoints[id]
	if !ok || (ep.OrgID != "" && ep.OrgID != orgID) {
		return nil, fmt.Errorf("%w: %s", repository.ErrEndpointNotFound, id)
	}
	cp := *ep
	return &cp, nil
}

func (s *fakeEndpointStore) Get(ctx context.Context, id uuid.UUID) (*model.Endpoint, error) {
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrEndpointNotFound, id)
	}
	cp := *ep
	return &cp, nil
}

func (s *fakeEndpointStore) IncrementServerErrors(ctx context.Context, id uuid.UUID, threshold int) (bool, error) {
	ep, ok := s.endpoints[id]
	if !ok || !ep.Enabled {
		return false, nil
	}
	ep.ConsecutiveServerErrors++
	if ep.ConsecutiveServerErrors >= threshold {
		ep.Enabled = false
		return true, nil
	}
	return false, nil
}

func (s *fakeEndpointStore) ResetServerErrors(ctx context.Context, id uuid.UUID) error {
	if ep, ok := s.endpoints[id]; ok {
		ep.ConsecutiveServerErrors = 0
	}
	return nil
}

func (s *fakeEndpointStore) Disable(ctx context.Context, id uuid.UUID) (bool, error) {
	ep, ok := s.endpoints[id]
	if !ok || !ep.Enabled {
		return false, nil
	}
	ep.Enabled = false
	return true, nil
}

type fakeDeliveryStore struct {
	records map[uuid.UUID]*model.DeliveryRecord
	order   []uuid.UUID
	failAll error
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{records: make(map[uuid.UUID]*model.DeliveryRecord)}
}

func (s *fakeDeliveryStore) Insert(ctx context.Context, rec *model.DeliveryRecord) error {
	if s.failAll != nil {
		return s.failAll
	}
	// Mirror the unique (event_id, endpoint_id) constraint.
	for _, existing := range s.records {
		if existing.EventID == rec.EventID && existing.EndpointID == rec.EndpointID {
			return nil
		}
	}
	cp := *rec
	cp.CreatedAt = time.Now()
	s.records[rec.ID] = &cp
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *fakeDeliveryStore) Complete(ctx context.Context, id uuid.UUID, result model.InvocationResult, durationMs int64, details map[string]any) (*model.DeliveryRecord, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	rec, ok := s.records[id]
	if !ok || rec.Result != model.InvocationPending {
		return nil, nil
	}
	rec.Result = result
	rec.DurationMs = durationMs
	rec.Details = details
	cp := *rec
	return &cp, nil
}

func (s *fakeDeliveryStore) all() []*model.DeliveryRecord {
	out := make([]*model.DeliveryRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

type fakeSubscriptionStore struct {
	subscribers   map[uuid.UUID][]string
	unsubscribers map[uuid.UUID][]string
	orgUsers      []string
	admins        []string
	daily         map[string][]string // org/bundle/app
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{
		subscribers:   make(map[uuid.UUID][]string),
		unsubscribers: make(map[uuid.UUID][]string),
		daily:         make(map[string][]string),
	}
}

func (s *fakeSubscriptionStore) Subscribers(ctx context.Context, orgID string, eventTypeID uuid.UUID, subType model.SubscriptionType) ([]string, error) {
	return s.subscribers[eventTypeID], nil
}

func (s *fakeSubscriptionStore) Unsubscribers(ctx context.Context, orgID string, eventTypeID uuid.UUID, subType model.SubscriptionType) ([]string, error) {
	return s.unsubscribers[eventTypeID], nil
}

func (s *fakeSubscriptionStore) OrgUsers(ctx context.Context, orgID string) ([]string, error) {
	return s.orgUsers, nil
}

func (s *fakeSubscriptionStore) Admins(ctx context.Context, orgID string) ([]string, error) {
	return s.admins, nil
}

func (s *fakeSubscriptionStore) DailySubscribers(ctx context.Context, orgID, bundle, application string) ([]string, error) {
	return s.daily[orgID+"/"+bundle+"/"+application], nil
}

type fakeStagingStore struct {
	rows       []*model.StagedRow
	failInsert error
}

func (s *fakeStagingStore) Insert(ctx context.Context, row *model.StagedRow) error {
	if s.failInsert != nil {
		return s.failInsert
	}
	cp := *row
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *fakeStagingStore) Keys(ctx context.Context, start, end time.Time) ([]model.AggregationKey, error) {
	seen := make(map[model.AggregationKey]struct{})
	var keys []model.AggregationKey
	for _, row := range s.rows {
		if !inWindow(row.CreatedAt, start, end) {
			continue
		}
		k := model.AggregationKey{OrgID: row.OrgID, Bundle: row.Bundle, Application: row.Application}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *fakeStagingStore) Rows(ctx context.Context, key model.AggregationKey, start, end time.Time) ([]model.StagedRow, error) {
	var out []model.StagedRow
	for _, row := range s.rows {
		if row.OrgID == key.OrgID && row.Bundle == key.Bundle && row.Application == key.Application &&
			inWindow(row.CreatedAt, start, end) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *fakeStagingStore) Purge(ctx context.Context, key model.AggregationKey, start, end time.Time) error {
	kept := s.rows[:0]
	for _, row := range s.rows {
		if row.OrgID == key.OrgID && row.Bundle == key.Bundle && row.Application == key.Application &&
			inWindow(row.CreatedAt, start, end) {
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return nil
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

type publishedMessage struct {
	RoutingKey string
	Payload    any
	Headers    amqp091.Table
}

type fakePublisher struct {
	published []publishedMessage
	// failMatch makes publishes whose marshaled payload contains the
	// substring fail; used for per-key digest isolation tests.
	failMatch string
}

func (p *fakePublisher) PublishWithHeaders(ctx context.Context, routingKey string, payload any, headers amqp091.Table) error {
	if p.failMatch != "" {
		data, _ := json.Marshal(payload)
		if strings.Contains(string(data), p.failMatch) {
			return errors.New("broker rejected message")
		}
	}
	p.published = append(p.published, publishedMessage{
		RoutingKey: routingKey,
		Payload:    payload,
		Headers:    headers,
	})
	return nil
}
