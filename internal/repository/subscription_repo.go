package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifgate/internal/model"
)

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) users(ctx context.Context, orgID string, eventTypeID uuid.UUID, subType model.SubscriptionType, subscribed bool) ([]string, error) {
	query := `
		SELECT user_id
		FROM email_subscriptions
		WHERE org_id = $1 AND event_type_id = $2 AND subscription_type = $3 AND subscribed = $4
	`
	rows, err := r.db.Query(ctx, query, orgID, eventTypeID, subType, subscribed)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Subscribers returns users who explicitly subscribed.
func (r *SubscriptionRepository) Subscribers(ctx context.Context, orgID string, eventTypeID uuid.UUID, subType model.SubscriptionType) ([]string, error) {
	return r.users(ctx, orgID, eventTypeID, subType, true)
}

// Unsubscribers returns users who explicitly opted out.
func (r *SubscriptionRepository) Unsubscribers(ctx context.Context, orgID string, eventTypeID uuid.UUID, subType model.SubscriptionType) ([]string, error) {
	return r.users(ctx, orgID, eventTypeID, subType, false)
}

// OrgUsers returns every known user of the org (the audience when the
// event type is subscribed by default).
func (r *SubscriptionRepository) OrgUsers(ctx context.Context, orgID string) ([]string, error) {
	query := `
		SELECT DISTINCT user_id FROM email_subscriptions WHERE org_id = $1
		UNION
		SELECT user_id FROM org_admins WHERE org_id = $1
	`
	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query org users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan org user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DailySubscribers returns users with an active daily subscription to any
// event type of the (bundle, application) pair. The digest runner resolves
// recipients per aggregation key, not per event type.
func (r *SubscriptionRepository) DailySubscribers(ctx context.Context, orgID, bundle, application string) ([]string, error) {
	query := `
		SELECT DISTINCT s.user_id
		FROM email_subscriptions s
		JOIN event_types t ON t.id = s.event_type_id
		WHERE s.org_id = $1 AND t.bundle = $2 AND t.application = $3
		  AND s.subscription_type = 'daily' AND s.subscribed
	`
	rows, err := r.db.Query(ctx, query, orgID, bundle, application)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily subscribers: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan daily subscriber: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Admins returns the org's admin users, the audience for deliveries that
// ignore user preferences.
func (r *SubscriptionRepository) Admins(ctx context.Context, orgID string) ([]string, error) {
	query := `SELECT user_id FROM org_admins WHERE org_id = $1`
	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query org admins: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan org admin: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
