// Package postgres implements the persistence interfaces in internal/domain
// on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mosaicstories/mosaic/internal/domain"
)

// DB is the subset of pgxpool.Pool the stores need. Satisfied by *pgxpool.Pool
// and by pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerStore implements domain.LedgerStore.
type LedgerStore struct {
	db DB
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const userColumns = `id, email, name, billing_app_user_id, stripe_customer_id,
	apple_original_transaction_id, is_premium, premium_expires_at, is_paused,
	is_cancelled, billing_issue, listen_credits, active_subscription_id,
	created_at, updated_at`

// FindUserByIdentity resolves a user through the ordered identifier chain:
// RevenueCat app-user-id linkage, Apple original transaction id, Stripe
// customer id, then email. The email fallback exists because a purchase may
// complete before any app-user-id linkage is persisted. The Apple column is
// populated by the account-linking flow in the app backend.
func (s *LedgerStore) FindUserByIdentity(ctx context.Context, identity domain.UserIdentity) (*domain.UserLedger, error) {
	lookups := []struct {
		column string
		value  string
	}{
		{"billing_app_user_id", identity.AppUserID},
		{"apple_original_transaction_id", identity.AppleTransactionID},
		{"stripe_customer_id", identity.StripeCustomerID},
		{"email", identity.Email},
	}

	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		query := fmt.Sprintf("SELECT %s FROM users WHERE %s = $1", userColumns, l.column)
		user, err := s.scanUser(s.db.QueryRow(ctx, query, l.value))
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Internal(err, "ledger.find_user", "failed to look up user")
		}
	}

	return nil, nil
}

// ApplyLedgerMutation applies the mutation as one UPDATE so concurrent
// webhook deliveries for the same user cannot interleave a read-modify-write.
// SET expressions evaluate against the pre-update row, so the credit guard
// compares the stored active_subscription_id even when the same statement
// reassigns it, and GREATEST keeps the expiry monotonic.
func (s *LedgerStore) ApplyLedgerMutation(ctx context.Context, userID uuid.UUID, m domain.LedgerMutation) error {
	if m.IsEmpty() {
		return nil
	}

	sets := []string{"updated_at = now()"}
	args := []any{userID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if m.SetPremium != nil {
		sets = append(sets, "is_premium = "+arg(*m.SetPremium))
	}
	if m.SetPaused != nil {
		sets = append(sets, "is_paused = "+arg(*m.SetPaused))
	}
	if m.SetCancelled != nil {
		sets = append(sets, "is_cancelled = "+arg(*m.SetCancelled))
	}
	if m.SetBillingIssue != nil {
		sets = append(sets, "billing_issue = "+arg(*m.SetBillingIssue))
	}

	switch {
	case m.ClearExpiresAt:
		sets = append(sets, "premium_expires_at = NULL")
	case m.SetExpiresAt != nil && m.ForceExpiry:
		sets = append(sets, "premium_expires_at = "+arg(*m.SetExpiresAt))
	case m.SetExpiresAt != nil:
		sets = append(sets, fmt.Sprintf(
			"premium_expires_at = GREATEST(COALESCE(premium_expires_at, 'epoch'::timestamptz), %s)",
			arg(*m.SetExpiresAt)))
	}

	if m.CreditDelta != 0 || m.GuardedCredit != 0 {
		expr := "listen_credits"
		if m.CreditDelta != 0 {
			expr += " + " + arg(m.CreditDelta)
		}
		if m.GuardedCredit != 0 {
			if m.GuardSubID != nil {
				expr += fmt.Sprintf(
					" + CASE WHEN active_subscription_id IS DISTINCT FROM %s THEN %s ELSE 0 END",
					arg(*m.GuardSubID), arg(m.GuardedCredit))
			} else {
				expr += " + " + arg(m.GuardedCredit)
			}
		}
		sets = append(sets, "listen_credits = GREATEST("+expr+", 0)")
	}

	if m.SetActiveSubscriptionID != nil {
		sets = append(sets, "active_subscription_id = "+arg(*m.SetActiveSubscriptionID))
	}
	if m.LinkBillingAppUserID != nil {
		sets = append(sets, fmt.Sprintf(
			"billing_app_user_id = COALESCE(NULLIF(billing_app_user_id, ''), %s)",
			arg(*m.LinkBillingAppUserID)))
	}

	query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return domain.Internal(err, "ledger.apply_mutation", "failed to apply ledger mutation")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("ledger.apply_mutation", "user", userID.String())
	}
	return nil
}

// CreateUser inserts a new ledger row in the free state.
func (s *LedgerStore) CreateUser(ctx context.Context, params domain.CreateUserParams) (*domain.UserLedger, error) {
	id := uuid.New()
	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO users (id, email, name, listen_credits)
		VALUES ($1, $2, $3, $4)
		RETURNING %s`, userColumns),
		id, strings.ToLower(strings.TrimSpace(params.Email)), params.Name, params.StarterCredits)

	user, err := s.scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.Conflict("ledger.create_user", "email already registered")
		}
		return nil, domain.Internal(err, "ledger.create_user", "failed to create user")
	}
	return user, nil
}

// GetUserByEmail fetches a ledger row by email.
func (s *LedgerStore) GetUserByEmail(ctx context.Context, email string) (*domain.UserLedger, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE email = $1", userColumns)
	user, err := s.scanUser(s.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("ledger.get_user", "user", email)
		}
		return nil, domain.Internal(err, "ledger.get_user", "failed to fetch user")
	}
	return user, nil
}

func (s *LedgerStore) scanUser(row pgx.Row) (*domain.UserLedger, error) {
	var (
		u         domain.UserLedger
		expiresAt pgtype.Timestamptz
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.BillingAppUserID, &u.StripeCustomerID,
		&u.AppleOriginalTransactionID, &u.IsPremium, &expiresAt, &u.IsPaused,
		&u.IsCancelled, &u.BillingIssue, &u.ListenCredits,
		&u.ActiveSubscriptionID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		u.PremiumExpiresAt = &t
	}
	return &u, nil
}
