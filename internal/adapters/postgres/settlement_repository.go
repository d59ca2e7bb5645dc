package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
)

const selectEntryColumns = `
SELECT e.id, e.restaurant_id, e.restaurant_name, e.week_ending, e.total_orders,
       e.order_subtotal, e.platform_fee, e.amount_due, e.status,
       e.payment_date, e.transaction_id, e.failure_reason, e.claimed_at,
       e.version, e.created_at, e.updated_at,
       COALESCE(array_agg(o.order_id ORDER BY o.position) FILTER (WHERE o.order_id IS NOT NULL), '{}') AS order_ids
FROM settlement_entries e
LEFT JOIN settlement_entry_orders o ON o.entry_id = e.id`

const groupEntry = ` GROUP BY e.id`

// SettlementRepository implements ports.SettlementRepository on PostgreSQL
type SettlementRepository struct {
	db ports.DBPort
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db ports.DBPort) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// GetByRestaurantWeek retrieves the entry for a restaurant week
func (r *SettlementRepository) GetByRestaurantWeek(ctx context.Context, restaurantID string, weekEnding time.Time) (*domain.SettlementEntry, error) {
	query := selectEntryColumns + ` WHERE e.restaurant_id = $1 AND e.week_ending = $2` + groupEntry
	row := r.db.GetDB().QueryRow(ctx, query, restaurantID, pgDate(domain.NormalizeWeekEnding(weekEnding)))
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSettlementNotFound
		}
		return nil, domain.NewPersistenceError("get settlement by restaurant week", err)
	}
	return entry, nil
}

// GetByID retrieves an entry by its ID
func (r *SettlementRepository) GetByID(ctx context.Context, id string) (*domain.SettlementEntry, error) {
	query := selectEntryColumns + ` WHERE e.id = $1` + groupEntry
	entry, err := scanEntry(r.db.GetDB().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSettlementNotFound
		}
		return nil, domain.NewPersistenceError("get settlement by id", err)
	}
	return entry, nil
}

// List returns entries matching the filter, newest week first
func (r *SettlementRepository) List(ctx context.Context, filter ports.SettlementFilter) ([]*domain.SettlementEntry, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != nil {
		add("e.status = $%d", string(*filter.Status))
	}
	if filter.RestaurantID != "" {
		add("e.restaurant_id = $%d", filter.RestaurantID)
	}
	if filter.WeekEnding != nil {
		add("e.week_ending = $%d", pgDate(domain.NormalizeWeekEnding(*filter.WeekEnding)))
	}
	if filter.WeekOnOrBefore != nil {
		add("e.week_ending <= $%d", pgDate(domain.NormalizeWeekEnding(*filter.WeekOnOrBefore)))
	}

	query := selectEntryColumns
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += groupEntry + ` ORDER BY e.week_ending DESC, e.restaurant_id ASC`

	rows, err := r.db.GetDB().Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewPersistenceError("list settlements", err)
	}
	defer rows.Close()

	entries := make([]*domain.SettlementEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, domain.NewPersistenceError("scan settlement", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewPersistenceError("list settlements", err)
	}
	return entries, nil
}

// Insert creates a new entry together with its order rows
func (r *SettlementRepository) Insert(ctx context.Context, entry *domain.SettlementEntry) error {
	subtotal, fee, due, err := amounts(entry)
	if err != nil {
		return domain.NewPersistenceError("insert settlement", err)
	}

	err = r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO settlement_entries (
				id, restaurant_id, restaurant_name, week_ending, total_orders,
				order_subtotal, platform_fee, amount_due, status, version,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
			ON CONFLICT (restaurant_id, week_ending) DO NOTHING`,
			entry.ID, entry.RestaurantID, entry.RestaurantName, pgDate(entry.WeekEnding), entry.TotalOrders,
			subtotal, fee, due, string(entry.Status), entry.CreatedAt, entry.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
		for i, orderID := range entry.OrderIDs {
			if err := insertOrder(ctx, tx, entry.ID, orderID, i+1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mapWriteError("insert settlement", err)
	}

	entry.Version = 1
	return nil
}

// AppendOrder records one more order on an entry if nobody wrote it since expectedVersion
func (r *SettlementRepository) AppendOrder(ctx context.Context, entry *domain.SettlementEntry, orderID string, expectedVersion int64) error {
	subtotal, fee, due, err := amounts(entry)
	if err != nil {
		return domain.NewPersistenceError("append order", err)
	}

	err = r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE settlement_entries
			SET total_orders = $3, order_subtotal = $4, platform_fee = $5, amount_due = $6,
			    version = version + 1, updated_at = $7
			WHERE id = $1 AND version = $2 AND status = 'PENDING'`,
			entry.ID, expectedVersion, entry.TotalOrders, subtotal, fee, due, entry.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
		return insertOrder(ctx, tx, entry.ID, orderID, entry.TotalOrders)
	})
	if err != nil {
		return mapWriteError("append order", err)
	}

	entry.Version = expectedVersion + 1
	return nil
}

// Claim moves a PENDING entry to PROCESSING and returns the row as claimed.
// Amounts cannot change after the claim, so the transfer uses what this returns.
func (r *SettlementRepository) Claim(ctx context.Context, id string, claimedAt time.Time) (*domain.SettlementEntry, error) {
	var claimed *domain.SettlementEntry
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE settlement_entries
			SET status = 'PROCESSING', claimed_at = $2, updated_at = $2, version = version + 1
			WHERE id = $1 AND status = 'PENDING'`,
			id, claimedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		claimed, err = scanEntry(tx.QueryRow(ctx, selectEntryColumns+` WHERE e.id = $1`+groupEntry, id))
		return err
	})
	if err != nil {
		return nil, domain.NewPersistenceError("claim settlement", err)
	}
	return claimed, nil
}

// MarkPaid records the bank reference on a claimed entry
func (r *SettlementRepository) MarkPaid(ctx context.Context, id, transactionID string, paidAt time.Time) error {
	if transactionID == "" {
		return domain.NewValidationError(domain.ErrorCodeValidationMissingField, "transaction_id", "paid settlement requires a transaction id")
	}
	return r.finish(ctx, "mark settlement paid", `
		UPDATE settlement_entries
		SET status = 'PAID', transaction_id = $2, payment_date = $3, claimed_at = NULL,
		    updated_at = $3, version = version + 1
		WHERE id = $1 AND status = 'PROCESSING'`,
		id, transactionID, paidAt,
	)
}

// MarkFailed records a failed payout on a claimed entry
func (r *SettlementRepository) MarkFailed(ctx context.Context, id, reason string, failedAt time.Time) error {
	return r.finish(ctx, "mark settlement failed", `
		UPDATE settlement_entries
		SET status = 'FAILED', failure_reason = $2, claimed_at = NULL,
		    updated_at = $3, version = version + 1
		WHERE id = $1 AND status = 'PROCESSING'`,
		id, nullText(reason), failedAt,
	)
}

// Release hands a claimed entry back to PENDING
func (r *SettlementRepository) Release(ctx context.Context, id string, releasedAt time.Time) error {
	return r.finish(ctx, "release settlement", `
		UPDATE settlement_entries
		SET status = 'PENDING', claimed_at = NULL, updated_at = $2, version = version + 1
		WHERE id = $1 AND status = 'PROCESSING'`,
		id, releasedAt,
	)
}

// ReleaseStale returns abandoned claims older than claimedBefore to PENDING
func (r *SettlementRepository) ReleaseStale(ctx context.Context, claimedBefore, releasedAt time.Time) (int, error) {
	tag, err := r.db.GetDB().Exec(ctx, `
		UPDATE settlement_entries
		SET status = 'PENDING', claimed_at = NULL, updated_at = $2, version = version + 1
		WHERE status = 'PROCESSING' AND claimed_at < $1`,
		claimedBefore, releasedAt,
	)
	if err != nil {
		return 0, domain.NewPersistenceError("release stale claims", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *SettlementRepository) finish(ctx context.Context, op, query string, args ...interface{}) error {
	tag, err := r.db.GetDB().Exec(ctx, query, args...)
	if err != nil {
		return domain.NewPersistenceError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSettlementNotClaimed
	}
	return nil
}

func insertOrder(ctx context.Context, tx ports.DBTX, entryID, orderID string, position int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO settlement_entry_orders (entry_id, order_id, position)
		VALUES ($1, $2, $3)`,
		entryID, orderID, position,
	)
	return err
}

func amounts(entry *domain.SettlementEntry) (subtotal, fee, due pgtype.Numeric, err error) {
	if subtotal, err = decimalToNumeric(entry.OrderSubtotal); err != nil {
		return
	}
	if fee, err = decimalToNumeric(entry.PlatformFee); err != nil {
		return
	}
	due, err = decimalToNumeric(entry.AmountDue)
	return
}

func mapWriteError(op string, err error) error {
	if errors.Is(err, domain.ErrVersionConflict) || isUniqueViolation(err) {
		return domain.ErrVersionConflict
	}
	return domain.NewPersistenceError(op, err)
}

func scanEntry(row pgx.Row) (*domain.SettlementEntry, error) {
	var (
		e                     domain.SettlementEntry
		weekEnding            pgtype.Date
		subtotal, fee, due    pgtype.Numeric
		status                string
		transactionID, reason pgtype.Text
	)
	err := row.Scan(
		&e.ID, &e.RestaurantID, &e.RestaurantName, &weekEnding, &e.TotalOrders,
		&subtotal, &fee, &due, &status,
		&e.PaymentDate, &transactionID, &reason, &e.ClaimedAt,
		&e.Version, &e.CreatedAt, &e.UpdatedAt,
		&e.OrderIDs,
	)
	if err != nil {
		return nil, err
	}

	e.WeekEnding = domain.NormalizeWeekEnding(weekEnding.Time)
	e.Status = domain.SettlementStatus(status)
	e.TransactionID = transactionID.String
	e.FailureReason = reason.String
	if e.OrderSubtotal, err = pgNumericToDecimal(subtotal); err != nil {
		return nil, err
	}
	if e.PlatformFee, err = pgNumericToDecimal(fee); err != nil {
		return nil, err
	}
	if e.AmountDue, err = pgNumericToDecimal(due); err != nil {
		return nil, err
	}
	if e.OrderIDs == nil {
		e.OrderIDs = []string{}
	}
	return &e, nil
}
