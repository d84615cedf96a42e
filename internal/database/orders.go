package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"customdomains/internal/model"
	"customdomains/internal/provision"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrDuplicateDomain = errors.New("an order for this domain already exists")
	ErrNotFulfillable  = errors.New("order is not in a state that allows provisioning")
)

const orderColumns = `id, tenant_id, domain, status, stripe_session_id, result, attempts, last_error, created_at, updated_at, paid_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o         model.Order
		status    string
		sessionID sql.NullString
		result    sql.NullString
		lastError sql.NullString
		paidAt    sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.TenantID, &o.Domain, &status, &sessionID, &result,
		&o.Attempts, &lastError, &o.CreatedAt, &o.UpdatedAt, &paidAt); err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.StripeSessionID = sessionID.String
	o.LastError = lastError.String
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	if result.Valid && result.String != "" {
		var r provision.Result
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("decoding result of order %s: %w", o.ID, err)
		}
		o.Result = &r
	}
	return &o, nil
}

func (db *DB) CreateOrder(ctx context.Context, tenantID, domain string) (*model.Order, error) {
	row := db.conn.QueryRowContext(ctx,
		`INSERT INTO domain_orders (id, tenant_id, domain, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+orderColumns,
		uuid.NewString(), tenantID, domain, string(model.StatusPendingPayment),
	)
	o, err := scanOrder(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateDomain
		}
		return nil, err
	}
	return o, nil
}

func (db *DB) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	o, err := scanOrder(db.conn.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM domain_orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// ListOrders returns a page of orders, newest first, optionally filtered by
// status, plus the total number of matching orders.
func (db *DB) ListOrders(ctx context.Context, status string, limit, offset int) ([]model.Order, int, error) {
	where := ""
	args := []interface{}{}
	if status != "" {
		where = " WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM domain_orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf("SELECT %s FROM domain_orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, n+1, n+2)
	rows, err := db.conn.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

// MarkOrderPaid moves a pending order to paid. It returns false without an
// error when the order had already left pending_payment, so repeated
// payment events are harmless.
func (db *DB) MarkOrderPaid(ctx context.Context, id, sessionID string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, ErrNotFound
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE domain_orders
		 SET status = $1, stripe_session_id = $2, paid_at = NOW(), updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		string(model.StatusPaid), sessionID, id, string(model.StatusPendingPayment),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := db.GetOrder(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// StartProvisioning marks an order as provisioning and counts the attempt.
func (db *DB) StartProvisioning(ctx context.Context, id string) (*model.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	o, err := scanOrder(db.conn.QueryRowContext(ctx,
		`UPDATE domain_orders
		 SET status = $1, attempts = attempts + 1, updated_at = NOW()
		 WHERE id = $2 AND status IN ($3, $4, $5)
		 RETURNING `+orderColumns,
		string(model.StatusProvisioning), id,
		string(model.StatusPaid), string(model.StatusFailed), string(model.StatusProvisioning),
	))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := db.GetOrder(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotFulfillable
	}
	return o, err
}

func (db *DB) CompleteOrder(ctx context.Context, id string, result provision.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`UPDATE domain_orders
		 SET status = $1, result = $2::jsonb, last_error = NULL, updated_at = NOW()
		 WHERE id = $3`,
		string(model.StatusActive), string(data), id,
	)
	return err
}

func (db *DB) FailOrder(ctx context.Context, id, message string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE domain_orders SET status = $1, last_error = $2, updated_at = NOW() WHERE id = $3`,
		string(model.StatusFailed), message, id,
	)
	return err
}

// ListRetryable returns paid, failed or stale provisioning orders that
// have attempts left and have been idle for at least idle.
func (db *DB) ListRetryable(ctx context.Context, maxAttempts int, idle time.Duration, limit int) ([]model.Order, error) {
	statuses := []string{string(model.StatusPaid), string(model.StatusFailed), string(model.StatusProvisioning)}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM domain_orders
		 WHERE status IN (`+placeholders(1, len(statuses))+`)
		   AND attempts < $4
		   AND updated_at < NOW() - make_interval(secs => $5)
		 ORDER BY updated_at
		 LIMIT $6`,
		statuses[0], statuses[1], statuses[2], maxAttempts, idle.Seconds(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func placeholders(start, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ps, ", ")
}
