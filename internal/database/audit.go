package database

import (
	"context"
	"database/sql"

	"customdomains/internal/model"
)

func (db *DB) LogAudit(ctx context.Context, entry model.AuditEntry) error {
	var orderID interface{}
	if entry.OrderID != "" {
		orderID = entry.OrderID
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, order_id, domain, detail, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Actor, entry.Action, orderID, entry.Domain, entry.Detail, entry.IPAddress,
	)
	return err
}

func (db *DB) ListAuditLog(ctx context.Context, limit, offset int) ([]model.AuditEntry, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, actor, action, order_id, domain, detail, ip_address, created_at
		 FROM audit_log
		 ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var orderID, domain, detail, ip sql.NullString
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &orderID, &domain, &detail, &ip, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.OrderID = orderID.String
		e.Domain = domain.String
		e.Detail = detail.String
		e.IPAddress = ip.String
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
