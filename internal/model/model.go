package model

import (
	"time"

	"customdomains/internal/provision"
)

// OrderStatus is the lifecycle state of a domain order.
type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusPaid           OrderStatus = "paid"
	StatusProvisioning   OrderStatus = "provisioning"
	StatusActive         OrderStatus = "active"
	StatusFailed         OrderStatus = "failed"
)

// Fulfillable reports whether provisioning may run for an order in this
// state. A provisioning order is included so runs interrupted by a restart
// can be picked up again.
func (s OrderStatus) Fulfillable() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusProvisioning
}

// Order is a merchant's purchase of a custom domain.
type Order struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenantId"`
	Domain          string            `json:"domain"`
	Status          OrderStatus       `json:"status"`
	StripeSessionID string            `json:"stripeSessionId,omitempty"`
	Result          *provision.Result `json:"result,omitempty"`
	Attempts        int               `json:"attempts"`
	LastError       string            `json:"lastError,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	PaidAt          *time.Time        `json:"paidAt,omitempty"`
}

type AuditEntry struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	OrderID   string    `json:"orderId,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
