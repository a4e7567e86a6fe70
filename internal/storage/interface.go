// Package storage provides data storage interfaces and implementations
// for the PunchOut gateway.
//
// # Interface Design
//
// The storage layer is organized into focused interfaces:
//
//   - [BuyerStore]: Trading partner trust configuration
//   - [SessionStore]: Live PunchOut shopping sessions
//   - [CartStore]: Immutable returned-cart snapshots
//   - [LogStore]: Append-only transaction audit records
//
// The [Store] interface combines all sub-stores for convenience.
//
// # Implementations
//
// The mongodb sub-package provides a production-ready MongoDB implementation.
// The memory sub-package provides an in-memory implementation for tests and
// single-node development.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines. RemoveSession is the single arbiter for exactly-once session
// close: of two concurrent removals for the same sid, exactly one succeeds.
package storage

import (
	"context"
	"errors"
	"time"
)

// Store is the main storage interface combining all sub-stores
type Store interface {
	BuyerStore
	SessionStore
	CartStore
	LogStore

	// Close releases storage resources
	Close(ctx context.Context) error

	// Ping checks database connectivity
	Ping(ctx context.Context) error
}

// ErrNotFound is returned by removal operations when the record is already gone.
var ErrNotFound = errors.New("record not found")

// BuyerStore manages trading partner configuration
type BuyerStore interface {
	// CreateBuyer creates a new buyer
	CreateBuyer(ctx context.Context, buyer *Buyer) error

	// GetBuyer retrieves a buyer by buyer ID, nil if absent
	GetBuyer(ctx context.Context, buyerID string) (*Buyer, error)

	// UpdateBuyer updates a buyer
	UpdateBuyer(ctx context.Context, buyer *Buyer) error

	// TouchBuyer updates only the buyer's last-activity timestamp.
	// Last-writer-wins; losing a race is harmless.
	TouchBuyer(ctx context.Context, buyerID string, at time.Time) error

	// ListBuyers returns buyers matching the filter
	ListBuyers(ctx context.Context, filter *BuyerFilter) ([]*Buyer, error)

	// CountBuyers returns the number of buyers matching the filter
	CountBuyers(ctx context.Context, filter *BuyerFilter) (int64, error)
}

// SessionStore manages live PunchOut sessions
type SessionStore interface {
	// CreateSession inserts a new session. A duplicate sid is an error.
	CreateSession(ctx context.Context, session *Session) error

	// GetSession retrieves a session by sid, nil if absent
	GetSession(ctx context.Context, sid string) (*Session, error)

	// RemoveSession deletes the session with the given sid.
	// Returns ErrNotFound when no live record exists, which makes the
	// store the single arbiter for exactly-once close.
	RemoveSession(ctx context.Context, sid string) error

	// ListExpiredSessions returns sessions whose expiresAt is at or before now
	ListExpiredSessions(ctx context.Context, now time.Time) ([]*Session, error)

	// CountSessions returns the number of sessions matching the filter
	CountSessions(ctx context.Context, filter *SessionFilter) (int64, error)
}

// CartStore manages returned-cart snapshots
type CartStore interface {
	// CreateCart stores a cart snapshot. Carts are never updated.
	CreateCart(ctx context.Context, cart *Cart) error

	// ListCarts returns carts matching the filter, newest first
	ListCarts(ctx context.Context, filter *CartFilter) ([]*Cart, error)

	// CountCarts returns the number of carts matching the filter
	CountCarts(ctx context.Context, filter *CartFilter) (int64, error)
}

// LogStore manages the append-only transaction audit trail
type LogStore interface {
	// AppendLog stores a transaction log entry. Entries are never updated.
	AppendLog(ctx context.Context, entry *LogEntry) error

	// ListLogs returns log entries matching the filter, newest first
	ListLogs(ctx context.Context, filter *LogFilter) ([]*LogEntry, error)

	// PurgeLogs deletes entries older than the cutoff, returning the count removed
	PurgeLogs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Domain models

// ProtocolType identifies which PunchOut wire protocol a buyer speaks
type ProtocolType string

const (
	ProtocolCXML ProtocolType = "cxml"
	ProtocolOCI  ProtocolType = "oci"
)

// Buyer represents a trusted trading partner
type Buyer struct {
	BuyerID      string       `bson:"_id" json:"buyerId"`
	Protocol     ProtocolType `bson:"protocol" json:"protocol"`
	Active       bool         `bson:"active" json:"active"`
	CreatedAt    time.Time    `bson:"created_at" json:"createdAt"`
	LastActivity time.Time    `bson:"last_activity" json:"lastActivity"`

	// Identities holds protocol-specific identification.
	// cXML buyers carry From/To/Sender; OCI buyers carry HookDomain/Username.
	Identities Identities `bson:"identities" json:"identities"`

	// SharedSecretRef is an opaque reference into the secret store (cXML only).
	// The secret itself is never persisted here.
	SharedSecretRef string `bson:"shared_secret_ref,omitempty" json:"sharedSecretRef,omitempty"`

	// FieldMappings remaps item field values per field type, e.g.
	// {"sku": {"X1": "BUYER-X1"}}. The "extrinsics" key lists extrinsic
	// field names to emit (values keyed into the line's extrinsic map).
	FieldMappings map[string]map[string]string `bson:"field_mappings,omitempty" json:"fieldMappings,omitempty"`

	// PricingTier is copied onto sessions at creation
	PricingTier string `bson:"pricing_tier,omitempty" json:"pricingTier,omitempty"`

	// ReturnURL, when set, makes the gateway POST the order message
	// server-side. Absent means the return is handed back for a
	// browser form post.
	ReturnURL string `bson:"return_url,omitempty" json:"returnUrl,omitempty"`
}

// Identities holds protocol-specific buyer identification
type Identities struct {
	// cXML credential identities
	From   string `bson:"from,omitempty" json:"from,omitempty"`
	To     string `bson:"to,omitempty" json:"to,omitempty"`
	Sender string `bson:"sender,omitempty" json:"sender,omitempty"`

	// OCI identity, derived from HOOK_URL host and USERNAME
	HookDomain string `bson:"hook_domain,omitempty" json:"hookDomain,omitempty"`
	Username   string `bson:"username,omitempty" json:"username,omitempty"`
}

// BuyerFilter narrows buyer queries
type BuyerFilter struct {
	Protocol ProtocolType
	Active   *bool
	Limit    int
	Offset   int
}

// Session is a single live shopping engagement
type Session struct {
	SID         string    `bson:"_id" json:"sid"`
	BuyerID     string    `bson:"buyer_id" json:"buyerId"`
	UserHint    string    `bson:"user_hint,omitempty" json:"userHint,omitempty"`
	HookURL     string    `bson:"hook_url,omitempty" json:"hookUrl,omitempty"`
	PricingTier string    `bson:"pricing_tier,omitempty" json:"pricingTier,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"createdAt"`
	ExpiresAt   time.Time `bson:"expires_at" json:"expiresAt"`
}

// SessionFilter narrows session queries
type SessionFilter struct {
	BuyerID       string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	ActiveAt      *time.Time // only sessions with expiresAt after this instant
}

// LineItem is one protocol-agnostic cart line
type LineItem struct {
	SKU              string            `bson:"sku" json:"sku"`
	Name             string            `bson:"name" json:"name"`
	Quantity         int               `bson:"quantity" json:"quantity"`
	UnitPrice        float64           `bson:"unit_price" json:"price"`
	Currency         string            `bson:"currency,omitempty" json:"currency,omitempty"`
	UnitOfMeasure    string            `bson:"uom,omitempty" json:"uom,omitempty"`
	Category         string            `bson:"category,omitempty" json:"category,omitempty"`
	ManufacturerID   string            `bson:"manufacturer_part_id,omitempty" json:"manufacturerPartId,omitempty"`
	ManufacturerName string            `bson:"manufacturer,omitempty" json:"manufacturer,omitempty"`
	ManufacturerCode string            `bson:"manufacturer_code,omitempty" json:"manufacturerCode,omitempty"`
	LeadTime         string            `bson:"lead_time,omitempty" json:"leadTime,omitempty"`
	Vendor           string            `bson:"vendor,omitempty" json:"vendor,omitempty"`
	VendorSKU        string            `bson:"vendor_sku,omitempty" json:"vendorSku,omitempty"`
	Service          string            `bson:"service,omitempty" json:"service,omitempty"`
	Extrinsics       map[string]string `bson:"extrinsics,omitempty" json:"extrinsics,omitempty"`
}

// Totals are derived cart aggregates, never mutated independently
type Totals struct {
	Subtotal      string `bson:"subtotal" json:"subtotal"`
	Tax           string `bson:"tax" json:"tax"`
	Total         string `bson:"total" json:"total"`
	Currency      string `bson:"currency" json:"currency"`
	ItemCount     int    `bson:"item_count" json:"itemCount"`
	TotalQuantity int    `bson:"total_quantity" json:"totalQuantity"`
}

// CartStatusPosted is the only cart status; carts are write-once.
const CartStatusPosted = "posted"

// Cart is the immutable snapshot of a returned shopping cart
type Cart struct {
	ID        string       `bson:"_id" json:"id"`
	SID       string       `bson:"sid" json:"sid"`
	BuyerID   string       `bson:"buyer_id" json:"buyerId"`
	Protocol  ProtocolType `bson:"protocol" json:"protocol"`
	Lines     []LineItem   `bson:"lines" json:"lines"`
	Totals    Totals       `bson:"totals" json:"totals"`
	ReturnURL string       `bson:"return_url,omitempty" json:"returnUrl,omitempty"`
	Status    string       `bson:"status" json:"status"`
	PostedAt  time.Time    `bson:"posted_at" json:"postedAt"`
}

// CartFilter narrows cart queries
type CartFilter struct {
	BuyerID      string
	PostedAfter  *time.Time
	PostedBefore *time.Time
	Limit        int
	Offset       int
}

// Direction marks a log entry as inbound or outbound
type Direction string

const (
	DirectionInbound  Direction = "in"
	DirectionOutbound Direction = "out"
)

// LogEntry is one record of an inbound or outbound exchange.
// Authorization and cookie headers are stripped before storage.
type LogEntry struct {
	ID        string            `bson:"_id" json:"id"`
	Timestamp time.Time         `bson:"timestamp" json:"timestamp"`
	Direction Direction         `bson:"direction" json:"direction"`
	Protocol  ProtocolType      `bson:"protocol" json:"protocol"`
	BuyerID   string            `bson:"buyer_id,omitempty" json:"buyerId,omitempty"`
	Endpoint  string            `bson:"endpoint" json:"endpoint"`
	Status    int               `bson:"status" json:"status"`
	Payload   string            `bson:"payload,omitempty" json:"payload,omitempty"`
	Headers   map[string]string `bson:"headers,omitempty" json:"headers,omitempty"`
}

// LogFilter narrows log queries
type LogFilter struct {
	Protocol ProtocolType
	BuyerID  string
	After    *time.Time
	Before   *time.Time
	Limit    int
	Offset   int
}
