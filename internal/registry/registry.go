// Package registry resolves inbound protocol identities to configured
// buyers.
//
// cXML buyers are authenticated against their credential triple and
// shared secret. OCI buyers are created lazily on first contact: the
// protocol's only credential is knowledge of a valid HOOK_URL, and the
// registry preserves that trust model rather than inventing a stronger
// one.
package registry

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-punchout/internal/secrets"
	"github.com/sirosfoundation/go-punchout/internal/storage"
	"github.com/sirosfoundation/go-punchout/pkg/oci"
)

// ErrAuthFailed is the single failure the cXML authentication path
// reports. Unknown identity, wrong secret, inactive buyer and ambiguous
// configuration all collapse into it so the response cannot be used as
// a credential probing oracle. The distinguishing detail goes to the
// log, never to the caller.
var ErrAuthFailed = errors.New("authentication failed")

// Registry looks up and provisions buyers
type Registry struct {
	buyers  storage.BuyerStore
	secrets secrets.Store
	logger  *slog.Logger
}

// New creates a buyer registry
func New(buyers storage.BuyerStore, secretStore secrets.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		buyers:  buyers,
		secrets: secretStore,
		logger:  logger,
	}
}

// Credentials is the identity quadruple extracted from a cXML setup request
type Credentials struct {
	From         string
	To           string
	Sender       string
	SharedSecret string
}

// AuthenticateCXML resolves a credential quadruple to an active cXML
// buyer. The full From/To/Sender triple must match exactly one buyer
// and the presented secret must match the one referenced by that buyer.
func (r *Registry) AuthenticateCXML(ctx context.Context, creds Credentials) (*storage.Buyer, error) {
	active := true
	buyers, err := r.buyers.ListBuyers(ctx, &storage.BuyerFilter{
		Protocol: storage.ProtocolCXML,
		Active:   &active,
	})
	if err != nil {
		return nil, fmt.Errorf("listing buyers: %w", err)
	}

	var matched *storage.Buyer
	for _, buyer := range buyers {
		id := buyer.Identities
		if id.From != creds.From || id.To != creds.To || id.Sender != creds.Sender {
			continue
		}
		if matched != nil {
			// Two buyers claim the same triple: a configuration defect,
			// not a reason to pick one. Refuse until an operator fixes it.
			r.logger.Error("ambiguous buyer configuration",
				"from", creds.From, "to", creds.To, "sender", creds.Sender,
				"buyers", []string{matched.BuyerID, buyer.BuyerID},
			)
			return nil, ErrAuthFailed
		}
		matched = buyer
	}

	if matched == nil {
		r.logger.Warn("cxml auth failed: unknown identity",
			"from", creds.From, "to", creds.To, "sender", creds.Sender)
		// Burn a comparison anyway so the unknown-identity path is not
		// measurably faster than the wrong-secret path.
		verifySecret(creds.SharedSecret, "")
		return nil, ErrAuthFailed
	}

	expected, err := r.secrets.Get(matched.SharedSecretRef)
	if err != nil {
		r.logger.Error("cxml auth failed: secret unavailable",
			"buyer", matched.BuyerID, "ref", matched.SharedSecretRef, "error", err)
		return nil, ErrAuthFailed
	}

	if !verifySecret(creds.SharedSecret, expected) {
		r.logger.Warn("cxml auth failed: shared secret mismatch", "buyer", matched.BuyerID)
		return nil, ErrAuthFailed
	}

	r.touch(ctx, matched.BuyerID)
	return matched, nil
}

// ResolveOrCreateOCI resolves OCI start parameters to a buyer record,
// creating it on first contact. The derived buyer ID is stable per
// hook domain and username, so repeat visitors reuse their record.
func (r *Registry) ResolveOrCreateOCI(ctx context.Context, params *oci.StartParams) (*storage.Buyer, error) {
	domain := oci.HookDomain(params.HookURL)
	username := params.Username
	if username == "" {
		username = "unknown"
	}
	buyerID := sanitizeID(fmt.Sprintf("oci_%s_%s", domain, username))

	buyer, err := r.buyers.GetBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("fetching buyer %s: %w", buyerID, err)
	}
	if buyer != nil {
		if !buyer.Active {
			r.logger.Warn("oci buyer deactivated", "buyer", buyerID)
			return nil, ErrAuthFailed
		}
		r.touch(ctx, buyerID)
		return buyer, nil
	}

	now := time.Now().UTC()
	buyer = &storage.Buyer{
		BuyerID:      buyerID,
		Protocol:     storage.ProtocolOCI,
		Active:       true,
		CreatedAt:    now,
		LastActivity: now,
		Identities: storage.Identities{
			HookDomain: domain,
			Username:   username,
		},
	}
	if err := r.buyers.CreateBuyer(ctx, buyer); err != nil {
		// A concurrent first contact may have created it already
		existing, getErr := r.buyers.GetBuyer(ctx, buyerID)
		if getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("creating buyer %s: %w", buyerID, err)
	}

	r.logger.Info("oci buyer created", "buyer", buyerID, "hook_domain", domain)
	return buyer, nil
}

// Secret resolves a shared secret reference for outbound documents.
func (r *Registry) Secret(ref string) (string, error) {
	return r.secrets.Get(ref)
}

// touch records buyer activity. Failures are logged and dropped: an
// activity timestamp is not worth failing a handshake over.
func (r *Registry) touch(ctx context.Context, buyerID string) {
	if err := r.buyers.TouchBuyer(ctx, buyerID, time.Now().UTC()); err != nil {
		r.logger.Warn("touching buyer", "buyer", buyerID, "error", err)
	}
}

// verifySecret compares secrets by digest so the comparison runs in
// constant time regardless of length or content.
func verifySecret(presented, expected string) bool {
	p := sha256.Sum256([]byte(presented))
	e := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(p[:], e[:]) == 1
}

// sanitizeID replaces anything outside [A-Za-z0-9_] so derived buyer
// IDs are safe as document keys and in URLs.
func sanitizeID(raw string) string {
	out := []byte(raw)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
