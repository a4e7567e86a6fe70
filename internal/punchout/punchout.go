// Package punchout implements the protocol engine: the setup and
// return flows shared by the cXML and OCI surfaces.
//
// The engine is request-scoped and stateless between calls; everything
// durable lives in the store. Ordering on the return path is fixed:
// the cart insert and session close are persisted before the outbound
// post runs, and the delivery outcome reaches the audit log before it
// is reported to the caller.
package punchout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-punchout/internal/auditlog"
	"github.com/sirosfoundation/go-punchout/internal/metrics"
	"github.com/sirosfoundation/go-punchout/internal/registry"
	"github.com/sirosfoundation/go-punchout/internal/session"
	"github.com/sirosfoundation/go-punchout/internal/storage"
	"github.com/sirosfoundation/go-punchout/internal/transport"
	"github.com/sirosfoundation/go-punchout/pkg/cart"
	"github.com/sirosfoundation/go-punchout/pkg/cxml"
	"github.com/sirosfoundation/go-punchout/pkg/oci"
)

// Delivery method tags. Callers must branch on the method: server_post
// carries the buyer's HTTP status, browser_post carries the document.
const (
	MethodServerPost  = "server_post"
	MethodBrowserPost = "browser_post"
)

// ErrNoHookURL indicates an OCI return whose session carries no hook
// URL. Distinct from a missing session: the session is live, the
// return just cannot be delivered anywhere.
var ErrNoHookURL = errors.New("no HOOK_URL in session")

// Engine drives the PunchOut protocol flows
type Engine struct {
	store    storage.Store
	registry *registry.Registry
	sessions *session.Manager
	client   *transport.Client
	audit    *auditlog.Logger
	metrics  *metrics.Metrics
	logger   *slog.Logger

	baseURL         string
	deliveryTimeout time.Duration
}

// Options configures the engine
type Options struct {
	// BaseURL is the gateway's externally visible URL, used to build
	// the StartPage and redirect targets handed to buyer systems.
	BaseURL string

	// DeliveryTimeout bounds one outbound post. Zero means the
	// transport default.
	DeliveryTimeout time.Duration

	Logger *slog.Logger
}

// NewEngine assembles the protocol engine
func NewEngine(store storage.Store, reg *registry.Registry, sessions *session.Manager, client *transport.Client, audit *auditlog.Logger, m *metrics.Metrics, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.DeliveryTimeout
	if timeout == 0 {
		timeout = transport.DefaultTimeout
	}
	return &Engine{
		store:           store,
		registry:        reg,
		sessions:        sessions,
		client:          client,
		audit:           audit,
		metrics:         m,
		logger:          logger,
		baseURL:         opts.BaseURL,
		deliveryTimeout: timeout,
	}
}

// SetupResult is the outcome of a successful cXML setup handshake
type SetupResult struct {
	Buyer    *storage.Buyer
	Session  *storage.Session
	Response []byte
	StartURL string
}

// HandleCXMLSetup runs the cXML setup phase: parse, authenticate,
// create a session and render the PunchOutSetupResponse. Parse and
// authentication errors pass through unwrapped so the surface can map
// them to the right cXML status envelope.
func (e *Engine) HandleCXMLSetup(ctx context.Context, body []byte) (*SetupResult, error) {
	req, err := cxml.ParseSetupRequest(body)
	if err != nil {
		return nil, err
	}

	buyer, err := e.registry.AuthenticateCXML(ctx, registry.Credentials{
		From:         req.From,
		To:           req.To,
		Sender:       req.Sender,
		SharedSecret: req.SharedSecret,
	})
	if err != nil {
		e.metrics.AuthFailures.WithLabelValues(string(storage.ProtocolCXML)).Inc()
		return nil, err
	}

	// The buyer cookie rides on the session so the order message can
	// echo it; the BrowserFormPost URL is the browser-post target when
	// the buyer has no server-side return URL.
	sess, err := e.sessions.Create(ctx, buyer, session.Params{
		UserHint: req.BuyerCookie,
		HookURL:  req.BrowserFormPost,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.SessionsCreated.WithLabelValues(string(storage.ProtocolCXML)).Inc()

	startURL := e.startPageURL(sess.SID)
	response, err := cxml.BuildSetupResponse(startURL)
	if err != nil {
		return nil, fmt.Errorf("building setup response: %w", err)
	}

	return &SetupResult{
		Buyer:    buyer,
		Session:  sess,
		Response: response,
		StartURL: startURL,
	}, nil
}

// StartResult is the outcome of a successful OCI start handshake
type StartResult struct {
	Buyer    *storage.Buyer
	Session  *storage.Session
	StartURL string
}

// HandleOCIStart runs the OCI start phase: resolve or create the buyer
// from the hook URL identity, create a session and hand back the
// storefront redirect target.
func (e *Engine) HandleOCIStart(ctx context.Context, values url.Values) (*StartResult, error) {
	params, err := oci.ParseStart(values)
	if err != nil {
		return nil, err
	}

	buyer, err := e.registry.ResolveOrCreateOCI(ctx, params)
	if err != nil {
		if errors.Is(err, registry.ErrAuthFailed) {
			e.metrics.AuthFailures.WithLabelValues(string(storage.ProtocolOCI)).Inc()
		}
		return nil, err
	}

	sess, err := e.sessions.Create(ctx, buyer, session.Params{
		UserHint: params.Username,
		HookURL:  params.HookURL,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.SessionsCreated.WithLabelValues(string(storage.ProtocolOCI)).Inc()

	return &StartResult{
		Buyer:    buyer,
		Session:  sess,
		StartURL: e.startPageURL(sess.SID),
	}, nil
}

// ReturnResult is the tagged outcome of a completed return. Method is
// always set; BuyerStatus is meaningful only for server_post, Document
// and PostURL only for browser_post.
type ReturnResult struct {
	Method      string
	BuyerStatus int
	Delivered   bool
	Document    []byte
	ContentType string
	PostURL     string
	ItemCount   int
	Total       string
}

// HandleReturn completes a session: render the protocol return, close
// the session, persist the cart, then deliver. Persistence strictly
// precedes delivery so a failed post never leaves a half-written cart,
// and the session close comes first so it is the sole arbiter between
// concurrent returns.
func (e *Engine) HandleReturn(ctx context.Context, sid string, lines []storage.LineItem) (*ReturnResult, error) {
	sess, err := e.sessions.Validate(ctx, sid)
	if err != nil {
		return nil, err
	}

	buyer, err := e.store.GetBuyer(ctx, sess.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("fetching buyer %s: %w", sess.BuyerID, err)
	}
	if buyer == nil {
		// Buyer deleted while the session was live; nothing to return to.
		return nil, session.ErrNotFound
	}

	tf, err := transformerFor(buyer.Protocol)
	if err != nil {
		return nil, err
	}

	totals := cart.ComputeTotals(lines)
	crt := &storage.Cart{
		ID:        uuid.New().String(),
		SID:       sess.SID,
		BuyerID:   buyer.BuyerID,
		Protocol:  buyer.Protocol,
		Lines:     lines,
		Totals:    totals,
		ReturnURL: returnTarget(buyer, sess),
		Status:    storage.CartStatusPosted,
		PostedAt:  time.Now().UTC(),
	}
	// Render before persisting: an unrenderable return (an OCI session
	// with no hook URL) must leave the session live and write nothing.
	doc, err := tf.BuildReturn(buyer, sess, crt, e.resolveSecret(buyer))
	if err != nil {
		return nil, err
	}

	// The session close arbitrates concurrent returns: the loser stops
	// here with ErrNotFound before writing anything, so at most one cart
	// exists per sid and only the winner delivers.
	if err := e.sessions.Close(ctx, sid); err != nil {
		return nil, err
	}

	if err := e.store.CreateCart(ctx, crt); err != nil {
		return nil, fmt.Errorf("persisting cart: %w", err)
	}

	result := &ReturnResult{
		Method:      MethodBrowserPost,
		Document:    doc.Body,
		ContentType: doc.ContentType,
		PostURL:     sess.HookURL,
		ItemCount:   totals.ItemCount,
		Total:       totals.Total,
	}

	if doc.Endpoint != "" {
		result.Method = MethodServerPost
		result.Document = nil
		result.PostURL = doc.Endpoint
		result.BuyerStatus, result.Delivered = e.deliver(ctx, buyer, doc)
	} else {
		// Browser-post documents never leave through our transport, but
		// the rendered order message is still an outbound exchange.
		e.audit.Record(context.WithoutCancel(ctx), auditlog.Entry{
			Direction: storage.DirectionOutbound,
			Protocol:  buyer.Protocol,
			BuyerID:   buyer.BuyerID,
			Endpoint:  result.PostURL,
			Status:    http.StatusOK,
			Payload:   doc.Body,
		})
	}

	e.metrics.CartsReturned.WithLabelValues(string(buyer.Protocol), result.Method).Inc()
	e.logger.Info("cart returned",
		"sid", sid,
		"buyer", buyer.BuyerID,
		"protocol", buyer.Protocol,
		"method", result.Method,
		"items", result.ItemCount,
		"total", result.Total,
	)
	return result, nil
}

// deliver posts the rendered return and records the outcome. Both the
// post and its audit write are detached from the inbound request's
// cancellation: once state is persisted the delivery must run to
// completion and reach the log even if the original caller has gone
// away.
func (e *Engine) deliver(ctx context.Context, buyer *storage.Buyer, doc *ReturnDocument) (status int, delivered bool) {
	ctx = context.WithoutCancel(ctx)
	deliveryCtx, cancel := context.WithTimeout(ctx, e.deliveryTimeout)
	defer cancel()

	res, err := e.client.Post(deliveryCtx, doc.Endpoint, doc.Body, doc.ContentType)
	if err != nil {
		e.metrics.DeliveryFailures.Inc()
		e.logger.Warn("cart delivery failed",
			"buyer", buyer.BuyerID, "endpoint", doc.Endpoint, "error", err)
		e.audit.Record(ctx, auditlog.Entry{
			Direction: storage.DirectionOutbound,
			Protocol:  buyer.Protocol,
			BuyerID:   buyer.BuyerID,
			Endpoint:  doc.Endpoint,
			Status:    0,
			Payload:   doc.Body,
		})
		return 0, false
	}

	if !res.Accepted() {
		e.metrics.DeliveryFailures.Inc()
		e.logger.Warn("cart delivery rejected",
			"buyer", buyer.BuyerID, "endpoint", doc.Endpoint, "status", res.StatusCode)
	}
	e.audit.Record(ctx, auditlog.Entry{
		Direction: storage.DirectionOutbound,
		Protocol:  buyer.Protocol,
		BuyerID:   buyer.BuyerID,
		Endpoint:  doc.Endpoint,
		Status:    res.StatusCode,
		Payload:   doc.Body,
	})
	return res.StatusCode, res.Accepted()
}

// Audit records a protocol exchange on behalf of the HTTP surface, so
// the surface does not hold its own log-store handle.
func (e *Engine) Audit(ctx context.Context, direction storage.Direction, protocol storage.ProtocolType, buyerID, endpoint string, status int, payload []byte, headers http.Header) {
	e.audit.Record(ctx, auditlog.Entry{
		Direction: direction,
		Protocol:  protocol,
		BuyerID:   buyerID,
		Endpoint:  endpoint,
		Status:    status,
		Payload:   payload,
		Headers:   headers,
	})
}

// SessionInfo is the validate-session view. The hook URL is withheld:
// storefront callers have no need for the buyer's return endpoint.
type SessionInfo struct {
	SID         string    `json:"sid"`
	BuyerID     string    `json:"buyerId"`
	Protocol    string    `json:"protocol"`
	UserHint    string    `json:"userHint,omitempty"`
	PricingTier string    `json:"pricingTier,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ValidateSession checks a sid for the storefront without consuming it.
func (e *Engine) ValidateSession(ctx context.Context, sid string) (*SessionInfo, error) {
	sess, err := e.sessions.Validate(ctx, sid)
	if err != nil {
		return nil, err
	}

	protocol := ""
	if buyer, err := e.store.GetBuyer(ctx, sess.BuyerID); err == nil && buyer != nil {
		protocol = string(buyer.Protocol)
	}

	return &SessionInfo{
		SID:         sess.SID,
		BuyerID:     sess.BuyerID,
		Protocol:    protocol,
		UserHint:    sess.UserHint,
		PricingTier: sess.PricingTier,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

// resolveSecret fetches the buyer's shared secret for the order message
// header. A missing secret degrades to an empty credential rather than
// failing the return: the cart is already persisted and the buyer's
// procurement system is the one validating the header, not us.
func (e *Engine) resolveSecret(buyer *storage.Buyer) string {
	if buyer.SharedSecretRef == "" {
		return ""
	}
	secret, err := e.registry.Secret(buyer.SharedSecretRef)
	if err != nil {
		e.logger.Warn("shared secret unavailable for return",
			"buyer", buyer.BuyerID, "ref", buyer.SharedSecretRef, "error", err)
		return ""
	}
	return secret
}

// returnTarget records where the cart was (or will be) posted.
func returnTarget(buyer *storage.Buyer, sess *storage.Session) string {
	if buyer.ReturnURL != "" {
		return buyer.ReturnURL
	}
	return sess.HookURL
}

func (e *Engine) startPageURL(sid string) string {
	return fmt.Sprintf("%s/punchout/start?sid=%s", e.baseURL, sid)
}
