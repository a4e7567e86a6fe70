// Package oci implements the Open Catalog Interface parameter codec.
//
// OCI has no document envelope: the start handshake is a flat set of
// uppercase key/value parameters (query string or form body) and the
// return is a url-encoded family of NEW_ITEM-{n}-* fields POSTed to the
// buyer's HOOK_URL. Knowing a valid HOOK_URL is the only credential the
// protocol defines; that weakness is inherited, not patched here.
package oci

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirosfoundation/go-punchout/internal/storage"
	"github.com/sirosfoundation/go-punchout/pkg/cart"
)

// ErrMissingHookURL indicates a start request without the mandatory
// HOOK_URL parameter. No session can be created without it.
var ErrMissingHookURL = errors.New("missing required HOOK_URL parameter")

// StartParams is the parsed OCI start handshake
type StartParams struct {
	HookURL  string
	Username string

	// Raw retains every parameter as received, for audit logging
	Raw url.Values
}

// ParseStart extracts OCI start parameters. Values arrive as a flat
// key/value set from either the query string (GET) or a form body (POST).
func ParseStart(values url.Values) (*StartParams, error) {
	hookURL := values.Get("HOOK_URL")
	if hookURL == "" {
		return nil, ErrMissingHookURL
	}

	return &StartParams{
		HookURL:  hookURL,
		Username: values.Get("USERNAME"),
		Raw:      values,
	}, nil
}

// HookDomain extracts the host identity from a HOOK_URL, without a
// leading "www.". Unparseable URLs yield "unknown" so that lazily
// created buyer IDs stay well formed.
func HookDomain(hookURL string) string {
	parsed, err := url.Parse(hookURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}

// BuildReturnFields emits the NEW_ITEM-{n}-* field family for the cart,
// 1-indexed. Every field name is always present with a value; missing
// item attributes fall back to fixed defaults.
func BuildReturnFields(lines []storage.LineItem) url.Values {
	fields := url.Values{}

	for i, line := range lines {
		n := strconv.Itoa(i + 1)
		set := func(attr, value string) {
			fields.Set("NEW_ITEM-"+n+"-"+attr, value)
		}

		set("DESCRIPTION", line.Name)
		set("MATNR", line.SKU)
		set("QUANTITY", strconv.Itoa(cart.NormalizeQuantity(line.Quantity)))
		set("UNIT", orDefault(line.UnitOfMeasure, "EA"))
		set("PRICE", cart.FormatMoney(line.UnitPrice))
		set("CURRENCY", orDefault(line.Currency, cart.DefaultCurrency))
		set("LEADTIME", orDefault(line.LeadTime, "0"))
		set("VENDOR", line.Vendor)
		set("VENDORMAT", line.VendorSKU)
		set("MANUFACTCODE", line.ManufacturerCode)
		set("SERVICE", line.Service)
	}

	return fields
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
