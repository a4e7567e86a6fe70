package cxml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Structural parse errors. Distinct from authentication failures: the
// HTTP layer answers these with a 400-class cXML error envelope.
var (
	ErrMalformedXML    = errors.New("malformed cXML document")
	ErrNotSetupRequest = errors.New("missing PunchOutSetupRequest")
)

// SetupRequest is the parsed inbound PunchOutSetupRequest
type SetupRequest struct {
	// Credential identities from the header
	From   string
	To     string
	Sender string

	// SharedSecret presented in the Sender credential; may be empty,
	// which authentication treats as a failure, not the parser.
	SharedSecret string

	// BuyerCookie is the buyer's opaque session correlation value
	BuyerCookie string

	// Operation is the requested setup operation ("create", "edit", ...)
	Operation string

	// BrowserFormPost is the buyer-supplied URL for the eventual
	// browser-side cart post, when present
	BrowserFormPost string
}

// ParseSetupRequest parses an inbound cXML PunchOutSetupRequest body.
func ParseSetupRequest(body []byte) (*SetupRequest, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}

	root := doc.SelectElement("cXML")
	if root == nil {
		return nil, fmt.Errorf("%w: no cXML root element", ErrMalformedXML)
	}

	setup := root.FindElement("./Request/PunchOutSetupRequest")
	if setup == nil {
		return nil, ErrNotSetupRequest
	}

	req := &SetupRequest{
		From:         credentialIdentity(root, "From"),
		To:           credentialIdentity(root, "To"),
		Sender:       credentialIdentity(root, "Sender"),
		SharedSecret: elementText(root.FindElement("./Header/Sender/Credential/SharedSecret")),
		BuyerCookie:  elementText(setup.FindElement("./BuyerCookie")),
		Operation:    setup.SelectAttrValue("operation", "create"),
	}
	if post := setup.FindElement("./BrowserFormPost/URL"); post != nil {
		req.BrowserFormPost = elementText(post)
	}

	return req, nil
}

// OrderMessage is a parsed PunchOutOrderMessage, used for verification
// and interop tooling rather than the inbound request path.
type OrderMessage struct {
	PayloadID   string
	BuyerCookie string
	Total       string
	Currency    string
	Lines       []OrderLine
}

// OrderLine is one ItemIn of an order message
type OrderLine struct {
	Quantity     int
	SupplierSKU  string
	AuxiliarySKU string
	Description  string
	UnitPrice    string
	Currency     string
	UOM          string
}

// ParseOrderMessage parses a PunchOutOrderMessage document.
func ParseOrderMessage(body []byte) (*OrderMessage, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}

	root := doc.SelectElement("cXML")
	if root == nil {
		return nil, fmt.Errorf("%w: no cXML root element", ErrMalformedXML)
	}

	poom := root.FindElement("./Message/PunchOutOrderMessage")
	if poom == nil {
		return nil, fmt.Errorf("%w: missing PunchOutOrderMessage", ErrMalformedXML)
	}

	msg := &OrderMessage{
		PayloadID:   root.SelectAttrValue("payloadID", ""),
		BuyerCookie: elementText(poom.FindElement("./BuyerCookie")),
	}
	if money := poom.FindElement("./PunchOutOrderMessageHeader/Total/Money"); money != nil {
		msg.Total = elementText(money)
		msg.Currency = money.SelectAttrValue("currency", "")
	}

	for _, item := range poom.FindElements("./ItemIn") {
		line := OrderLine{
			SupplierSKU:  elementText(item.FindElement("./ItemID/SupplierPartID")),
			AuxiliarySKU: elementText(item.FindElement("./ItemID/SupplierPartAuxiliaryID")),
			Description:  elementText(item.FindElement("./ItemDetail/Description")),
			UOM:          elementText(item.FindElement("./ItemDetail/UnitOfMeasure")),
		}
		if qty, err := strconv.Atoi(item.SelectAttrValue("quantity", "1")); err == nil {
			line.Quantity = qty
		} else {
			line.Quantity = 1
		}
		if money := item.FindElement("./ItemDetail/UnitPrice/Money"); money != nil {
			line.UnitPrice = elementText(money)
			line.Currency = money.SelectAttrValue("currency", "")
		}
		msg.Lines = append(msg.Lines, line)
	}

	return msg, nil
}

func credentialIdentity(root *etree.Element, role string) string {
	return elementText(root.FindElement("./Header/" + role + "/Credential/Identity"))
}

func elementText(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
