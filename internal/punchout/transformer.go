package punchout

import (
	"fmt"

	"github.com/sirosfoundation/go-punchout/internal/storage"
	"github.com/sirosfoundation/go-punchout/pkg/cxml"
	"github.com/sirosfoundation/go-punchout/pkg/oci"
)

// ReturnDocument is a protocol return rendered for delivery. A non-empty
// Endpoint means the gateway posts it server-side; an empty Endpoint
// means the document is handed back for a browser form post.
type ReturnDocument struct {
	Body        []byte
	ContentType string
	Endpoint    string
}

// Transformer renders a returned cart into its protocol's wire form.
// One variant exists per protocol; the engine selects it once at buyer
// resolution and never branches on protocol again.
type Transformer interface {
	Protocol() storage.ProtocolType
	BuildReturn(buyer *storage.Buyer, session *storage.Session, crt *storage.Cart, sharedSecret string) (*ReturnDocument, error)
}

type cxmlTransformer struct{}

func (cxmlTransformer) Protocol() storage.ProtocolType { return storage.ProtocolCXML }

// BuildReturn renders the PunchOutOrderMessage. The buyer's configured
// return URL selects server-side delivery; without one the document
// goes back for a browser post against the setup's BrowserFormPost URL.
func (cxmlTransformer) BuildReturn(buyer *storage.Buyer, session *storage.Session, crt *storage.Cart, sharedSecret string) (*ReturnDocument, error) {
	body, err := cxml.BuildOrderMessage(&cxml.OrderMessageInput{
		Identities:    buyer.Identities,
		SharedSecret:  sharedSecret,
		BuyerCookie:   session.UserHint,
		Lines:         crt.Lines,
		Totals:        crt.Totals,
		FieldMappings: buyer.FieldMappings,
	})
	if err != nil {
		return nil, fmt.Errorf("building order message: %w", err)
	}

	return &ReturnDocument{
		Body:        body,
		ContentType: "text/xml; charset=utf-8",
		Endpoint:    buyer.ReturnURL,
	}, nil
}

type ociTransformer struct{}

func (ociTransformer) Protocol() storage.ProtocolType { return storage.ProtocolOCI }

// BuildReturn renders the NEW_ITEM field family. OCI is always
// delivered server-side to the session's hook URL; a session without
// one cannot complete the return.
func (ociTransformer) BuildReturn(buyer *storage.Buyer, session *storage.Session, crt *storage.Cart, _ string) (*ReturnDocument, error) {
	if session.HookURL == "" {
		return nil, ErrNoHookURL
	}

	fields := oci.BuildReturnFields(crt.Lines)
	return &ReturnDocument{
		Body:        []byte(fields.Encode()),
		ContentType: "application/x-www-form-urlencoded",
		Endpoint:    session.HookURL,
	}, nil
}

// transformerFor returns the protocol variant for a resolved buyer.
func transformerFor(protocol storage.ProtocolType) (Transformer, error) {
	switch protocol {
	case storage.ProtocolCXML:
		return cxmlTransformer{}, nil
	case storage.ProtocolOCI:
		return ociTransformer{}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", protocol)
	}
}
