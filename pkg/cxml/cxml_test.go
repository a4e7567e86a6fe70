package cxml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-punchout/internal/storage"
	"github.com/sirosfoundation/go-punchout/pkg/cart"
)

const setupRequestXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE cXML SYSTEM "http://xml.cxml.org/schemas/cXML/1.2.014/cXML.dtd">
<cXML payloadID="933694607739" timestamp="2025-03-12T18:39:09-08:00">
  <Header>
    <From>
      <Credential domain="DUNS">
        <Identity>A</Identity>
      </Credential>
    </From>
    <To>
      <Credential domain="DUNS">
        <Identity>B</Identity>
      </Credential>
    </To>
    <Sender>
      <Credential domain="AribaNetworkUserId">
        <Identity>C</Identity>
        <SharedSecret>s3cret</SharedSecret>
      </Credential>
    </Sender>
  </Header>
  <Request deploymentMode="production">
    <PunchOutSetupRequest operation="create">
      <BuyerCookie>cookie-123</BuyerCookie>
      <BrowserFormPost>
        <URL>https://buyer.example/return</URL>
      </BrowserFormPost>
    </PunchOutSetupRequest>
  </Request>
</cXML>`

func TestParseSetupRequest(t *testing.T) {
	req, err := ParseSetupRequest([]byte(setupRequestXML))
	require.NoError(t, err)

	assert.Equal(t, "A", req.From)
	assert.Equal(t, "B", req.To)
	assert.Equal(t, "C", req.Sender)
	assert.Equal(t, "s3cret", req.SharedSecret)
	assert.Equal(t, "cookie-123", req.BuyerCookie)
	assert.Equal(t, "create", req.Operation)
	assert.Equal(t, "https://buyer.example/return", req.BrowserFormPost)
}

func TestParseSetupRequestMalformed(t *testing.T) {
	_, err := ParseSetupRequest([]byte("<cXML><Header>"))
	assert.ErrorIs(t, err, ErrMalformedXML)
}

func TestParseSetupRequestNotSetup(t *testing.T) {
	body := `<?xml version="1.0"?><cXML><Request><OrderRequest/></Request></cXML>`
	_, err := ParseSetupRequest([]byte(body))
	assert.ErrorIs(t, err, ErrNotSetupRequest)
}

func TestBuildSetupResponse(t *testing.T) {
	body, err := BuildSetupResponse("https://supplier.example/punchout/start?sid=abc")
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `<!DOCTYPE cXML SYSTEM "http://xml.cxml.org/schemas/cXML/1.2.014/cXML.dtd">`)
	assert.Contains(t, out, `<Status code="200" text="OK"/>`)
	assert.Contains(t, out, "<URL>https://supplier.example/punchout/start?sid=abc</URL>")
	assert.Contains(t, out, "payloadID=")
}

func TestBuildErrorResponseIsWellFormedEnvelope(t *testing.T) {
	body, err := BuildErrorResponse(400, "XML_PARSE_ERROR", "Invalid XML format")
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `<!DOCTYPE cXML`)
	assert.Contains(t, out, `code="400"`)
	assert.Contains(t, out, `text="XML_PARSE_ERROR"`)
	assert.Contains(t, out, "Invalid XML format")
}

func TestBuildErrorResponseFreshPayloadID(t *testing.T) {
	first, err := BuildErrorResponse(500, "INTERNAL_ERROR", "")
	require.NoError(t, err)
	second, err := BuildErrorResponse(500, "INTERNAL_ERROR", "")
	require.NoError(t, err)
	assert.NotEqual(t, payloadID(t, first), payloadID(t, second))
}

func TestBuildOrderMessage(t *testing.T) {
	lines := []storage.LineItem{
		{
			SKU:       "X1",
			Name:      "Widget <standard>",
			Quantity:  3,
			UnitPrice: 10.0,
			Currency:  "USD",
			LeadTime:  "5",
			Vendor:    "ACME & Sons",
			Category:  "44121700",
		},
	}

	body, err := BuildOrderMessage(&OrderMessageInput{
		Identities:   storage.Identities{From: "A", To: "B", Sender: "C"},
		SharedSecret: "s3cret",
		BuyerCookie:  "cookie-123",
		Lines:        lines,
		Totals:       cart.ComputeTotals(lines),
		FieldMappings: map[string]map[string]string{
			"sku": {"X1": "BUYER-X1"},
		},
	})
	require.NoError(t, err)

	out := string(body)
	// Supplier speaks as the buyer's To identity
	assert.Contains(t, out, "<Identity>B</Identity>")
	assert.Contains(t, out, `<ItemIn quantity="3" lineNumber="1">`)
	assert.Contains(t, out, "<SupplierPartID>BUYER-X1</SupplierPartID>")
	assert.Contains(t, out, "<SupplierPartAuxiliaryID>X1</SupplierPartAuxiliaryID>")
	assert.Contains(t, out, ">30.00</Money>")
	assert.Contains(t, out, "Widget &lt;standard&gt;")
	assert.Contains(t, out, "ACME &amp; Sons")
	assert.Contains(t, out, `<Classification domain="UNSPSC">44121700</Classification>`)
	assert.Contains(t, out, `<Extrinsic name="LeadTime">5</Extrinsic>`)
	assert.NotContains(t, out, "Widget <standard>")
}

func TestOrderMessageRoundTrip(t *testing.T) {
	lines := []storage.LineItem{
		{SKU: "X1", Name: "Widget", Quantity: 3, UnitPrice: 10.00, Currency: "USD"},
		{SKU: "Y2", Name: "Gadget", Quantity: 1, UnitPrice: 4.55, Currency: "USD"},
	}
	totals := cart.ComputeTotals(lines)

	body, err := BuildOrderMessage(&OrderMessageInput{
		Identities:  storage.Identities{From: "A", To: "B", Sender: "C"},
		BuyerCookie: "rt-cookie",
		Lines:       lines,
		Totals:      totals,
	})
	require.NoError(t, err)

	parsed, err := ParseOrderMessage(body)
	require.NoError(t, err)

	require.Len(t, parsed.Lines, 2)
	assert.Equal(t, "rt-cookie", parsed.BuyerCookie)
	assert.Equal(t, totals.Total, parsed.Total)
	assert.Equal(t, "X1", parsed.Lines[0].SupplierSKU)
	assert.Equal(t, 3, parsed.Lines[0].Quantity)
	assert.Equal(t, "Y2", parsed.Lines[1].SupplierSKU)
	assert.Equal(t, "4.55", parsed.Lines[1].UnitPrice)
}

func TestBuildOrderMessageNormalizesQuantity(t *testing.T) {
	lines := []storage.LineItem{{SKU: "Z0", Quantity: 0, UnitPrice: 1.0}}
	body, err := BuildOrderMessage(&OrderMessageInput{
		Identities: storage.Identities{From: "A", To: "B", Sender: "C"},
		Lines:      lines,
		Totals:     cart.ComputeTotals(lines),
	})
	require.NoError(t, err)
	assert.Contains(t, string(body), `<ItemIn quantity="1"`)
}

func payloadID(t *testing.T, body []byte) string {
	t.Helper()
	const marker = `payloadID="`
	idx := strings.Index(string(body), marker)
	require.GreaterOrEqual(t, idx, 0)
	rest := string(body)[idx+len(marker):]
	return rest[:strings.Index(rest, `"`)]
}
