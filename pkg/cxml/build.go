package cxml

import (
	"sort"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/sirosfoundation/go-punchout/internal/storage"
	"github.com/sirosfoundation/go-punchout/pkg/cart"
)

const doctype = `DOCTYPE cXML SYSTEM "http://xml.cxml.org/schemas/cXML/1.2.014/cXML.dtd"`

// BuildSetupResponse builds a successful PunchOutSetupResponse carrying
// the StartPage URL the buyer's browser is sent to.
func BuildSetupResponse(startPageURL string) ([]byte, error) {
	doc, root := newEnvelope()

	resp := root.CreateElement("Response")
	status := resp.CreateElement("Status")
	status.CreateAttr("code", "200")
	status.CreateAttr("text", "OK")

	setupResp := resp.CreateElement("PunchOutSetupResponse")
	startPage := setupResp.CreateElement("StartPage")
	startPage.CreateElement("URL").SetText(startPageURL)

	return serialize(doc)
}

// BuildErrorResponse builds a cXML error envelope. The document is
// structurally identical to a setup response, differing only in Status.
func BuildErrorResponse(code int, text, message string) ([]byte, error) {
	doc, root := newEnvelope()

	resp := root.CreateElement("Response")
	status := resp.CreateElement("Status")
	status.CreateAttr("code", strconv.Itoa(code))
	status.CreateAttr("text", text)
	if message != "" {
		status.SetText(message)
	}

	return serialize(doc)
}

// OrderMessageInput collects everything needed to build a POOM.
type OrderMessageInput struct {
	// Identities are the buyer's configured credential identities.
	// The supplier speaks as the buyer's To identity, so From and To
	// are swapped relative to the setup request.
	Identities storage.Identities

	// SharedSecret is resolved by the caller from the secret store;
	// it is never read from buyer records.
	SharedSecret string

	BuyerCookie string
	Lines       []storage.LineItem
	Totals      storage.Totals

	// FieldMappings remap SKU and classification values and select
	// extrinsic fields; unmapped values pass through unchanged.
	FieldMappings map[string]map[string]string
}

// BuildOrderMessage builds a PunchOutOrderMessage for the returned cart.
// The payload ID and timestamp are fresh per call.
func BuildOrderMessage(in *OrderMessageInput) ([]byte, error) {
	doc, root := newEnvelope()

	header := root.CreateElement("Header")
	addCredential(header, "From", in.Identities.To, "")
	addCredential(header, "To", in.Identities.From, "")
	addCredential(header, "Sender", in.Identities.Sender, in.SharedSecret)

	msg := root.CreateElement("Message")
	poom := msg.CreateElement("PunchOutOrderMessage")
	poom.CreateElement("BuyerCookie").SetText(in.BuyerCookie)

	poomHeader := poom.CreateElement("PunchOutOrderMessageHeader")
	poomHeader.CreateAttr("operationAllowed", "create")
	total := poomHeader.CreateElement("Total")
	money := total.CreateElement("Money")
	money.CreateAttr("currency", in.Totals.Currency)
	money.SetText(in.Totals.Total)

	for i, line := range in.Lines {
		addItemIn(poom, i+1, line, in.FieldMappings)
	}

	return serialize(doc)
}

func addItemIn(poom *etree.Element, lineNumber int, line storage.LineItem, mappings map[string]map[string]string) {
	item := poom.CreateElement("ItemIn")
	item.CreateAttr("quantity", strconv.Itoa(cart.NormalizeQuantity(line.Quantity)))
	item.CreateAttr("lineNumber", strconv.Itoa(lineNumber))

	itemID := item.CreateElement("ItemID")
	itemID.CreateElement("SupplierPartID").SetText(applyMapping(mappings, "sku", line.SKU))
	itemID.CreateElement("SupplierPartAuxiliaryID").SetText(line.SKU)

	detail := item.CreateElement("ItemDetail")
	price := detail.CreateElement("UnitPrice").CreateElement("Money")
	price.CreateAttr("currency", currencyOrDefault(line.Currency))
	price.SetText(cart.FormatMoney(line.UnitPrice))

	desc := detail.CreateElement("Description")
	desc.CreateAttr("xml:lang", "en")
	desc.SetText(line.Name)

	uom := line.UnitOfMeasure
	if uom == "" {
		uom = "EA"
	}
	detail.CreateElement("UnitOfMeasure").SetText(uom)

	if classification := applyMapping(mappings, "category", line.Category); classification != "" {
		class := detail.CreateElement("Classification")
		class.CreateAttr("domain", "UNSPSC")
		class.SetText(classification)
	}

	detail.CreateElement("ManufacturerPartID").SetText(line.ManufacturerID)
	detail.CreateElement("ManufacturerName").SetText(line.ManufacturerName)

	addExtrinsics(item, line, mappings)
}

// addExtrinsics emits buyer-configured extrinsics followed by the
// standard LeadTime and Vendor extrinsics when the line carries them.
func addExtrinsics(item *etree.Element, line storage.LineItem, mappings map[string]map[string]string) {
	names := make([]string, 0, len(mappings["extrinsics"]))
	for name := range mappings["extrinsics"] {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if value, ok := line.Extrinsics[name]; ok && value != "" {
			ext := item.CreateElement("Extrinsic")
			ext.CreateAttr("name", name)
			ext.SetText(value)
		}
	}

	if line.LeadTime != "" {
		ext := item.CreateElement("Extrinsic")
		ext.CreateAttr("name", "LeadTime")
		ext.SetText(line.LeadTime)
	}
	if line.Vendor != "" {
		ext := item.CreateElement("Extrinsic")
		ext.CreateAttr("name", "Vendor")
		ext.SetText(line.Vendor)
	}
}

// applyMapping looks a value up in the buyer's substitution table for
// the field type. Unmapped values pass through unchanged, never error.
func applyMapping(mappings map[string]map[string]string, fieldType, value string) string {
	if mapped, ok := mappings[fieldType][value]; ok {
		return mapped
	}
	return value
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return cart.DefaultCurrency
	}
	return currency
}

func addCredential(header *etree.Element, role, identity, sharedSecret string) {
	el := header.CreateElement(role)
	cred := el.CreateElement("Credential")
	cred.CreateAttr("domain", identity)
	cred.CreateElement("Identity").SetText(identity)
	if sharedSecret != "" {
		cred.CreateElement("SharedSecret").SetText(sharedSecret)
	}
}

func newEnvelope() (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.CreateDirective(doctype)

	root := doc.CreateElement("cXML")
	root.CreateAttr("payloadID", uuid.New().String())
	root.CreateAttr("timestamp", time.Now().UTC().Format(time.RFC3339))
	return doc, root
}

func serialize(doc *etree.Document) ([]byte, error) {
	doc.Indent(2)
	return doc.WriteToBytes()
}
