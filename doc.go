// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package gopunchout implements a PunchOut procurement gateway supporting
the cXML and OCI catalog punchout protocols.

# Overview

go-punchout sits between buyer procurement systems (Ariba, SAP SRM,
Coupa and similar) and a supplier storefront. It handles the protocol
handshakes, manages shopping sessions, and transforms returned carts
into the buyer's wire format:

  - cXML 1.2.014: PunchOutSetupRequest / PunchOutSetupResponse /
    PunchOutOrderMessage, with shared-secret authentication
  - OCI: HOOK_URL start parameters and NEW_ITEM-{n}-* return fields

# Package Structure

	github.com/sirosfoundation/go-punchout/pkg/cxml     - cXML document parsing and building
	github.com/sirosfoundation/go-punchout/pkg/oci      - OCI parameter codec
	github.com/sirosfoundation/go-punchout/pkg/cart     - protocol-agnostic cart totals
	github.com/sirosfoundation/go-punchout/internal/... - engine, storage, HTTP surface
	github.com/sirosfoundation/go-punchout/cmd/punchoutd - gateway daemon

# Protocol Flow

A buyer's procurement system opens a session (cXML setup or OCI start),
the user shops on the storefront under that session, and the storefront
posts the cart back. The gateway renders the protocol return document
and either delivers it server-side to the buyer's configured endpoint
or hands it back for a browser form post.
*/
package gopunchout
