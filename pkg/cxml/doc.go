// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package cxml implements the cXML 1.2.014 PunchOut message codec.

It parses inbound PunchOutSetupRequest documents and builds the three
outbound document kinds the gateway emits:

  - PunchOutSetupResponse carrying the StartPage URL
  - PunchOutOrderMessage (POOM) carrying the returned cart
  - error responses, which share the setup response envelope and differ
    only in Status code and text

All outbound documents are well-formed cXML envelopes with the 1.2.014
DOCTYPE, including error responses: the protocol requires a cXML envelope
for every outcome. Payload IDs and timestamps are generated fresh per
document and never reused.

Parsing distinguishes structural faults (malformed XML, missing
PunchOutSetupRequest node) from authentication faults; the former are
reported via [ErrMalformedXML] and [ErrNotSetupRequest] so callers can
answer with the correct status code.
*/
package cxml
