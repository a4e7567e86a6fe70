// Package export renders store records as CSV for operator downloads.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/sirosfoundation/go-punchout/internal/storage"
)

// DefaultRange is the lookback applied when the caller gives no start date.
const DefaultRange = 30 * 24 * time.Hour

// Exporter builds CSV documents from the store
type Exporter struct {
	store storage.Store
}

// New creates an exporter
func New(store storage.Store) *Exporter {
	return &Exporter{store: store}
}

// Range bounds an export query. Zero values fall back to the last
// 30 days ending now.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) normalize() Range {
	if r.End.IsZero() {
		r.End = time.Now().UTC()
	}
	if r.Start.IsZero() {
		r.Start = r.End.Add(-DefaultRange)
	}
	return r
}

// Filename returns the attachment filename for an export kind.
func Filename(kind string) string {
	return fmt.Sprintf("punchout-%s-%s.csv", kind, time.Now().UTC().Format("2006-01-02"))
}

// Logs exports transaction log entries, newest first.
func (e *Exporter) Logs(ctx context.Context, r Range, protocol storage.ProtocolType) ([]byte, error) {
	r = r.normalize()
	entries, err := e.store.ListLogs(ctx, &storage.LogFilter{
		Protocol: protocol,
		After:    &r.Start,
		Before:   &r.End,
	})
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}

	return render([]string{
		"Timestamp", "Direction", "Protocol", "Buyer ID", "Endpoint", "HTTP Status", "Payload Size",
	}, len(entries), func(i int) []string {
		entry := entries[i]
		return []string{
			entry.Timestamp.UTC().Format(time.RFC3339),
			string(entry.Direction),
			string(entry.Protocol),
			entry.BuyerID,
			entry.Endpoint,
			strconv.Itoa(entry.Status),
			strconv.Itoa(len(entry.Payload)),
		}
	})
}

// Carts exports returned-cart snapshots, newest first.
func (e *Exporter) Carts(ctx context.Context, r Range, buyerID string) ([]byte, error) {
	r = r.normalize()
	carts, err := e.store.ListCarts(ctx, &storage.CartFilter{
		BuyerID:     buyerID,
		PostedAfter: &r.Start, PostedBefore: &r.End,
	})
	if err != nil {
		return nil, fmt.Errorf("listing carts: %w", err)
	}

	return render([]string{
		"Posted At", "Session ID", "Buyer ID", "Protocol", "Status",
		"Item Count", "Total Quantity", "Subtotal", "Total", "Currency", "Return URL",
	}, len(carts), func(i int) []string {
		crt := carts[i]
		return []string{
			crt.PostedAt.UTC().Format(time.RFC3339),
			crt.SID,
			crt.BuyerID,
			string(crt.Protocol),
			crt.Status,
			strconv.Itoa(crt.Totals.ItemCount),
			strconv.Itoa(crt.Totals.TotalQuantity),
			crt.Totals.Subtotal,
			crt.Totals.Total,
			crt.Totals.Currency,
			crt.ReturnURL,
		}
	})
}

// AnalyticsRow is one buyer's activity summary over the range
type AnalyticsRow struct {
	BuyerID        string
	Protocol       storage.ProtocolType
	Active         bool
	LastActivity   time.Time
	SessionCount   int64
	CartCount      int64
	TotalValue     string
	ConversionRate string
}

// Analytics exports a per-buyer activity summary: sessions opened,
// carts returned, total cart value and the session-to-cart conversion
// rate over the range.
func (e *Exporter) Analytics(ctx context.Context, r Range) ([]byte, error) {
	rows, err := e.AnalyticsRows(ctx, r)
	if err != nil {
		return nil, err
	}

	return render([]string{
		"Buyer ID", "Protocol", "Active", "Last Activity",
		"Session Count", "Cart Count", "Total Value", "Conversion Rate %",
	}, len(rows), func(i int) []string {
		row := rows[i]
		lastActivity := ""
		if !row.LastActivity.IsZero() {
			lastActivity = row.LastActivity.UTC().Format(time.RFC3339)
		}
		return []string{
			row.BuyerID,
			string(row.Protocol),
			strconv.FormatBool(row.Active),
			lastActivity,
			strconv.FormatInt(row.SessionCount, 10),
			strconv.FormatInt(row.CartCount, 10),
			row.TotalValue,
			row.ConversionRate,
		}
	})
}

// AnalyticsRows computes the per-buyer summary without rendering it,
// for the daily summary job and the ready endpoint.
func (e *Exporter) AnalyticsRows(ctx context.Context, r Range) ([]AnalyticsRow, error) {
	r = r.normalize()
	buyers, err := e.store.ListBuyers(ctx, &storage.BuyerFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing buyers: %w", err)
	}

	rows := make([]AnalyticsRow, 0, len(buyers))
	for _, buyer := range buyers {
		sessionCount, err := e.store.CountSessions(ctx, &storage.SessionFilter{
			BuyerID:      buyer.BuyerID,
			CreatedAfter: &r.Start, CreatedBefore: &r.End,
		})
		if err != nil {
			return nil, fmt.Errorf("counting sessions for %s: %w", buyer.BuyerID, err)
		}

		carts, err := e.store.ListCarts(ctx, &storage.CartFilter{
			BuyerID:     buyer.BuyerID,
			PostedAfter: &r.Start, PostedBefore: &r.End,
		})
		if err != nil {
			return nil, fmt.Errorf("listing carts for %s: %w", buyer.BuyerID, err)
		}

		var totalValue float64
		for _, crt := range carts {
			if v, err := strconv.ParseFloat(crt.Totals.Total, 64); err == nil {
				totalValue += v
			}
		}

		conversion := "0.0"
		if sessionCount > 0 {
			conversion = strconv.FormatFloat(float64(len(carts))/float64(sessionCount)*100, 'f', 1, 64)
		}

		rows = append(rows, AnalyticsRow{
			BuyerID:        buyer.BuyerID,
			Protocol:       buyer.Protocol,
			Active:         buyer.Active,
			LastActivity:   buyer.LastActivity,
			SessionCount:   sessionCount,
			CartCount:      int64(len(carts)),
			TotalValue:     strconv.FormatFloat(totalValue, 'f', 2, 64),
			ConversionRate: conversion,
		})
	}
	return rows, nil
}

// render writes a header plus n rows through encoding/csv, which
// handles quoting of commas, quotes and newlines.
func render(header []string, n int, row func(i int) []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			return nil, fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
