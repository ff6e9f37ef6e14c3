// Package sheets fetches the per-day tabular history export that backs the
// dashboard charts. The upstream is a Google-Sheets-style gviz endpoint:
// responses arrive either as the JSONP-ish setResponse wrapper or as a bare
// JSON array of row objects. Anything else (HTML error pages, empty bodies)
// is reported as domain.ErrHistoryUnavailable so the reconciler can fall
// back to cached data.
package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/climbox/telemetry-engine/internal/domain"
)

const (
	responsePrefix = "google.visualization.Query.setResponse("
	dateToken      = "{date}"
	locationToken  = "{location}"
	sheetToken     = "{sheet}"
)

// ResolveSheetName substitutes the date token in the configured sheet name
// pattern. An explicit override wins; an empty pattern falls back to the
// fixed fallback name.
func ResolveSheetName(pattern, override, fallback string, date time.Time) string {
	if override != "" {
		return override
	}
	if pattern == "" {
		return fallback
	}
	return strings.ReplaceAll(pattern, dateToken, date.UTC().Format("2006-01-02"))
}

// Client fetches history rows for one location at a time.
type Client struct {
	urlTemplate   string
	sheetPattern  string
	sheetOverride string
	sheetFallback string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewClient creates a history client. urlTemplate may carry {location} and
// {sheet} tokens, e.g.
// "https://docs.google.com/spreadsheets/d/{location}/gviz/tq?sheet={sheet}".
func NewClient(urlTemplate, sheetPattern, sheetOverride, sheetFallback string,
	timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		urlTemplate:   urlTemplate,
		sheetPattern:  sheetPattern,
		sheetOverride: sheetOverride,
		sheetFallback: sheetFallback,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// FetchRows returns the export's rows for a location, ordered as the sheet
// orders them (oldest first). Transport failures, non-2xx statuses and
// unparseable bodies all map to domain.ErrHistoryUnavailable.
func (c *Client) FetchRows(ctx context.Context, locationID string, date time.Time) ([]domain.RawRecord, error) {
	sheet := ResolveSheetName(c.sheetPattern, c.sheetOverride, c.sheetFallback, date)
	u := strings.ReplaceAll(c.urlTemplate, locationToken, url.PathEscape(locationID))
	u = strings.ReplaceAll(u, sheetToken, url.QueryEscape(sheet))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create history request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrHistoryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrHistoryUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrHistoryUnavailable, err)
	}

	rows, err := ParseExport(body)
	if err != nil {
		c.logger.Warn("history export unparseable", "location", locationID,
			"sheet", sheet, "error", err)
		return nil, err
	}
	return rows, nil
}

// ParseExport decodes an export body into raw rows. It accepts the gviz
// setResponse wrapper and a bare JSON array of objects.
func ParseExport(body []byte) ([]domain.RawRecord, error) {
	trimmed := strings.TrimSpace(string(body))

	if idx := strings.Index(trimmed, responsePrefix); idx >= 0 {
		inner := trimmed[idx+len(responsePrefix):]
		if end := strings.LastIndex(inner, ")"); end >= 0 {
			inner = inner[:end]
		}
		return parseGvizTable([]byte(inner))
	}

	if strings.HasPrefix(trimmed, "[") {
		var rows []domain.RawRecord
		if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
			return nil, fmt.Errorf("%w: decode row array: %w", domain.ErrHistoryUnavailable, err)
		}
		return rows, nil
	}

	return nil, fmt.Errorf("%w: unrecognized export body", domain.ErrHistoryUnavailable)
}

// gviz table shape: column labels name the fields, each row carries one cell
// per column with the raw value in v and the display text in f.

type gvizResponse struct {
	Table gvizTable `json:"table"`
}

type gvizTable struct {
	Cols []gvizCol `json:"cols"`
	Rows []gvizRow `json:"rows"`
}

type gvizCol struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type gvizRow struct {
	Cells []*gvizCell `json:"c"`
}

type gvizCell struct {
	Value     any    `json:"v"`
	Formatted string `json:"f"`
}

func parseGvizTable(body []byte) ([]domain.RawRecord, error) {
	var resp gvizResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode gviz table: %w", domain.ErrHistoryUnavailable, err)
	}

	keys := make([]string, len(resp.Table.Cols))
	for i, col := range resp.Table.Cols {
		keys[i] = col.Label
		if keys[i] == "" {
			keys[i] = col.ID
		}
	}

	rows := make([]domain.RawRecord, 0, len(resp.Table.Rows))
	for _, row := range resp.Table.Rows {
		record := domain.RawRecord{}
		for i, cell := range row.Cells {
			if i >= len(keys) || keys[i] == "" || cell == nil {
				continue
			}
			record[keys[i]] = cellValue(cell)
		}
		if len(record) > 0 {
			rows = append(rows, record)
		}
	}
	return rows, nil
}

// cellValue prefers the raw value. Date cells arrive as "Date(y,m,d,...)"
// strings which the canonicalizer knows how to parse; a nil raw value with
// display text falls back to the text.
func cellValue(cell *gvizCell) any {
	if cell.Value != nil {
		return cell.Value
	}
	if cell.Formatted != "" {
		return cell.Formatted
	}
	return nil
}
