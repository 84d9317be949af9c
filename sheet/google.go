package sheet

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SpreadsheetID extracts the document id from a sheet URL. A bare id is
// returned unchanged.
func SpreadsheetID(sheetURL string) (string, error) {
	sheetURL = strings.TrimSpace(sheetURL)
	if m := spreadsheetIDPattern.FindStringSubmatch(sheetURL); m != nil {
		return m[1], nil
	}
	if sheetURL != "" && !strings.ContainsAny(sheetURL, "/:") {
		return sheetURL, nil
	}
	return "", fmt.Errorf("no spreadsheet id in %q", sheetURL)
}

// Google is a Store backed by the Google Sheets v4 API.
type Google struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewGoogle opens the worksheet sheetName of the document at sheetURL using a
// service-account credentials file. An empty sheetName selects the first tab.
func NewGoogle(ctx context.Context, credentialsFile, sheetURL, sheetName string, opts ...option.ClientOption) (*Google, error) {
	id, err := SpreadsheetID(sheetURL)
	if err != nil {
		return nil, err
	}

	opts = append([]option.ClientOption{
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	if sheetName == "" {
		doc, err := svc.Spreadsheets.Get(id).Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("open spreadsheet %s: %w", id, err)
		}
		if len(doc.Sheets) == 0 || doc.Sheets[0].Properties == nil {
			return nil, fmt.Errorf("spreadsheet %s has no worksheets", id)
		}
		sheetName = doc.Sheets[0].Properties.Title
	}

	return &Google{svc: svc, spreadsheetID: id, sheetName: sheetName}, nil
}

func (g *Google) qualified(a1 string) string {
	return "'" + strings.ReplaceAll(g.sheetName, "'", "''") + "'!" + a1
}

// Values implements Store.
func (g *Google) Values(ctx context.Context) ([][]string, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, g.qualified("A:ZZ")).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", g.sheetName, err)
	}

	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			out[i][j] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// BatchUpdate implements Store with a single values:batchUpdate call.
func (g *Google) BatchUpdate(ctx context.Context, ranges []Range) error {
	data := make([]*sheets.ValueRange, 0, len(ranges))
	for _, r := range ranges {
		rows := make([][]interface{}, len(r.Values))
		for i, v := range r.Values {
			rows[i] = []interface{}{v}
		}
		data = append(data, &sheets.ValueRange{
			Range:          g.qualified(r.A1()),
			MajorDimension: "ROWS",
			Values:         rows,
		})
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "USER_ENTERED",
		Data:             data,
	}
	if _, err := g.svc.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return err
	}
	return nil
}
