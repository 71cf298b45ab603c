package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/nestegg-fi/nestegg/internal/common"
	"github.com/nestegg-fi/nestegg/internal/model"
	"github.com/nestegg-fi/nestegg/internal/service"
)

// Writer exports a user's accounts and net worth history to Google Sheets.
type Writer struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config
}

var _ service.SnapshotExporter = (*Writer)(nil)

// NewWriter creates a new Google Sheets exporter.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Create the Sheets service
	service, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Writer{
		config:  config,
		service: service,
		logger:  logger,
	}, nil
}

// Export writes the user's current accounts and snapshot history to the
// configured spreadsheet, replacing any previous export.
func (w *Writer) Export(ctx context.Context, userID string, accounts []model.Account, snapshots []model.NetWorthSnapshot) error {
	w.logger.Info("starting net worth export",
		"user_id", userID,
		"accounts", len(accounts),
		"snapshots", len(snapshots))

	// Get or create spreadsheet
	spreadsheetID, err := w.getOrCreateSpreadsheet(ctx)
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	// Clear existing data
	if clearErr := w.clearSheet(ctx, spreadsheetID); clearErr != nil {
		return fmt.Errorf("failed to clear sheet: %w", clearErr)
	}

	// Prepare the data
	values := w.prepareExportData(userID, accounts, snapshots)

	// Write data in batches with retry
	retryOpts := service.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	err = common.WithRetry(ctx, func() error {
		return w.writeData(ctx, spreadsheetID, values)
	}, retryOpts)

	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	// Apply formatting if enabled
	if w.config.EnableFormatting {
		err = common.WithRetry(ctx, func() error {
			return w.applyFormatting(ctx, spreadsheetID, len(values))
		}, retryOpts)
		if err != nil {
			w.logger.Warn("failed to apply formatting", "error", err)
			// Don't fail the whole operation if formatting fails
		}
	}

	w.logger.Info("net worth export completed",
		"spreadsheet_id", spreadsheetID,
		"rows_written", len(values))

	return nil
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		// Use service account authentication
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}

		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		// Use OAuth2 authentication
		oauthConfig := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}

		token := &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}

		tokenSource = oauthConfig.TokenSource(ctx, token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return srv, nil
}

// getOrCreateSpreadsheet gets an existing spreadsheet or creates a new one.
func (w *Writer) getOrCreateSpreadsheet(ctx context.Context) (string, error) {
	if w.config.SpreadsheetID != "" {
		// Verify the spreadsheet exists and is accessible
		_, err := w.service.Spreadsheets.Get(w.config.SpreadsheetID).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("unable to access spreadsheet %s: %w", w.config.SpreadsheetID, err)
		}
		return w.config.SpreadsheetID, nil
	}

	// Create a new spreadsheet
	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    w.config.SpreadsheetName,
			TimeZone: w.config.TimeZone,
		},
		Sheets: []*sheets.Sheet{
			{
				Properties: &sheets.SheetProperties{
					Title: "Net Worth",
				},
			},
		},
	}

	created, err := w.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create spreadsheet: %w", err)
	}

	w.logger.Info("created new spreadsheet",
		"id", created.SpreadsheetId,
		"url", created.SpreadsheetUrl)

	return created.SpreadsheetId, nil
}

// clearSheet clears all data from the sheet.
func (w *Writer) clearSheet(ctx context.Context, spreadsheetID string) error {
	_, err := w.service.Spreadsheets.Values.Clear(spreadsheetID, "A:Z", &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

// prepareExportData lays out the spreadsheet: a summary of current accounts
// followed by the daily net worth history, newest day first.
func (w *Writer) prepareExportData(userID string, accounts []model.Account, snapshots []model.NetWorthSnapshot) [][]any {
	// Header(3) + account header(2) + accounts + empty(2) + history header(2) + snapshots
	estimatedRows := 9 + len(accounts) + len(snapshots)
	values := make([][]any, 0, estimatedRows)

	values = append(values,
		[]any{"Net Worth Report", userID},
		[]any{"Generated", time.Now().Format("Jan 2, 2006 15:04")},
		[]any{}, // Empty row
		[]any{"Accounts"},
		[]any{"Institution", "Type", "Subtype", "Status", "Balance", "Last Checked"},
	)

	// Sort accounts by institution for a stable layout
	sorted := make([]model.Account, len(accounts))
	copy(sorted, accounts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Institution != sorted[j].Institution {
			return sorted[i].Institution < sorted[j].Institution
		}
		return sorted[i].ID < sorted[j].ID
	})

	for _, account := range sorted {
		values = append(values, []any{
			account.Institution,
			string(account.Type),
			account.Subtype,
			string(account.Status),
			account.DisplayBalance.String(),
			account.LastCheckedAt.Format("2006-01-02"),
		})
	}

	values = append(values,
		[]any{}, // Empty row
		[]any{"Daily History"},
		[]any{"Date", "Net Worth", "Bank", "Investment", "Crypto", "Debt"},
	)

	// Newest first
	history := make([]model.NetWorthSnapshot, len(snapshots))
	copy(history, snapshots)
	sort.Slice(history, func(i, j int) bool {
		return history[i].Date.After(history[j].Date)
	})

	for _, snapshot := range history {
		values = append(values, []any{
			snapshot.Date.Format("2006-01-02"),
			snapshot.TotalBalance.String(),
			snapshot.BankBalance.StringFixed(2),
			snapshot.InvestmentBalance.StringFixed(2),
			snapshot.CryptoBalance.StringFixed(2),
			snapshot.DebtBalance.StringFixed(2),
		})
	}

	return values
}

// writeData writes the data to the spreadsheet.
func (w *Writer) writeData(ctx context.Context, spreadsheetID string, values [][]any) error {
	// Write in batches to avoid API limits
	for i := 0; i < len(values); i += w.config.BatchSize {
		end := i + w.config.BatchSize
		if end > len(values) {
			end = len(values)
		}

		batch := values[i:end]
		valueRange := &sheets.ValueRange{
			Values: batch,
		}

		rangeStr := fmt.Sprintf("A%d", i+1)
		_, err := w.service.Spreadsheets.Values.Update(spreadsheetID, rangeStr, valueRange).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()

		if err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, err)
		}

		w.logger.Debug("wrote batch", "start_row", i+1, "rows", len(batch))
	}

	return nil
}

// applyFormatting applies formatting to the spreadsheet.
func (w *Writer) applyFormatting(ctx context.Context, spreadsheetID string, totalRows int) error {
	requests := []*sheets.Request{
		// Format header
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   2,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold:     true,
							FontSize: 16,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		// Format section headers
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    2,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 0,
					EndColumnIndex:   1,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold: true,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		// Format currency columns
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    0,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 1,
					EndColumnIndex:   6,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						NumberFormat: &sheets.NumberFormat{
							Type:    "CURRENCY",
							Pattern: "$#,##0.00",
						},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		},
		// Auto-resize columns
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    0,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   6,
				},
			},
		},
		// Freeze header rows
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: 0,
					GridProperties: &sheets.GridProperties{
						FrozenRowCount: 2,
					},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}

	batchUpdate := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}

	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, batchUpdate).Context(ctx).Do()
	return err
}
