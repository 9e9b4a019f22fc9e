package notify

import (
	"context"
	"fmt"
	"os"

	"propsync/internal/config"
	"propsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const defaultSheetName = "SyncJobs"

// SheetsNotifier appends one row per finished job to a spreadsheet.
type SheetsNotifier struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        zerolog.Logger
}

// NewSheetsService builds a Sheets client from a service account file.
func NewSheetsService(ctx context.Context, credentialsFile string) (*sheets.Service, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return srv, nil
}

func NewSheetsNotifier(srv *sheets.Service, cfg config.SheetsNotifyConfig, logger *zerolog.Logger) *SheetsNotifier {
	name := cfg.SheetName
	if name == "" {
		name = defaultSheetName
	}
	return &SheetsNotifier{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     name,
		logger:        logger.With().Str("component", "notify_sheets").Logger(),
	}
}

func (n *SheetsNotifier) JobFinished(ctx context.Context, job *models.SyncJob) error {
	rangeData := n.sheetName + "!A:K"
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{jobRow(job)},
	}

	_, err := n.service.Spreadsheets.Values.Append(n.spreadsheetID, rangeData, valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append sync row: %w", err)
	}
	n.logger.Debug().Str("sync_id", job.SyncID).Msg("Sync row appended")
	return nil
}
