// Package google mirrors import pass status and task failures into a Google
// spreadsheet so operators can follow the connector without API access.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"pharmsync/internal/events"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	PassesSheet   = "Passes"
	FailuresSheet = "Failures"

	statusCompleted = "completed"
	statusFailed    = "failed"

	timeLayout   = "2006-01-02 15:04:05"
	jobQueueSize = 256
	jobTimeout   = 30 * time.Second
)

var errRowNotFound = errors.New("pass row not found")

// SheetsService keeps one row per (backend, entity) on the Passes sheet and
// appends exhausted tasks to the Failures sheet.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	rowCache      map[string]int
	cacheMu       sync.RWMutex
	jobs          chan func(context.Context) error
	logger        *zerolog.Logger
}

// NewSheetsService authenticates with a service account credentials file.
func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID string, logger *zerolog.Logger) (*SheetsService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return newSheetsService(srv, spreadsheetID, logger), nil
}

func newSheetsService(srv *sheets.Service, spreadsheetID string, logger *zerolog.Logger) *SheetsService {
	l := logger.With().Str("component", "sheets").Logger()
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[string]int),
		jobs:          make(chan func(context.Context) error, jobQueueSize),
		logger:        &l,
	}
}

// TestConnection reads the header cell of the Passes sheet.
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, PassesSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// Subscribe queues sheet updates for pass and task events.
func (s *SheetsService) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventImportPassCompleted, s.passHandler(statusCompleted))
	bus.Subscribe(events.EventImportPassFailed, s.passHandler(statusFailed))
	bus.Subscribe(events.EventImportTaskFailed, s.onTaskFailed)
}

// Start applies queued updates until ctx is canceled.
func (s *SheetsService) Start(ctx context.Context) {
	if err := s.WarmUpCache(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to warm up row cache")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
			if err := job(jobCtx); err != nil {
				s.logger.Error().Err(err).Msg("sheet update failed")
			}
			cancel()
		}
	}
}

func (s *SheetsService) enqueue(job func(context.Context) error) {
	select {
	case s.jobs <- job:
	default:
		s.logger.Warn().Msg("sheet update dropped, queue full")
	}
}

func (s *SheetsService) passHandler(status string) events.EventHandler {
	return func(e *events.Event) error {
		var p events.PassEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		updatedAt := e.CreatedAt
		s.enqueue(func(ctx context.Context) error {
			return s.UpsertPass(ctx, p, status, updatedAt)
		})
		return nil
	}
}

func (s *SheetsService) onTaskFailed(e *events.Event) error {
	var p events.TaskEventPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	failedAt := e.CreatedAt
	s.enqueue(func(ctx context.Context) error {
		return s.AppendFailure(ctx, p, failedAt)
	})
	return nil
}

// WarmUpCache indexes the row keys in column A of the Passes sheet.
func (s *SheetsService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, PassesSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if key, ok := row[0].(string); ok && key != "" {
			// sheet rows are 1-based
			s.rowCache[key] = i + 1
		}
	}
	return nil
}

// UpsertPass rewrites the row of the pass's (backend, entity) or appends one.
func (s *SheetsService) UpsertPass(ctx context.Context, p events.PassEventPayload, status string, updatedAt time.Time) error {
	key := passKey(p.BackendID, p.Entity)
	values := &sheets.ValueRange{Values: [][]interface{}{passRowValues(key, p, status, updatedAt)}}

	rowIdx, err := s.findRow(ctx, key)
	if errors.Is(err, errRowNotFound) {
		resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, PassesSheet+"!A:A", values).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		if resp.Updates != nil {
			if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
				s.setCachedRow(key, row)
			}
		}
		return nil
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:K%d", PassesSheet, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, values).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// AppendFailure adds a row for a task that exhausted its retries.
func (s *SheetsService) AppendFailure(ctx context.Context, p events.TaskEventPayload, failedAt time.Time) error {
	row := []interface{}{
		p.TaskUUID,
		p.BackendID,
		p.Entity,
		p.RemoteID,
		p.Retries,
		p.Error,
		failedAt.UTC().Format(timeLayout),
	}
	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, FailuresSheet+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

func (s *SheetsService) findRow(ctx context.Context, key string) (int, error) {
	if row, ok := s.getCachedRow(key); ok {
		return row, nil
	}
	if err := s.WarmUpCache(ctx); err != nil {
		return 0, err
	}
	if row, ok := s.getCachedRow(key); ok {
		return row, nil
	}
	return 0, errRowNotFound
}

func (s *SheetsService) getCachedRow(key string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[key]
	return row, ok
}

func (s *SheetsService) setCachedRow(key string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[key] = row
}

func passKey(backendID int64, entity string) string {
	return strconv.FormatInt(backendID, 10) + ":" + entity
}

func passRowValues(key string, p events.PassEventPayload, status string, updatedAt time.Time) []interface{} {
	return []interface{}{
		key,
		p.BackendName,
		p.Entity,
		status,
		formatTime(p.From),
		formatTime(p.To),
		p.Windows,
		p.Submitted,
		formatTime(p.Watermark),
		p.Error,
		updatedAt.UTC().Format(timeLayout),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// rowFromRange extracts the first row number of an A1 range such as "Passes!A7:K7".
func rowFromRange(a1 string) (int, bool) {
	cells := a1
	if i := strings.LastIndexByte(a1, '!'); i >= 0 {
		cells = a1[i+1:]
	}
	start := 0
	for start < len(cells) && (cells[start] < '0' || cells[start] > '9') {
		start++
	}
	end := start
	for end < len(cells) && cells[end] >= '0' && cells[end] <= '9' {
		end++
	}
	row, err := strconv.Atoi(cells[start:end])
	if err != nil {
		return 0, false
	}
	return row, true
}
