// package formatter renders sync history, match tables and sync reports as text, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
	"github.com/desertthunder/ytsync/internal/tasks"
)

// Format selects an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text", "table", "csv" or "json" (case-insensitive). Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "table":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (text, csv, json)", shared.ErrInvalidFlag, s)
	}
}

// OperationRecord is the flat export shape of a [models.SyncOperation].
type OperationRecord struct {
	ID               string            `json:"id"`
	PlaylistID       string            `json:"playlist_id"`
	Status           string            `json:"status"`
	Trigger          string            `json:"trigger"`
	Matched          int               `json:"matched_count"`
	Unmatched        int               `json:"unmatched_count"`
	Errors           int               `json:"error_count"`
	RetryRecommended bool              `json:"retry_recommended"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
	DurationSeconds  float64           `json:"duration_seconds"`
	ErrorDetails     map[string]string `json:"errors,omitempty"`
}

// NewOperationRecord flattens op.
func NewOperationRecord(op *models.SyncOperation) OperationRecord {
	rec := OperationRecord{
		ID:               op.ID(),
		PlaylistID:       op.PlaylistID(),
		Status:           string(op.Status()),
		Trigger:          string(op.Trigger()),
		Matched:          op.MatchedCount(),
		Unmatched:        op.UnmatchedCount(),
		Errors:           op.ErrorCount(),
		RetryRecommended: op.RetryRecommended(),
		StartedAt:        op.StartedAt(),
		EndedAt:          op.EndedAt(),
		DurationSeconds:  op.Duration().Seconds(),
	}
	if errs := op.Errors(); len(errs) > 0 {
		rec.ErrorDetails = errs
	}
	return rec
}

// HistoryExport is the JSON document written for a playlist's history.
type HistoryExport struct {
	PlaylistID    string            `json:"playlist_id"`
	Title         string            `json:"title"`
	SourceID      string            `json:"source_id,omitempty"`
	DestinationID string            `json:"destination_id,omitempty"`
	SyncStatus    string            `json:"sync_status"`
	SourceStatus  string            `json:"source_status"`
	LastSyncedAt  *time.Time        `json:"last_synced_at,omitempty"`
	Operations    []OperationRecord `json:"operations"`
}

// MatchRow is one line of a playlist's match table.
type MatchRow struct {
	Position   int     `json:"position"`
	ItemID     string  `json:"item_id"`
	VideoID    string  `json:"video_id"`
	Title      string  `json:"title"`
	Removed    bool    `json:"removed_from_source,omitempty"`
	TrackID    string  `json:"track_id,omitempty"`
	TrackURI   string  `json:"track_uri,omitempty"`
	Method     string  `json:"method,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Applied    bool    `json:"applied"`
}

// NewMatchRow pairs an item with its active match, which may be nil.
func NewMatchRow(item *models.PlaylistItem, m *models.TrackMatch) MatchRow {
	row := MatchRow{
		Position: item.Position(),
		ItemID:   item.ID(),
		VideoID:  item.SourceVideoID(),
		Title:    item.Title(),
		Removed:  item.RemovedFromSource(),
	}
	if m != nil {
		row.TrackID = m.TrackID()
		row.TrackURI = m.TrackURI()
		row.Method = string(m.Method())
		row.Confidence = m.Confidence()
		row.Applied = m.AppliedAt() != nil
	}
	return row
}

// HistoryToCSV converts operations to CSV with one row per operation.
func HistoryToCSV(ops []*models.SyncOperation) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Status", "Trigger", "Matched", "Unmatched", "Errors", "Retry", "Started", "Ended", "Duration"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, op := range ops {
		record := []string{
			op.ID(),
			string(op.Status()),
			string(op.Trigger()),
			strconv.Itoa(op.MatchedCount()),
			strconv.Itoa(op.UnmatchedCount()),
			strconv.Itoa(op.ErrorCount()),
			strconv.FormatBool(op.RetryRecommended()),
			formatTime(op.StartedAt()),
			formatTime(op.EndedAt()),
			op.Duration().Round(time.Millisecond).String(),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// HistoryToJSON converts a playlist and its operations to indented JSON.
func HistoryToJSON(p *models.Playlist, ops []*models.SyncOperation) ([]byte, error) {
	export := HistoryExport{
		PlaylistID:    p.ID(),
		Title:         p.Title(),
		SourceID:      p.SourceID(),
		DestinationID: p.DestinationID(),
		SyncStatus:    string(p.SyncStatus()),
		SourceStatus:  string(p.SourceStatus()),
		LastSyncedAt:  p.LastSyncedAt(),
		Operations:    make([]OperationRecord, 0, len(ops)),
	}
	for _, op := range ops {
		export.Operations = append(export.Operations, NewOperationRecord(op))
	}
	return marshalIndent(export)
}

// HistoryToText renders an aligned table followed by the error details of each operation.
func HistoryToText(p *models.Playlist, ops []*models.SyncOperation, verbose bool) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s (%s)\n", p.Title(), p.ID())
	fmt.Fprintf(&buf, "Status: %s, source %s\n", p.SyncStatus(), p.SourceStatus())
	if last := p.LastSyncedAt(); last != nil {
		fmt.Fprintf(&buf, "Last synced: %s\n", last.Local().Format(time.DateTime))
	}
	buf.WriteString("\n")

	if len(ops) == 0 {
		buf.WriteString("No sync operations recorded.\n")
		return buf.Bytes(), nil
	}

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tTRIGGER\tMATCHED\tUNMATCHED\tERRORS\tDURATION\tRETRY")
	for _, op := range ops {
		retry := ""
		if op.RetryRecommended() {
			retry = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			formatLocal(op.StartedAt()), op.Status(), op.Trigger(),
			op.MatchedCount(), op.UnmatchedCount(), op.ErrorCount(),
			op.Duration().Round(time.Millisecond), retry)
	}
	if err := tw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to render table: %w", err)
	}

	if !verbose {
		return buf.Bytes(), nil
	}

	for _, op := range ops {
		errs := op.Errors()
		if len(errs) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "\n%s (%s):\n", op.ID(), op.Status())
		for _, key := range slices.Sorted(maps.Keys(errs)) {
			fmt.Fprintf(&buf, "  %s: %s\n", key, errs[key])
		}
	}
	return buf.Bytes(), nil
}

// WriteHistory renders history in the requested format.
func WriteHistory(w io.Writer, format Format, p *models.Playlist, ops []*models.SyncOperation, verbose bool) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatCSV:
		data, err = HistoryToCSV(ops)
	case FormatJSON:
		data, err = HistoryToJSON(p, ops)
	default:
		data, err = HistoryToText(p, ops, verbose)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// MatchesToCSV converts match rows to CSV.
func MatchesToCSV(rows []MatchRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"Position", "VideoID", "Title", "TrackURI", "Method", "Confidence", "Applied", "Removed"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.Position),
			r.VideoID,
			r.Title,
			r.TrackURI,
			r.Method,
			strconv.FormatFloat(r.Confidence, 'f', 4, 64),
			strconv.FormatBool(r.Applied),
			strconv.FormatBool(r.Removed),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// MatchesToText renders match rows as an aligned table.
func MatchesToText(rows []MatchRow) ([]byte, error) {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tVIDEO\tTITLE\tTRACK\tMETHOD\tCONFIDENCE\tAPPLIED")
	for _, r := range rows {
		track, method, confidence := "-", "unmatched", "-"
		if r.TrackURI != "" {
			track, method, confidence = r.TrackURI, r.Method, strconv.FormatFloat(r.Confidence, 'f', 2, 64)
		}
		applied := "no"
		if r.Applied {
			applied = "yes"
		}
		title := truncate(r.Title, 48)
		if r.Removed {
			title += " (removed)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Position+1, r.VideoID, title, track, method, confidence, applied)
	}
	if err := tw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to render table: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteMatches renders match rows in the requested format.
func WriteMatches(w io.Writer, format Format, rows []MatchRow) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatCSV:
		data, err = MatchesToCSV(rows)
	case FormatJSON:
		data, err = marshalIndent(rows)
	default:
		data, err = MatchesToText(rows)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReportToText summarizes a finished sync. verbose lists every item outcome.
func ReportToText(report *tasks.Report, verbose bool) []byte {
	var buf bytes.Buffer
	op := report.Operation
	stats := report.Reconcile

	fmt.Fprintf(&buf, "%s: %s in %s\n", report.Playlist.Title(), op.Status(), op.Duration().Round(time.Millisecond))
	fmt.Fprintf(&buf, "  source: +%d ~%d -%d =%d\n", stats.Inserted, stats.Updated, stats.Removed, stats.Unchanged)
	fmt.Fprintf(&buf, "  matched %d, unmatched %d, errors %d\n", op.MatchedCount(), op.UnmatchedCount(), op.ErrorCount())
	if op.RetryRecommended() {
		buf.WriteString("  retry recommended\n")
	}
	if report.Cause != nil {
		fmt.Fprintf(&buf, "  cause: %v\n", report.Cause)
	}
	if len(report.Duplicates) > 0 {
		fmt.Fprintf(&buf, "  duplicate videos ignored: %s\n", strings.Join(report.Duplicates, ", "))
	}

	for _, o := range report.Outcomes {
		if !verbose && o.Kind == tasks.OutcomeMatched {
			continue
		}
		switch o.Kind {
		case tasks.OutcomeMatched:
			fmt.Fprintf(&buf, "  ✓ %3d %s → %s\n", o.Position+1, truncate(o.Title, 56), o.Match.TrackURI())
		case tasks.OutcomeUnmatched:
			fmt.Fprintf(&buf, "  ? %3d %s\n", o.Position+1, truncate(o.Title, 56))
		default:
			fmt.Fprintf(&buf, "  ✗ %3d %s: %v\n", o.Position+1, truncate(o.Title, 56), o.Err)
		}
	}
	return buf.Bytes()
}

// WriteFile writes data to path, creating or truncating it.
func WriteFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func marshalIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return append(data, '\n'), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatLocal(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
