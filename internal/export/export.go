// Package export builds the consolidated researcher workbook and writes it to a blob store.
//
// A workbook has three sheets with fixed columns: Publications (one row per publication),
// Researchers (one row per record) and Statistics (Metric/Value summary rows).
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/metrics"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

// ContentType is the media type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sheet names.
const (
	SheetPublications = "Publications"
	SheetResearchers  = "Researchers"
	SheetStatistics   = "Statistics"
)

// Column headers, in sheet order.
var (
	PublicationColumns = []string{
		"Researcher", "Affiliation", "Title", "Authors", "Venue", "Year", "Citations", "Type",
		"Source", "MatchedTerms", "CapturedDate",
	}
	ResearcherColumns = []string{
		"Name", "Affiliation", "hIndex", "i10Index", "TotalCitations", "Source",
		"TotalPublications", "CapturedDate", "ExecutionSeconds",
	}
	StatisticsColumns = []string{"Metric", "Value"}
)

const (
	handleTimeFormat = "20060102T150405Z"
	allSources       = "all"
)

var handlePattern = regexp.MustCompile(`^researchers_[A-Za-z]+_\d{8}T\d{6}Z_[A-Za-z0-9-]+\.xlsx$`)

// ErrInvalidHandle is returned for handles that were not produced by Handle.
var ErrInvalidHandle = errors.New("invalid artifact handle")

// Artifact describes one written workbook.
type Artifact struct {
	Handle       string `json:"handle"`
	URI          string `json:"uri"`
	Records      int    `json:"records"`
	Publications int    `json:"publications"`
}

// Opener reads artifacts back from the sink that wrote them.
type Opener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Builder writes workbooks through a BlobStore.
type Builder struct {
	blobs  researcher.BlobStore
	ids    researcher.IDGenerator
	clock  researcher.Clock
	logger *zap.Logger
}

// NewBuilder wires the artifact sink, handle ids and clock.
func NewBuilder(blobs researcher.BlobStore, ids researcher.IDGenerator, clock researcher.Clock, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{blobs: blobs, ids: ids, clock: clock, logger: logger}
}

// Handle names an artifact researchers_<source>_<timestamp>_<id>.xlsx. An empty source means a
// multi-source export.
func Handle(source researcher.Source, at time.Time, id string) string {
	label := string(source)
	if label == "" {
		label = allSources
	}
	return fmt.Sprintf("researchers_%s_%s_%s.xlsx", label, at.UTC().Format(handleTimeFormat), id)
}

// ValidHandle reports whether h has the shape produced by Handle.
func ValidHandle(h string) bool {
	return handlePattern.MatchString(h)
}

// Export builds the workbook for records and writes it. source labels the handle only.
func (b *Builder) Export(ctx context.Context, source researcher.Source, records []researcher.Record) (Artifact, error) {
	artifact, err := b.export(ctx, source, records)
	if err != nil {
		metrics.ObserveExport("error")
		return Artifact{}, err
	}
	metrics.ObserveExport("ok")
	b.logger.Info("export written",
		zap.String("handle", artifact.Handle),
		zap.String("uri", artifact.URI),
		zap.Int("records", artifact.Records),
		zap.Int("publications", artifact.Publications))
	return artifact, nil
}

func (b *Builder) export(ctx context.Context, source researcher.Source, records []researcher.Record) (Artifact, error) {
	id, err := b.ids.NewID()
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact id: %w", err)
	}
	now := b.clock.Now()
	handle := Handle(source, now, id)

	f, err := Build(records, now)
	if err != nil {
		return Artifact{}, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			b.logger.Warn("close workbook", zap.Error(cerr))
		}
	}()
	buf, err := f.WriteToBuffer()
	if err != nil {
		return Artifact{}, fmt.Errorf("serialize workbook: %w", err)
	}
	uri, err := b.blobs.PutObject(ctx, handle, ContentType, buf)
	if err != nil {
		return Artifact{}, fmt.Errorf("write artifact %s: %w", handle, err)
	}
	return Artifact{Handle: handle, URI: uri, Records: len(records), Publications: countPublications(records)}, nil
}

// Build renders records into a new workbook. The caller closes it.
func Build(records []researcher.Record, generatedAt time.Time) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetPublications); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetResearchers, SheetStatistics} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("add sheet %s: %w", name, err)
		}
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	w := sheetWriter{f: f, header: header}
	w.rows(SheetPublications, PublicationColumns, publicationRows(records))
	w.rows(SheetResearchers, ResearcherColumns, researcherRows(records))
	w.rows(SheetStatistics, StatisticsColumns, statisticsRows(records, generatedAt))
	if w.err != nil {
		return nil, w.err
	}
	f.SetActiveSheet(0)
	return f, nil
}

// sheetWriter keeps the first error so sheets can be written back to back.
type sheetWriter struct {
	f      *excelize.File
	header int
	err    error
}

func (w *sheetWriter) rows(sheet string, columns []string, rows [][]any) {
	if w.err != nil {
		return
	}
	headerRow := make([]any, len(columns))
	for i, c := range columns {
		headerRow[i] = c
	}
	for i, row := range append([][]any{headerRow}, rows...) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			w.err = err
			return
		}
		if err := w.f.SetSheetRow(sheet, cell, &row); err != nil {
			w.err = fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
			return
		}
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetCellStyle(sheet, "A1", last, w.header); err != nil {
		w.err = fmt.Errorf("style %s header: %w", sheet, err)
		return
	}
	if err := w.f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		w.err = fmt.Errorf("freeze %s header: %w", sheet, err)
	}
}

func publicationRows(records []researcher.Record) [][]any {
	var rows [][]any
	for _, rec := range records {
		for _, p := range rec.Publications {
			var year any = ""
			if p.Year != nil {
				year = *p.Year
			}
			rows = append(rows, []any{
				rec.Name, rec.Affiliation, p.Title, p.Authors, p.Venue, year, p.Citations, p.Type,
				string(rec.Source), strings.Join(p.MatchedTerms, "; "), rec.CaptureDate(),
			})
		}
	}
	return rows
}

func researcherRows(records []researcher.Record) [][]any {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []any{
			rec.Name, rec.Affiliation, rec.Metrics.HIndex, rec.Metrics.I10Index, rec.Metrics.TotalCitations,
			string(rec.Source), len(rec.Publications), rec.CaptureDate(), rec.ExecutionSeconds,
		})
	}
	return rows
}

func statisticsRows(records []researcher.Record, generatedAt time.Time) [][]any {
	var retained int
	var earliest, latest time.Time
	sources := make(map[researcher.Source]struct{})
	for _, rec := range records {
		if rec.Retained {
			retained++
		}
		sources[rec.Source] = struct{}{}
		if earliest.IsZero() || rec.CapturedAt.Before(earliest) {
			earliest = rec.CapturedAt
		}
		if rec.CapturedAt.After(latest) {
			latest = rec.CapturedAt
		}
	}
	return [][]any{
		{"Records", len(records)},
		{"Publications", countPublications(records)},
		{"RetainedRecords", retained},
		{"DistinctSources", len(sources)},
		{"EarliestCapture", formatTime(earliest)},
		{"LatestCapture", formatTime(latest)},
		{"GeneratedAt", formatTime(generatedAt)},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func countPublications(records []researcher.Record) int {
	n := 0
	for _, rec := range records {
		n += len(rec.Publications)
	}
	return n
}

// Read opens a workbook and returns the rows of every known sheet, header row included.
func Read(r io.Reader) (map[string][][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	out := make(map[string][][]string, 3)
	for _, sheet := range []string{SheetPublications, SheetResearchers, SheetStatistics} {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", sheet, err)
		}
		out[sheet] = rows
	}
	return out, nil
}
