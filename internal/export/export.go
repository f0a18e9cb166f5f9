// Package export writes stored rounds as a dataset for offline analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rewired-gh/roundwatch/internal/models"
)

// Format is an export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json or csv)", s)
}

// FileName returns the dataset file name for f.
func FileName(f Format, compressed bool) string {
	name := "round_features." + string(f)
	if compressed {
		name += ".zst"
	}
	return name
}

// Meta describes one export run.
type Meta struct {
	ExportID    string
	GeneratedAt time.Time
}

// NewMeta stamps a fresh export id and the current time.
func NewMeta() Meta {
	return Meta{ExportID: uuid.NewString(), GeneratedAt: time.Now().UTC()}
}

type document struct {
	ExportID    string                 `json:"exportId,omitempty"`
	GeneratedAt *time.Time             `json:"generatedAt,omitempty"`
	Rounds      []*models.RoundFeature `json:"rounds"`
}

// Write encodes rounds to w. JSON output is {"rounds": [...]} with the run
// metadata alongside; CSV output has a header row and one row per round.
func Write(w io.Writer, f Format, rounds []*models.RoundFeature, meta Meta) error {
	if rounds == nil {
		rounds = []*models.RoundFeature{}
	}
	switch f {
	case FormatJSON:
		doc := document{ExportID: meta.ExportID, Rounds: rounds}
		if !meta.GeneratedAt.IsZero() {
			doc.GeneratedAt = &meta.GeneratedAt
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode rounds: %w", err)
		}
		return nil
	case FormatCSV:
		return writeCSV(w, rounds)
	}
	return fmt.Errorf("unknown export format %q", f)
}

// WriteFile writes rounds into dir and returns the file path. The file is
// written to a temporary name and renamed into place.
func WriteFile(dir string, f Format, compressed bool, rounds []*models.RoundFeature, meta Meta) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, FileName(f, compressed))

	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := writeTo(tmp, f, compressed, rounds, meta); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move export into place: %w", err)
	}
	return path, nil
}

func writeTo(w io.Writer, f Format, compressed bool, rounds []*models.RoundFeature, meta Meta) error {
	if !compressed {
		return Write(w, f, rounds, meta)
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := Write(zw, f, rounds, meta); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush zstd stream: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"id", "sessionId", "startedAt", "endedAt", "durationSec", "cooldownSec",
	"startReason", "endReason", "gameIds",
	"numTrades", "numSideBets", "uniquePlayers", "uniqueUsernames",
	"totalSideBet", "totalQtyBuy", "totalQtySell", "netQty",
	"tickMin", "tickMax", "maxWager",
	"avgBetSize", "tradeIntensity", "volatility",
}

func writeCSV(w io.Writer, rounds []*models.RoundFeature) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range rounds {
		if err := cw.Write(csvRow(r)); err != nil {
			return fmt.Errorf("failed to write round %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func csvRow(r *models.RoundFeature) []string {
	return []string{
		r.ID,
		r.SessionID,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.EndedAt.UTC().Format(time.RFC3339Nano),
		formatFloat(r.DurationSec),
		formatOptional(r.CooldownSec),
		string(r.StartReason),
		string(r.EndReason),
		strings.Join(r.GameIDs, ";"),
		strconv.Itoa(r.NumTrades),
		strconv.Itoa(r.NumSideBets),
		strconv.Itoa(r.UniquePlayers),
		strconv.Itoa(r.UniqueUsernames),
		formatFloat(r.TotalSideBet),
		formatFloat(r.TotalQtyBuy),
		formatFloat(r.TotalQtySell),
		formatFloat(r.NetQty),
		formatOptional(r.TickMin),
		formatOptional(r.TickMax),
		formatOptional(r.MaxWager),
		formatFloat(r.AvgBetSize),
		formatFloat(r.TradeIntensity),
		formatFloat(r.Volatility),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatOptional renders nil as an empty cell.
func formatOptional(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}
