package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rewired-gh/roundwatch/internal/models"
)

func testRounds() []*models.RoundFeature {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 14.5
	wager := 3.0
	return []*models.RoundFeature{
		{
			ID: models.RoundID(start, start.Add(10*time.Second)), SessionID: "s1",
			StartedAt: start, EndedAt: start.Add(10 * time.Second), DurationSec: 10,
			StartReason: models.StartExplicit, EndReason: models.EndExplicitDebug,
			GameIDs: []string{"g1", "g2"}, NumTrades: 1, NumSideBets: 1,
			TotalSideBet: 2, TotalQtyBuy: 5, NetQty: 5, MaxWager: &wager,
			AvgBetSize: 2, TradeIntensity: 0.1,
		},
		{
			ID: models.RoundID(start.Add(time.Minute), start.Add(90*time.Second)), SessionID: "s1",
			StartedAt: start.Add(time.Minute), EndedAt: start.Add(90 * time.Second), DurationSec: 30,
			CooldownSec: &cooldown, StartReason: models.StartInferred, EndReason: models.EndTimeout,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"CSV", FormatCSV, false},
		{"parquet", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName(FormatJSON, false); got != "round_features.json" {
		t.Errorf("FileName = %q", got)
	}
	if got := FileName(FormatCSV, true); got != "round_features.csv.zst" {
		t.Errorf("FileName = %q", got)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	meta := Meta{ExportID: "run-1", GeneratedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}
	if err := Write(&buf, FormatJSON, testRounds(), meta); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var doc struct {
		ExportID string           `json:"exportId"`
		Rounds   []map[string]any `json:"rounds"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if doc.ExportID != "run-1" || len(doc.Rounds) != 2 {
		t.Fatalf("doc = %+v", doc)
	}
	first := doc.Rounds[0]
	if first["durationSec"] != 10.0 || first["tradeIntensity"] != 0.1 {
		t.Errorf("first round = %v", first)
	}
	if v, ok := first["cooldownSec"]; !ok || v != nil {
		t.Errorf("cooldownSec = %v, %v; want explicit null", v, ok)
	}
}

func TestWriteJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, nil, Meta{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), `"rounds": []`) {
		t.Errorf("empty export = %s", buf.String())
	}
	if strings.Contains(buf.String(), "exportId") || strings.Contains(buf.String(), "generatedAt") {
		t.Errorf("empty meta leaked into output: %s", buf.String())
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, testRounds(), NewMeta()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2", len(records))
	}
	col := make(map[string]int)
	for i, name := range records[0] {
		col[name] = i
	}
	for _, name := range []string{"durationSec", "cooldownSec", "gameIds", "maxWager", "volatility"} {
		if _, ok := col[name]; !ok {
			t.Errorf("header missing %q", name)
		}
	}

	first, second := records[1], records[2]
	if first[col["durationSec"]] != "10" || first[col["gameIds"]] != "g1;g2" {
		t.Errorf("first row = %v", first)
	}
	if first[col["cooldownSec"]] != "" || second[col["cooldownSec"]] != "14.5" {
		t.Errorf("cooldown cells = %q, %q", first[col["cooldownSec"]], second[col["cooldownSec"]])
	}
	if second[col["endReason"]] != "timeout" || second[col["maxWager"]] != "" {
		t.Errorf("second row = %v", second)
	}
	if first[col["startedAt"]] != "2026-03-01T12:00:00Z" {
		t.Errorf("startedAt = %q", first[col["startedAt"]])
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	path, err := WriteFile(dir, FormatJSON, false, testRounds(), NewMeta())
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if filepath.Base(path) != "round_features.json" {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) {
		t.Error("file is not valid JSON")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestWriteFile_Zstd(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteFile(dir, FormatCSV, true, testRounds(), NewMeta())
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer zr.Close()

	records, err := csv.NewReader(zr).ReadAll()
	if err != nil {
		t.Fatalf("decompressed output is not CSV: %v", err)
	}
	if len(records) != 3 || records[0][0] != "id" {
		t.Errorf("records = %v", records)
	}
}
