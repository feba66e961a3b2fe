package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/fundamentals-ea/internal/model"
)

// SpreadsheetProvider serves manually curated per-ticker JSON files exported
// from analyst spreadsheets. It performs no network calls and incurs no cost,
// which makes it the terminal fallback in every chain.
type SpreadsheetProvider struct {
	dataDir string
}

// NewSpreadsheetProvider creates a provider reading from dataDir. The
// directory may be created later; existence is only checked on access.
func NewSpreadsheetProvider(dataDir string) *SpreadsheetProvider {
	return &SpreadsheetProvider{dataDir: dataDir}
}

func (p *SpreadsheetProvider) Source() model.SourceType { return model.SourceSpreadsheet }

// ValidateAccess reports whether the data directory exists.
func (p *SpreadsheetProvider) ValidateAccess(ctx context.Context) bool {
	info, err := os.Stat(p.dataDir)
	return err == nil && info.IsDir()
}

// Fetch loads {TICKER}.json and assembles the sections matching the requested
// data types. A file may carry either per-type sections or a flat field map.
func (p *SpreadsheetProvider) Fetch(ctx context.Context, req model.DataRequest) model.Response {
	start := time.Now()

	path := filepath.Join(p.dataDir, req.Ticker+".json")
	body, err := os.ReadFile(path)
	if err != nil {
		return finish(model.Failure(p.Source(), fmt.Sprintf("no spreadsheet data for %s: %v", req.Ticker, err)),
			start, 0, 0)
	}

	var file map[string]interface{}
	if err := json.Unmarshal(body, &file); err != nil {
		return finish(model.Failure(p.Source(), fmt.Sprintf("malformed spreadsheet file for %s: %v", req.Ticker, err)),
			start, 0, 0)
	}

	raw := make(map[string]interface{})
	sectioned := false
	for _, dt := range req.DataTypes {
		section, ok := file[string(dt)].(map[string]interface{})
		if !ok {
			continue
		}
		sectioned = true
		mergeRaw(raw, section)
	}
	if !sectioned {
		// Flat layout: the whole file is one field map.
		mergeRaw(raw, file)
	}

	data := normalizeFields(raw, spreadsheetAliases)
	if requestedPriceMissing(req, data) {
		return finish(model.Failure(p.Source(), fmt.Sprintf("spreadsheet data for %s has no usable price", req.Ticker)),
			start, 0, 0)
	}
	deriveFCF(data)

	logrus.WithFields(logrus.Fields{
		"ticker": req.Ticker,
		"fields": len(data),
	}).Debug("Served spreadsheet data")

	return finish(model.Response{Success: true, Source: p.Source(), Data: data}, start, 0, 0)
}
