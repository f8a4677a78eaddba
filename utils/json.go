package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Laza223/axxen-scraper-sub001/models"
)

// WriteJSON writes the leads of every successful query into a single flat
// JSON array. The file is replaced atomically so an interrupted run never
// leaves a truncated export behind. Returns the number of leads written.
func WriteJSON(filename string, results []models.QueryResult) (int, error) {
	leads := make([]models.ScrapedListing, 0)
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		leads = append(leads, r.Listings...)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(leads); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("encode leads: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return 0, fmt.Errorf("replace %s: %w", filename, err)
	}

	return len(leads), nil
}
