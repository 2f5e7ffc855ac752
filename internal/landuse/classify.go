// Package landuse flags land-use parcels as agricultural and builds the
// per-district agricultural land regions.
package landuse

import (
	"strings"

	"github.com/sells-group/tankindex/internal/config"
	"github.com/sells-group/tankindex/internal/model"
)

// Classifier maps land-use labels onto the agricultural flag. The label set is
// closed: anything not configured as agricultural or non-agricultural fails.
type Classifier struct {
	labels map[string]bool
}

// NewClassifier builds a Classifier from the configured label lists.
func NewClassifier(cfg config.LanduseConfig) *Classifier {
	c := &Classifier{labels: make(map[string]bool, len(cfg.Agricultural)+len(cfg.NonAgricultural))}
	for _, l := range cfg.NonAgricultural {
		c.labels[normalizeLabel(l)] = false
	}
	for _, l := range cfg.Agricultural {
		c.labels[normalizeLabel(l)] = true
	}
	return c
}

// Classify reports whether label is agricultural land. Matching ignores case
// and runs of whitespace.
func (c *Classifier) Classify(label string) (bool, error) {
	ag, ok := c.labels[normalizeLabel(label)]
	if !ok {
		return false, &model.CategoryError{Field: "land_use", Value: label}
	}
	return ag, nil
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
