package regions

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Checker-Finance/watttime-adapter/pkg/model"
)

// Catalog manages balancing authority metadata keyed by abbreviation.
// Entries are seeded from configuration and enriched as upstream lookups
// return full region records.
type Catalog struct {
	byAbbrev   map[string]model.Region
	idToAbbrev map[int]string
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewCatalog creates an empty region catalog.
func NewCatalog(logger *zap.Logger) *Catalog {
	return &Catalog{
		byAbbrev:   make(map[string]model.Region),
		idToAbbrev: make(map[int]string),
		logger:     logger,
	}
}

// Seed registers bare entries for the configured region abbreviations.
// IDs and display names fill in later when upstream lookups resolve them.
func (c *Catalog) Seed(abbrevs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, abbrev := range abbrevs {
		abbrev = strings.TrimSpace(abbrev)
		if abbrev == "" {
			continue
		}
		if _, ok := c.byAbbrev[abbrev]; !ok {
			c.byAbbrev[abbrev] = model.Region{Abbrev: abbrev}
		}
	}

	c.logger.Info("Seeded region catalog", zap.Int("count", len(c.byAbbrev)))
}

// Add upserts a full region record.
func (c *Catalog) Add(region model.Region) {
	if region.Abbrev == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byAbbrev[region.Abbrev] = region
	if region.ID != 0 {
		c.idToAbbrev[region.ID] = region.Abbrev
	}
}

// Get returns the region for an abbreviation.
func (c *Catalog) Get(abbrev string) (model.Region, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	region, ok := c.byAbbrev[abbrev]
	return region, ok
}

// GetByID returns the region for an upstream numeric ID.
func (c *Catalog) GetByID(id int) (model.Region, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	abbrev, ok := c.idToAbbrev[id]
	if !ok {
		return model.Region{}, false
	}
	region, ok := c.byAbbrev[abbrev]
	return region, ok
}

// All returns every known region, ordered by abbreviation.
func (c *Catalog) All() []model.Region {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]model.Region, 0, len(c.byAbbrev))
	for _, region := range c.byAbbrev {
		result = append(result, region)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Abbrev < result[j].Abbrev
	})
	return result
}

// Abbrevs returns the known abbreviations, ordered.
func (c *Catalog) Abbrevs() []string {
	regions := c.All()
	abbrevs := make([]string, len(regions))
	for i, region := range regions {
		abbrevs[i] = region.Abbrev
	}
	return abbrevs
}

// Count returns the number of known regions.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byAbbrev)
}
