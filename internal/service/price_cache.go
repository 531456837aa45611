package service

import (
	"sort"
	"sync"

	"pricefeed/internal/domain"
)

// PriceCache is the in-memory last-value cache shared between the feed connection
// (single writer) and facade readers.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[domain.Symbol]domain.PriceSample
}

// NewPriceCache creates an empty cache
func NewPriceCache() *PriceCache {
	return &PriceCache{
		prices: make(map[domain.Symbol]domain.PriceSample),
	}
}

// Put overwrites the sample for sample.Symbol. Last write wins.
func (c *PriceCache) Put(sample domain.PriceSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prices[sample.Symbol] = sample
}

// Get returns the latest sample for a symbol
func (c *PriceCache) Get(symbol domain.Symbol) (domain.PriceSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sample, ok := c.prices[symbol]
	return sample, ok
}

// Remove drops the entry for a symbol
func (c *PriceCache) Remove(symbol domain.Symbol) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.prices, symbol)
}

// Snapshot returns a copy of all entries
func (c *PriceCache) Snapshot() map[domain.Symbol]domain.PriceSample {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[domain.Symbol]domain.PriceSample, len(c.prices))
	for symbol, sample := range c.prices {
		out[symbol] = sample
	}
	return out
}

// SortedSamples flattens a snapshot into a slice ordered by symbol
func SortedSamples(snapshot map[domain.Symbol]domain.PriceSample) []domain.PriceSample {
	result := make([]domain.PriceSample, 0, len(snapshot))
	for _, sample := range snapshot {
		result = append(result, sample)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result
}
