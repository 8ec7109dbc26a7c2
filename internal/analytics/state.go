package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/mijahauan/signal-recorder-sub002/internal/timesnap"
)

// State is the per-channel JSON runtime-state file of spec.md §6's
// "Runtime state" entry: the most recent anchor, plus the set of
// archives already processed. Persisted with the teacher's
// MetricsSummaryAggregator pattern in decoder_metrics_summary.go:
// json.MarshalIndent, write to a ".tmp" sibling, then os.Rename.
type State struct {
	Anchor    *timesnap.Anchor `json:"anchor,omitempty"`
	Processed []string         `json:"processed"`
}

// LoadState reads filename, returning an empty State if it does not yet
// exist.
func LoadState(filename string) (*State, error) {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return &State{Processed: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analytics: read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("analytics: unmarshal state: %w", err)
	}
	return &s, nil
}

// Save writes s to filename via the temp-file-then-rename pattern.
func (s *State) Save(filename string) error {
	sort.Strings(s.Processed)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("analytics: marshal state: %w", err)
	}

	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("analytics: write state: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("analytics: rename state: %w", err)
	}
	return nil
}

// processedCache is a bounded LRU membership set backing idempotent
// reprocessing detection: the full Processed slice is still persisted to
// disk (spec.md requires durable tracking across restarts), but lookups
// during a single run go through this cache so an unbounded archive
// directory cannot grow an unbounded in-memory set.
type processedCache struct {
	cache *lru.Cache
}

func newProcessedCache(size int) (*processedCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("analytics: new lru cache: %w", err)
	}
	return &processedCache{cache: c}, nil
}

func (p *processedCache) seed(names []string) {
	for _, n := range names {
		p.cache.Add(n, struct{}{})
	}
}

func (p *processedCache) has(name string) bool {
	return p.cache.Contains(name)
}

func (p *processedCache) mark(name string) {
	p.cache.Add(name, struct{}{})
}
