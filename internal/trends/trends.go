// Package trends supplies scoring candidates from a YAML file of topics and
// their raw signal metrics.
package trends

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"contentmill/internal/scoring"
)

// File is the on-disk candidate pool.
type File struct {
	Source     string      `yaml:"source"`
	Candidates []Candidate `yaml:"candidates"`
}

// Candidate is one topic as written in the file. Metrics use the names the
// standard scoring factors read (search_volume, trend_growth,
// signal_quality, competition_gap).
type Candidate struct {
	Key      string             `yaml:"key"`
	Display  string             `yaml:"display"`
	Metrics  map[string]float64 `yaml:"metrics"`
	LastUsed string             `yaml:"last_used"`
}

// LoadFile reads and validates a candidate file.
func LoadFile(path string) ([]scoring.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates %s: %w", path, err)
	}
	cs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("candidates %s: %w", path, err)
	}
	return cs, nil
}

// Parse decodes candidate YAML. Keys default to a slug of the display text
// and must be unique. A missing last_used marks the topic as never used.
func Parse(data []byte) ([]scoring.Candidate, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}
	seen := make(map[string]bool, len(f.Candidates))
	out := make([]scoring.Candidate, 0, len(f.Candidates))
	for i, c := range f.Candidates {
		if strings.TrimSpace(c.Display) == "" {
			return nil, fmt.Errorf("candidate %d: display is empty", i)
		}
		key := c.Key
		if key == "" {
			key = Slug(c.Display)
		}
		if seen[key] {
			return nil, fmt.Errorf("candidate %d: duplicate key %q", i, key)
		}
		seen[key] = true

		sc := scoring.Candidate{Key: key, Display: c.Display, Metrics: c.Metrics}
		if c.LastUsed == "" {
			sc.NeverUsed = true
		} else {
			t, err := parseDate(c.LastUsed)
			if err != nil {
				return nil, fmt.Errorf("candidate %q: last_used: %w", key, err)
			}
			sc.LastUsed = &t
		}
		out = append(out, sc)
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// Slug lowercases s and joins its alphanumeric runs with dashes.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// StaticProvider serves a fixed pool. MarkUsed updates last-used dates so
// repeated batches rotate through topics.
type StaticProvider struct {
	mu   sync.Mutex
	pool []scoring.Candidate
}

func NewStaticProvider(pool []scoring.Candidate) *StaticProvider {
	return &StaticProvider{pool: slices.Clone(pool)}
}

// FileProvider re-reads path on every call.
type FileProvider struct{ Path string }

func (p FileProvider) Candidates(context.Context) ([]scoring.Candidate, error) {
	return LoadFile(p.Path)
}

func (p *StaticProvider) Candidates(ctx context.Context) ([]scoring.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.pool), nil
}

// MarkUsed stamps the given keys as used at t.
func (p *StaticProvider) MarkUsed(t time.Time, keys ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.pool {
		if slices.Contains(keys, p.pool[i].Key) {
			ts := t
			p.pool[i].LastUsed = &ts
			p.pool[i].NeverUsed = false
		}
	}
}
