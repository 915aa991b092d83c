package scraper

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog tracks every Scraper an application has registered, keyed by
// name, so a long-lived process (the CLI, an embedding service) can start
// one by name without the caller threading a *Scraper through by hand.
type Catalog struct {
	mu       sync.RWMutex
	scrapers map[string]*Scraper
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{scrapers: make(map[string]*Scraper)}
}

// Register adds s to the catalog under s.Name. It returns an error if a
// scraper with that name is already registered.
func (c *Catalog) Register(s *Scraper) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.scrapers[s.Name]; exists {
		return fmt.Errorf("scraper: %q already registered", s.Name)
	}
	c.scrapers[s.Name] = s
	return nil
}

// Lookup returns the scraper registered under name, if any.
func (c *Catalog) Lookup(name string) (*Scraper, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scrapers[name]
	return s, ok
}

// Names returns every registered scraper name, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.scrapers))
	for name := range c.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is the process-wide catalog scraper packages register
// themselves into from an init function, and cmd/crawlkeep's run
// subcommand resolves names against.
var Default = NewCatalog()

// Register adds s to the Default catalog.
func Register(s *Scraper) error { return Default.Register(s) }

// Lookup resolves name against the Default catalog.
func Lookup(name string) (*Scraper, bool) { return Default.Lookup(name) }
