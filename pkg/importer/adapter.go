// CLAUDE:SUMMARY Registry of reference-data import adapters (La Poste postcodes, INSEE communes) and the environment they write into.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hazyhaar/french-cities/pkg/cache"
	"github.com/hazyhaar/french-cities/pkg/postal"
)

// Targets of an import.
const (
	TargetPostal = "postal"
	TargetAreas  = "areas"
)

// Adapter defines a reference-data source: it downloads a public file and
// loads it into the local stores.
type Adapter interface {
	// ID returns the unique identifier of this adapter (e.g. "laposte-hexasmal").
	ID() string
	// Target names the store the import feeds (TargetPostal, TargetAreas).
	Target() string
	// Description returns a human-readable description.
	Description() string
	// DefaultURL returns the default source URL used for seeding the database.
	DefaultURL() string
	// License returns the license identifier for this source (e.g. "Licence Ouverte").
	License() string
	// Import downloads the source from sourceURL and loads it through env.
	Import(ctx context.Context, sourceURL string, env *Env) error
}

// Env is what an import writes into.
type Env struct {
	// WorkDir receives downloads (removed afterwards) and import manifests.
	WorkDir string
	Postal  *postal.Store
	Cache   cache.Store
	Logger  *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// Register adds an adapter to the global registry.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	adapters[a.ID()] = a
}

// Get returns a registered adapter by ID, or an error if not found.
func Get(id string) (Adapter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[id]
	if !ok {
		return nil, fmt.Errorf("unknown import source: %q", id)
	}
	return a, nil
}

// All returns all registered adapters sorted by ID.
func All() []Adapter {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
