package adapters

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the adapters known to the server, keyed by bidder code
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]AdapterWithInfo
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]AdapterWithInfo)}
}

// DefaultRegistry is the registry bidder packages register into from init()
var DefaultRegistry = NewRegistry()

// Register adds an adapter under bidderCode
func (r *Registry) Register(bidderCode string, adapter Adapter, info BidderInfo) error {
	code := strings.ToLower(strings.TrimSpace(bidderCode))
	if code == "" {
		return fmt.Errorf("bidder code is empty")
	}
	if adapter == nil {
		return fmt.Errorf("adapter for %s is nil", code)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[code]; exists {
		return fmt.Errorf("adapter %s already registered", code)
	}
	r.adapters[code] = AdapterWithInfo{Adapter: adapter, Info: info}
	return nil
}

// Get returns the adapter registered under bidderCode
func (r *Registry) Get(bidderCode string) (AdapterWithInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	awi, ok := r.adapters[strings.ToLower(bidderCode)]
	return awi, ok
}

// ListBidders returns the registered bidder codes in sorted order
func (r *Registry) ListBidders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ListEnabledBidders returns the codes of enabled adapters in sorted order
func (r *Registry) ListEnabledBidders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.adapters))
	for code, awi := range r.adapters {
		if awi.Info.Enabled {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// RegisterAdapter registers an adapter in DefaultRegistry
func RegisterAdapter(bidderCode string, adapter Adapter, info BidderInfo) error {
	return DefaultRegistry.Register(bidderCode, adapter, info)
}
