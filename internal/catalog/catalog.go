// Package catalog holds the static transaction type descriptors and the
// reference scheme derived from them. A Catalog is built once at start-up
// and shared read-only by every component.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed types.yaml
var defaultTypes []byte

// Copy holds the creation/success/failure variants of a message.
type Copy struct {
	Creation string `yaml:"creation"`
	Success  string `yaml:"success"`
	Failure  string `yaml:"failure"`
}

// Descriptor is the immutable configuration of one transaction type.
type Descriptor struct {
	Key             string          `yaml:"key"`
	Prefix          string          `yaml:"prefix"`
	Collection      string          `yaml:"collection"`
	Category        domain.Category `yaml:"category"`
	ServiceType     string          `yaml:"service_type"`
	Notification    Copy            `yaml:"notification"`
	Email           Copy            `yaml:"email"`
	AdminTitle      string          `yaml:"admin_title"`
	FeedType        string          `yaml:"feed_type"`
	TargetRoles     []string        `yaml:"target_roles"`
	StaffPermission string          `yaml:"staff_permission"`
}

type file struct {
	Default string       `yaml:"default"`
	Types   []Descriptor `yaml:"types"`
}

// Catalog indexes descriptors by key, prefix and service type.
type Catalog struct {
	fallback      string
	ordered       []Descriptor
	byKey         map[string]Descriptor
	byServiceType map[string]string
	// prefixes sorted longest first so resolution never matches a shorter prefix
	// that happens to be the start of a longer one.
	prefixes []string
	byPrefix map[string]string
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultTypes)
}

// Load reads a catalog from path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML and validates the prefix mapping is a bijection.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Types) == 0 {
		return nil, fmt.Errorf("catalog has no types")
	}

	c := &Catalog{
		fallback:      f.Default,
		byKey:         make(map[string]Descriptor, len(f.Types)),
		byServiceType: make(map[string]string),
		byPrefix:      make(map[string]string, len(f.Types)),
	}
	for _, d := range f.Types {
		if d.Key == "" || d.Prefix == "" || d.Collection == "" {
			return nil, fmt.Errorf("catalog type %q: key, prefix and collection are required", d.Key)
		}
		if _, dup := c.byKey[d.Key]; dup {
			return nil, fmt.Errorf("catalog type %q declared twice", d.Key)
		}
		if other, dup := c.byPrefix[d.Prefix]; dup {
			return nil, fmt.Errorf("prefix %q used by both %q and %q", d.Prefix, other, d.Key)
		}
		c.byKey[d.Key] = d
		c.byPrefix[d.Prefix] = d.Key
		c.prefixes = append(c.prefixes, d.Prefix)
		c.ordered = append(c.ordered, d)
		if d.ServiceType != "" {
			c.byServiceType[d.ServiceType] = d.Key
		}
	}
	if c.fallback == "" {
		c.fallback = f.Types[0].Key
	}
	if _, ok := c.byKey[c.fallback]; !ok {
		return nil, fmt.Errorf("default type %q is not declared", c.fallback)
	}
	sort.SliceStable(c.prefixes, func(i, j int) bool {
		return len(c.prefixes[i]) > len(c.prefixes[j])
	})
	return c, nil
}

// Lookup returns the descriptor for a type key.
func (c *Catalog) Lookup(key string) (Descriptor, bool) {
	d, ok := c.byKey[key]
	return d, ok
}

// Fallback is the descriptor used when a reference cannot be resolved.
func (c *Catalog) Fallback() Descriptor {
	return c.byKey[c.fallback]
}

// ByServiceType maps a record's serviceType tag back to its type key.
func (c *Catalog) ByServiceType(serviceType string) (Descriptor, bool) {
	key, ok := c.byServiceType[serviceType]
	if !ok {
		return Descriptor{}, false
	}
	return c.byKey[key], true
}

// Types returns every descriptor in declaration order.
func (c *Catalog) Types() []Descriptor {
	out := make([]Descriptor, len(c.ordered))
	copy(out, c.ordered)
	return out
}
