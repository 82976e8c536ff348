package catalog

import (
	"fmt"
	"strings"
)

// Resolution is the result of splitting a transaction reference.
type Resolution struct {
	Type      Descriptor
	RawRef    string
	Reference string
	// Matched is false when no prefix matched and the fallback type was used.
	Matched bool
}

// Generate derives the transaction reference for a gateway-issued raw reference.
func (c *Catalog) Generate(typeKey, rawRef string) (string, error) {
	d, ok := c.byKey[typeKey]
	if !ok {
		return "", fmt.Errorf("unknown transaction type %q", typeKey)
	}
	if rawRef == "" {
		return "", fmt.Errorf("empty gateway reference")
	}
	return d.Prefix + rawRef, nil
}

// Resolve splits reference into its type and raw gateway reference.
// Prefixes are tried longest first and must match exactly at the start.
// An unknown prefix resolves to the fallback type with the reference as raw ref.
func (c *Catalog) Resolve(reference string) Resolution {
	for _, p := range c.prefixes {
		if strings.HasPrefix(reference, p) && len(reference) > len(p) {
			return Resolution{
				Type:      c.byKey[c.byPrefix[p]],
				RawRef:    reference[len(p):],
				Reference: reference,
				Matched:   true,
			}
		}
	}
	return Resolution{
		Type:      c.Fallback(),
		RawRef:    reference,
		Reference: reference,
	}
}

// Candidates lists, in declaration order, the reference each type would give rawRef.
// It is used to locate a record when only the raw gateway reference is known.
func (c *Catalog) Candidates(rawRef string) []Resolution {
	out := make([]Resolution, 0, len(c.ordered))
	for _, d := range c.ordered {
		out = append(out, Resolution{Type: d, RawRef: rawRef, Reference: d.Prefix + rawRef, Matched: true})
	}
	return out
}
