package permission

import "strings"

// Bits is a capability bitmask.
type Bits int

const (
	Read    Bits = 1 << 0
	Edit    Bits = 1 << 1
	Create  Bits = 1 << 2
	SetURL  Bits = 1 << 3
	SetTags Bits = 1 << 4

	All Bits = Read | Edit | Create | SetURL | SetTags

	// LockMask keeps only the read-class bits.
	LockMask Bits = All &^ (Edit | Create | SetURL | SetTags)
)

var names = []struct {
	bit  Bits
	name string
}{
	{Read, "read"},
	{Edit, "edit"},
	{Create, "create"},
	{SetURL, "set_url"},
	{SetTags, "set_tags"},
}

// Has reports whether every bit in mask is set.
func (b Bits) Has(mask Bits) bool {
	return b&mask == mask
}

func (b Bits) String() string {
	if b == 0 {
		return "none"
	}

	parts := make([]string, 0, len(names))
	for _, n := range names {
		if b.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseBits reads a list of capability names such as "read,edit".
func ParseBits(raw string) (Bits, bool) {
	var bits Bits
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		if part == "all" {
			bits |= All
			continue
		}

		found := false
		for _, n := range names {
			if n.name == part {
				bits |= n.bit
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return bits, true
}
