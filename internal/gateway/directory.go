package gateway

import (
	"fmt"
	"sort"
	"strings"
)

// Directory maps bank codes to bank names. It is loaded once from
// configuration and never mutated afterwards.
type Directory struct {
	banks map[string]string
}

// ParseDirectory reads comma-separated code=name pairs.
func ParseDirectory(raw string) (Directory, error) {
	banks := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, name, ok := strings.Cut(pair, "=")
		code = strings.ToUpper(strings.TrimSpace(code))
		if !ok || code == "" {
			return Directory{}, fmt.Errorf("invalid bank directory entry %q", pair)
		}
		banks[code] = strings.TrimSpace(name)
	}
	return Directory{banks: banks}, nil
}

// NewDirectory builds a directory from an explicit mapping.
func NewDirectory(banks map[string]string) Directory {
	copied := make(map[string]string, len(banks))
	for code, name := range banks {
		copied[strings.ToUpper(code)] = name
	}
	return Directory{banks: copied}
}

// Empty reports whether no banks are configured.
func (d Directory) Empty() bool { return len(d.banks) == 0 }

// Lookup returns the bank name for code.
func (d Directory) Lookup(code string) (string, bool) {
	name, ok := d.banks[strings.ToUpper(strings.TrimSpace(code))]
	return name, ok
}

// Codes lists the configured bank codes in order.
func (d Directory) Codes() []string {
	out := make([]string, 0, len(d.banks))
	for code := range d.banks {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
