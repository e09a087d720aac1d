package kinematics

import "github.com/cylinderworks/cylinderworks/internal/core/assembly"

// Discovery is the outcome of matching a template table against constraints.
type Discovery struct {
	matches map[string]Match
	missing []string
}

// Discover scans constraints once per pattern. The first pattern to match a
// role wins; later patterns for the same role are fallbacks.
func Discover(templates Templates, constraints []assembly.Constraint) Discovery {
	d := Discovery{matches: make(map[string]Match)}
	seen := make(map[string]bool)

	for _, p := range templates.Patterns() {
		if _, done := d.matches[p.Role]; done {
			continue
		}
		for _, c := range constraints {
			if m, ok := p.Match(c); ok {
				d.matches[p.Role] = m
				break
			}
		}
		seen[p.Role] = true
	}

	for _, p := range templates.Patterns() {
		if _, ok := d.matches[p.Role]; !ok && seen[p.Role] {
			d.missing = append(d.missing, p.Role)
			seen[p.Role] = false
		}
	}
	return d
}

// Get returns the match for role.
func (d Discovery) Get(role string) (Match, bool) {
	m, ok := d.matches[role]
	return m, ok
}

// Missing lists roles no constraint satisfied, in table order.
func (d Discovery) Missing() []string {
	return append([]string(nil), d.missing...)
}

// Lookup returns every requested match, and the roles that were absent.
func (d Discovery) Lookup(patterns ...Pattern) ([]Match, []string) {
	out := make([]Match, len(patterns))
	var missing []string
	for i, p := range patterns {
		m, ok := d.matches[p.Role]
		if !ok {
			missing = append(missing, p.Role)
			continue
		}
		out[i] = m
	}
	return out, missing
}
