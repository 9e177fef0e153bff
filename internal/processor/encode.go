package processor

import "fmt"

// EncodeOccupancy converts species names to encoded site values using each
// site's allowed-species ordering.
func (p *Processor) EncodeOccupancy(names []string) ([]int, error) {
	if len(names) != len(p.allowed) {
		return nil, fmt.Errorf("occupancy has %d sites, want %d", len(names), len(p.allowed))
	}
	out := make([]int, len(names))
	for site, name := range names {
		code := -1
		for c, allowed := range p.allowed[site] {
			if allowed == name {
				code = c
				break
			}
		}
		if code < 0 {
			return nil, fmt.Errorf("species %q not allowed at site %d (allowed %v)", name, site, p.allowed[site])
		}
		out[site] = code
	}
	return out, nil
}

// DecodeOccupancy converts encoded site values back to species names.
func (p *Processor) DecodeOccupancy(occ []int) ([]string, error) {
	if err := p.ValidateOccupancy(occ); err != nil {
		return nil, err
	}
	out := make([]string, len(occ))
	for site, code := range occ {
		out[site] = p.allowed[site][code]
	}
	return out, nil
}
