package cluster

import (
	"fmt"
	"math"
)

// Vacancy is the conventional name for the empty pseudo-species.
const Vacancy = "Vacancy"

type Species struct {
	Name    string
	Measure float64
}

// SiteSpace is an ordered set of allowed species for a structural position.
// The encoded occupancy of a species is its position in the ordering.
type SiteSpace struct {
	species []Species
}

func NewSiteSpace(species []Species) (SiteSpace, error) {
	if len(species) == 0 {
		return SiteSpace{}, fmt.Errorf("site space requires at least one species")
	}
	seen := make(map[string]bool, len(species))
	for _, sp := range species {
		if sp.Name == "" {
			return SiteSpace{}, fmt.Errorf("species name is required")
		}
		if seen[sp.Name] {
			return SiteSpace{}, fmt.Errorf("duplicate species in site space: %s", sp.Name)
		}
		if sp.Measure < 0 {
			return SiteSpace{}, fmt.Errorf("species %s has negative measure %v", sp.Name, sp.Measure)
		}
		seen[sp.Name] = true
	}
	owned := make([]Species, len(species))
	copy(owned, species)
	return SiteSpace{species: owned}, nil
}

func (s SiteSpace) Len() int {
	return len(s.species)
}

func (s SiteSpace) Species() []Species {
	out := make([]Species, len(s.species))
	copy(out, s.species)
	return out
}

func (s SiteSpace) Names() []string {
	names := make([]string, len(s.species))
	for i, sp := range s.species {
		names[i] = sp.Name
	}
	return names
}

func (s SiteSpace) Name(code int) (string, error) {
	if code < 0 || code >= len(s.species) {
		return "", fmt.Errorf("species code %d out of range for site space of %d species", code, len(s.species))
	}
	return s.species[code].Name, nil
}

// Code returns the encoded index of a species name, or -1 when not allowed.
func (s SiteSpace) Code(name string) int {
	for i, sp := range s.species {
		if sp.Name == name {
			return i
		}
	}
	return -1
}

func (s SiteSpace) Measures() []float64 {
	out := make([]float64, len(s.species))
	for i, sp := range s.species {
		out[i] = sp.Measure
	}
	return out
}

// MeasureSum reports the total measure. Callers warn when it deviates from 1;
// this is tolerated to admit degenerate inputs.
func (s SiteSpace) MeasureSum() float64 {
	sum := 0.0
	for _, sp := range s.species {
		sum += sp.Measure
	}
	return sum
}

func (s SiteSpace) MeasureIsNormalized() bool {
	return math.Abs(s.MeasureSum()-1.0) < 1e-8
}

func (s SiteSpace) Equal(other SiteSpace) bool {
	if len(s.species) != len(other.species) {
		return false
	}
	for i := range s.species {
		if s.species[i] != other.species[i] {
			return false
		}
	}
	return true
}
