package mapset

import (
	"fmt"

	"pisa/pkg/fingerprint"
)

// MapSet is an ordered collection of uniquely named Maps carrying the
// fingerprint of the computation that produced it.
type MapSet struct {
	maps  []Map
	index map[string]int
	fp    fingerprint.Fingerprint
}

// Build constructs a MapSet, atomically attaching the fingerprint derived by
// the producing service. The fingerprint must be non-zero and map names must
// be unique; there is no way to alter either afterwards.
func Build(fp fingerprint.Fingerprint, maps ...Map) (MapSet, error) {
	if fp.IsZero() {
		return MapSet{}, fmt.Errorf("mapset requires a derived fingerprint")
	}
	if len(maps) == 0 {
		return MapSet{}, fmt.Errorf("mapset requires at least one map")
	}
	index := make(map[string]int, len(maps))
	cloned := make([]Map, len(maps))
	for i, m := range maps {
		if m.Name() == "" {
			return MapSet{}, fmt.Errorf("mapset contains an unnamed map at index %d", i)
		}
		if _, dup := index[m.Name()]; dup {
			return MapSet{}, fmt.Errorf("duplicate map name %q", m.Name())
		}
		index[m.Name()] = i
		cloned[i] = m
	}
	return MapSet{maps: cloned, index: index, fp: fp}, nil
}

// Fingerprint returns the attached fingerprint.
func (s MapSet) Fingerprint() fingerprint.Fingerprint { return s.fp }

// Len returns the number of maps.
func (s MapSet) Len() int { return len(s.maps) }

// Names returns map names in order.
func (s MapSet) Names() []string {
	out := make([]string, len(s.maps))
	for i, m := range s.maps {
		out[i] = m.Name()
	}
	return out
}

// Get returns the named map.
func (s MapSet) Get(name string) (Map, bool) {
	i, ok := s.index[name]
	if !ok {
		return Map{}, false
	}
	return s.maps[i], true
}

// Maps returns the maps in order.
func (s MapSet) Maps() []Map {
	return append([]Map(nil), s.maps...)
}
