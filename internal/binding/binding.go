// Package binding enumerates the alias bindings of a template.
//
// A template whose aliases expand to n1..nk candidates renders n1*...*nk
// instances. Enumeration is lazy and walks the product like an odometer,
// with aliases ordered by name and candidates in resolution order, so the
// instance numbering is reproducible for a fixed input.
package binding

import (
	"iter"
	"math"
	"sort"

	"github.com/blueprint-labs/blueprint/internal/domain"
)

// Binding assigns exactly one locator to every alias of a template.
type Binding struct {
	// Index is the zero-based position of the binding in enumeration order.
	Index  int
	names  []string
	values []domain.Locator
}

// Get returns the locator bound to alias.
func (b Binding) Get(alias string) (domain.Locator, bool) {
	i := sort.SearchStrings(b.names, alias)
	if i < len(b.names) && b.names[i] == alias {
		return b.values[i], true
	}
	return domain.Locator{}, false
}

// Aliases returns the bound alias names in enumeration order.
func (b Binding) Aliases() []string {
	return append([]string(nil), b.names...)
}

// Map copies the binding into a map.
func (b Binding) Map() map[string]domain.Locator {
	out := make(map[string]domain.Locator, len(b.names))
	for i, name := range b.names {
		out[name] = b.values[i]
	}
	return out
}

// Of builds a single binding from an explicit assignment.
func Of(index int, assignment map[string]domain.Locator) Binding {
	names := make([]string, 0, len(assignment))
	for name := range assignment {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]domain.Locator, len(names))
	for i, name := range names {
		values[i] = assignment[name]
	}
	return Binding{Index: index, names: names, values: values}
}

// Enumerator produces the Cartesian product of alias candidates.
type Enumerator struct {
	names []string
	lists [][]domain.Locator
}

// NewEnumerator snapshots aliases; later changes to the map are not observed.
func NewEnumerator(aliases map[string][]domain.Locator) *Enumerator {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	lists := make([][]domain.Locator, len(names))
	for i, name := range names {
		lists[i] = append([]domain.Locator(nil), aliases[name]...)
	}
	return &Enumerator{names: names, lists: lists}
}

// Len is the number of bindings, saturating at math.MaxInt.
func (e *Enumerator) Len() int {
	total := 1
	for _, list := range e.lists {
		n := len(list)
		if n == 0 {
			return 0
		}
		if total > math.MaxInt/n {
			return math.MaxInt
		}
		total *= n
	}
	return total
}

// Cardinality returns the candidate count of alias, or -1 when it is unknown.
func (e *Enumerator) Cardinality(alias string) int {
	i := sort.SearchStrings(e.names, alias)
	if i < len(e.names) && e.names[i] == alias {
		return len(e.lists[i])
	}
	return -1
}

// All yields every binding once. Each call starts a fresh enumeration.
func (e *Enumerator) All() iter.Seq[Binding] {
	return func(yield func(Binding) bool) {
		for _, list := range e.lists {
			if len(list) == 0 {
				return
			}
		}
		cursor := make([]int, len(e.lists))
		for index := 0; ; index++ {
			values := make([]domain.Locator, len(e.lists))
			for i, list := range e.lists {
				values[i] = list[cursor[i]]
			}
			if !yield(Binding{Index: index, names: e.names, values: values}) {
				return
			}
			// Advance the rightmost alias first.
			i := len(cursor) - 1
			for ; i >= 0; i-- {
				cursor[i]++
				if cursor[i] < len(e.lists[i]) {
					break
				}
				cursor[i] = 0
			}
			if i < 0 {
				return
			}
		}
	}
}
