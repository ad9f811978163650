package band

import (
	"fmt"
	"math"
	"strings"
)

// Band is one interval of a Table. A value v falls into the band when
// v <= Upper and v is greater than the previous band's Upper.
type Band struct {
	Label string
	Upper float64 // +Inf for the open top band
	Value float64 // optional numeric payload (multipliers, scale values)
}

// Table is an ordered list of upper-inclusive bands that together cover the
// whole real line: the first band extends to -Inf and the last to +Inf.
type Table struct {
	bands []Band
}

// New validates bands and returns a Table.
// Uppers must be strictly ascending and the last band must be open (+Inf).
func New(bands []Band) (Table, error) {
	if len(bands) == 0 {
		return Table{}, fmt.Errorf("band table is empty")
	}

	var errs []string
	for i, b := range bands {
		if b.Label == "" {
			errs = append(errs, fmt.Sprintf("band %d: label is required", i))
		}
		if math.IsNaN(b.Upper) {
			errs = append(errs, fmt.Sprintf("band %d (%s): upper bound is NaN", i, b.Label))
			continue
		}
		if i > 0 && b.Upper <= bands[i-1].Upper {
			errs = append(errs, fmt.Sprintf("band %d (%s): upper %g must be greater than %g", i, b.Label, b.Upper, bands[i-1].Upper))
		}
	}
	if last := bands[len(bands)-1]; !math.IsInf(last.Upper, 1) {
		errs = append(errs, fmt.Sprintf("last band (%s) must be open-ended, got upper %g", last.Label, last.Upper))
	}

	if len(errs) > 0 {
		return Table{}, fmt.Errorf("invalid band table:\n  %s", strings.Join(errs, "\n  "))
	}

	out := make([]Band, len(bands))
	copy(out, bands)
	return Table{bands: out}, nil
}

// MustNew is New that panics on an invalid table. For package-level defaults.
func MustNew(bands []Band) Table {
	t, err := New(bands)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the band containing v.
// Callers must not pass NaN; it lands in the open top band.
func (t Table) Lookup(v float64) Band {
	for _, b := range t.bands {
		if v <= b.Upper {
			return b
		}
	}
	return t.bands[len(t.bands)-1]
}

// Bands returns a copy of the table's bands in ascending order.
func (t Table) Bands() []Band {
	out := make([]Band, len(t.bands))
	copy(out, t.bands)
	return out
}

// Labels returns band labels in ascending order.
func (t Table) Labels() []string {
	out := make([]string, len(t.bands))
	for i, b := range t.bands {
		out[i] = b.Label
	}
	return out
}

// Len returns the number of bands.
func (t Table) Len() int { return len(t.bands) }

// Describe renders the interval a band covers, e.g. "(13, 16]".
func (t Table) Describe(i int) string {
	lower := "-inf"
	if i > 0 {
		lower = fmt.Sprintf("%g", t.bands[i-1].Upper)
	}
	upper := "+inf)"
	if !math.IsInf(t.bands[i].Upper, 1) {
		upper = fmt.Sprintf("%g]", t.bands[i].Upper)
	}
	return fmt.Sprintf("(%s, %s", lower, upper)
}
