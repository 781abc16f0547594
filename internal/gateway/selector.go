package gateway

// Selector picks a set of point value keys. It is a closed union of
// ByKeys, ByPointIDs, ByDeviceIDs and BySite; selectors are resolved once
// into a flat key set and never stored.
type Selector interface {
	isSelector()
	empty() bool
}

// ByKeys selects explicit keys, fully qualified or relative ("device:{id}:{name}").
type ByKeys []string

// ByPointIDs selects data points by directory id.
type ByPointIDs []int64

// ByDeviceIDs selects every known point of the given devices.
type ByDeviceIDs []int64

// BySite selects every known point of every device installed at a site.
type BySite int64

func (ByKeys) isSelector()      {}
func (ByPointIDs) isSelector()  {}
func (ByDeviceIDs) isSelector() {}
func (BySite) isSelector()      {}

func (s ByKeys) empty() bool      { return len(s) == 0 }
func (s ByPointIDs) empty() bool  { return len(s) == 0 }
func (s ByDeviceIDs) empty() bool { return len(s) == 0 }
func (s BySite) empty() bool      { return s <= 0 }

// hasSelector reports whether at least one selector is non-empty.
func hasSelector(selectors []Selector) bool {
	for _, s := range selectors {
		if s != nil && !s.empty() {
			return true
		}
	}
	return false
}
