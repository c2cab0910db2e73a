package page

import (
	"sync"

	"mazalloc/internal/pagemap"
)

// global is the process-wide pointer-to-page resolver (spec §4.6): every
// page, regardless of which heap allocated it, registers its slice span
// here so any thread's Free can find the owning page from a raw address
// alone. It mirrors the teacher's single package-level singleton style
// (stats.Global, the gc/scavenger monitor package vars) rather than
// threading a table through every call site.
var global = pagemap.New()

var registry sync.Map // page base address (uintptr) -> *Page

// Register makes p resolvable by address. Must be called once, right
// after the page's slice run is carved from its arena.
func Register(p *Page) {
	global.Register(p.Base, int(p.Memid.SliceCount))
	registry.Store(p.Base, p)
}

// Unregister removes p from the resolver, called when its slices are
// returned to the arena.
func Unregister(p *Page) {
	global.Unregister(p.Base, int(p.Memid.SliceCount))
	registry.Delete(p.Base)
}

// Lookup resolves any address that falls inside a registered page back
// to that Page. It reports ok=false for an address that was never
// handed out by this allocator (an invalid free).
func Lookup(addr uintptr) (*Page, bool) {
	startSlice, ok := global.PageStartSlice(addr)
	if !ok {
		return nil, false
	}
	startAddr := uintptr(startSlice) << pagemap.SliceShift
	v, ok := registry.Load(startAddr)
	if !ok {
		return nil, false
	}
	return v.(*Page), true
}
