// File: runtime/loader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wires the dynamic application loader (component C10) to a running
// Runtime: symbol resolution against the host API table (component C11),
// and the high-level LoadAndStart convenience §4.10/§6 describe as the
// path a caller "should" take when any external symbol comes back
// unresolved.

package runtime

import (
	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/hostapi"
	"github.com/krakenos/kernel/loader"
)

// hostSymbolAddrs maps the canonical external symbol names a loaded image
// may reference to a synthetic, stable address. These are not real
// function pointers — Go offers no way to expose one to an arbitrary byte
// buffer — they are the bookkeeping address a relocation is patched with;
// a real machine-code target resolves the same name to an actual callable
// address instead. The name set mirrors hostapi.Table's call surface.
var hostSymbolAddrs = map[string]uint32{
	"host_register":            0x1001,
	"host_unregister":          0x1002,
	"host_set_state":           0x1003,
	"host_heartbeat":           0x1004,
	"host_register_event_type": 0x1005,
	"host_subscribe":           0x1006,
	"host_unsubscribe":         0x1007,
	"host_post":                0x1008,
	"host_malloc":              0x1009,
	"host_free":                0x100A,
	"host_log_write":           0x100B,
	"host_task_delay":          0x100C,
	"host_get_tick_count":      0x100D,
}

// resolveHostSymbol implements loader.SymbolResolver against the fixed
// host_* name set every loaded image is built against.
func resolveHostSymbol(name string) (uint32, bool) {
	addr, ok := hostSymbolAddrs[name]
	return addr, ok
}

// AppEntry stands in for jumping into a loaded image's machine code: Go
// cannot safely execute an arbitrary byte buffer as code, so LoadAndStart
// invokes this callback with the runtime's host API table instead of
// transferring control to LoadedImage.EntryAddr. A real target uses the
// same table from assembly or cgo; this seam lets the pipeline's symbol
// resolution, relocation and placement steps be exercised in pure Go.
type AppEntry func(tbl *hostapi.Table) error

// LoadAppOptions configures one LoadAndStart call.
type LoadAppOptions struct {
	Loader loader.Options
	Entry  AppEntry
}

// LoadAndStart runs the full load pipeline (component C10) over image,
// resolving external symbols against this runtime's host API table. Per
// the recorded Open Question decision (SPEC_FULL.md §F.2), any unresolved
// external symbol causes LoadAndStart to reject the image — even though
// loader.Load itself reports it as a structural success — since this is
// the "caller should refuse to start" policy path. Callers that want the
// "start anyway, trap on call" policy call loader.Load directly.
func (rt *Runtime) LoadAndStart(image []byte, opts LoadAppOptions) (*loader.LoadedImage, error) {
	loaderOpts := opts.Loader
	loaderOpts.Resolve = resolveHostSymbol

	res := loader.LoadResult(image, loaderOpts)
	li, err := res.Value, res.Err
	if err != nil {
		return nil, err
	}
	if len(li.UnresolvedSymbols) > 0 {
		_ = li.Unload()
		return nil, api.NewFault(api.CodeAppContextInvalid, "unresolved external symbols").
			WithContext("symbols", li.UnresolvedSymbols)
	}

	if opts.Entry != nil {
		if err := opts.Entry(rt.HostAPI()); err != nil {
			_ = li.Unload()
			return nil, err
		}
	}
	return li, nil
}
