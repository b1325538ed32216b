// File: bus/common_events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A small set of event types most hosts need on day one, registered once
// at startup so built-in services and loaded apps don't each need to
// intern their own string for the common signals.

package bus

import "github.com/krakenos/kernel/api"

// CommonEventNames lists the names RegisterCommonEvents interns, in the
// stable order their ids are assigned.
var CommonEventNames = []string{
	"system.startup",
	"system.shutdown",
	"system.error",
	"network.connected",
	"network.disconnected",
	"network.got_ip",
	"network.lost_ip",
	"app.started",
	"app.stopped",
	"app.error",
	"user.input",
	"user.button",
}

// RegisterCommonEvents interns every name in CommonEventNames and returns
// the resulting name->id mapping. Safe to call more than once: RegisterType
// is itself idempotent.
func (b *Bus) RegisterCommonEvents() (map[string]api.EventTypeID, error) {
	out := make(map[string]api.EventTypeID, len(CommonEventNames))
	for _, name := range CommonEventNames {
		id, err := b.RegisterType(name)
		if err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, nil
}
