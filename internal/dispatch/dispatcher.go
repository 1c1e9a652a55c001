/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dispatch routes named UPnP actions to the local services and to
// remote renderers, and exposes them over SOAP and GENA.
package dispatch

import (
	"context"
	"fmt"

	"github.com/anacrolix/dms/upnp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/contentdir"
	"github.com/friendsincode/mediabridge/internal/logbuffer"
	"github.com/friendsincode/mediabridge/internal/telemetry"
	"github.com/friendsincode/mediabridge/internal/transport"
)

// Service handles the actions of one local service.
type Service interface {
	Handle(ctx context.Context, action string, args map[string]string) (map[string]string, error)
}

// RemoteInvoker calls actions on discovered remote services. It returns nil
// when the call could not be made.
type RemoteInvoker interface {
	Invoke(ctx context.Context, location, method string, inputs map[string]string) map[string]string
}

// Dispatcher is the action boundary of the device.
type Dispatcher struct {
	tables   map[string]*ServiceTable
	ordered  []*ServiceTable
	services map[string]Service
	remote   RemoteInvoker
	diag     *logbuffer.Buffer
	logger   zerolog.Logger
}

// New wires the local services. remote and diag may be nil.
func New(cd *contentdir.Service, machine *transport.Machine, remote RemoteInvoker, diag *logbuffer.Buffer, logger zerolog.Logger) (*Dispatcher, error) {
	tbls, err := Tables()
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		tables:  make(map[string]*ServiceTable, len(tbls)),
		ordered: tbls,
		services: map[string]Service{
			"ContentDirectory":  &contentDirectoryService{cd: cd},
			"AVTransport":       &avTransportService{machine: machine},
			"RenderingControl":  &renderingControlService{machine: machine},
			"ConnectionManager": &connectionManagerService{},
		},
		remote: remote,
		diag:   diag,
		logger: logger.With().Str("component", "dispatch").Logger(),
	}
	for _, t := range tbls {
		d.tables[t.Name] = t
	}
	return d, nil
}

// Tables returns the service tables in declaration order.
func (d *Dispatcher) Tables() []*ServiceTable { return d.ordered }

// Table returns the table of the named service.
func (d *Dispatcher) Table(service string) (*ServiceTable, bool) {
	t, ok := d.tables[service]
	return t, ok
}

// Dispatch runs action on the named local service. Unknown services and
// actions are UPnP invalid-action errors. Declared outputs the handler left
// unset are returned empty.
func (d *Dispatcher) Dispatch(ctx context.Context, service, action string, args map[string]string) (out map[string]string, err error) {
	ctx, span := telemetry.StartAction(ctx, telemetry.SideServer, service, action, service)
	defer func() { telemetry.EndAction(span, err) }()

	table, ok := d.tables[service]
	svc, ok2 := d.services[service]
	if !ok || !ok2 {
		d.notFound(service, action, "unknown service")
		return nil, upnp.Errorf(upnp.InvalidActionErrorCode, "Invalid service: %s", service)
	}
	def, ok := table.Action(action)
	if !ok {
		d.notFound(service, action, "unknown action")
		return nil, upnp.InvalidActionError
	}

	in := make(map[string]string, len(def.In))
	for _, arg := range def.In {
		in[arg.Name] = args[arg.Name]
	}
	out, err = svc.Handle(ctx, action, in)
	if err != nil {
		telemetry.ActionInvocationsTotal.WithLabelValues(service, action, "error").Inc()
		d.logger.Warn().Err(err).Str("service", service).Str("action", action).Msg("action failed")
		return nil, err
	}
	telemetry.ActionInvocationsTotal.WithLabelValues(service, action, "ok").Inc()

	res := make(map[string]string, len(def.Out))
	for _, arg := range def.Out {
		res[arg.Name] = out[arg.Name]
	}
	return res, nil
}

// Remote invokes method on the remote service at location.
func (d *Dispatcher) Remote(ctx context.Context, location, method string, inputs map[string]string) map[string]string {
	if d.remote == nil {
		d.notFound(location, method, "no remote invoker")
		return nil
	}
	return d.remote.Invoke(ctx, location, method, inputs)
}

func (d *Dispatcher) notFound(service, action, reason string) {
	telemetry.ActionInvocationsTotal.WithLabelValues(service, action, "not_found").Inc()
	d.logger.Warn().Str("service", service).Str("action", action).Msg(reason)
	if d.diag != nil {
		d.diag.Record("warn", "dispatch", reason, map[string]interface{}{
			"service": service,
			"action":  action,
		})
	}
}

// outputOrder lists the declared outputs of an action.
func (d *Dispatcher) outputOrder(service, action string) []string {
	t, ok := d.tables[service]
	if !ok {
		return nil
	}
	def, ok := t.Action(action)
	if !ok {
		return nil
	}
	names := make([]string, len(def.Out))
	for i, a := range def.Out {
		names[i] = a.Name
	}
	return names
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("dispatcher(%d services)", len(d.services))
}
