/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/anacrolix/dms/ssdp"
	"github.com/anacrolix/log"

	"github.com/friendsincode/mediabridge/internal/version"
)

// An interface with these flags should be valid for SSDP.
const ssdpInterfaceFlags = net.FlagUp | net.FlagMulticast

type advertisement struct {
	uuid     string
	devices  []string
	services []string
}

func (s *Server) advertisements() []advertisement {
	types := func(names []string) []string {
		out := make([]string, 0, len(names))
		for _, name := range names {
			if t, ok := s.dispatcher.Table(name); ok {
				out = append(out, t.Type)
			}
		}
		return out
	}
	return []advertisement{
		{uuid: s.desc.Server.UDN, devices: []string{mediaServerType}, services: types(serverServices)},
		{uuid: s.desc.Renderer.UDN, devices: []string{mediaRendererType}, services: types(rendererServices)},
	}
}

// ssdpInterfaces returns the interfaces to announce on, limited to names
// when given.
func ssdpInterfaces(names []string) ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		out := all[:0]
		for _, intf := range all {
			if intf.Flags&ssdpInterfaceFlags == ssdpInterfaceFlags && intf.Flags&net.FlagLoopback == 0 {
				out = append(out, intf)
			}
		}
		return out, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = true
	}
	var out []net.Interface
	for _, intf := range all {
		if want[intf.Name] {
			out = append(out, intf)
		}
	}
	return out, nil
}

// announceIP reports whether ip may be advertised given the HTTP bind
// address. SSDP only listens on IPv4 multicast.
func announceIP(bind string, ip net.IP) bool {
	switch bind {
	case "", "0.0.0.0":
		return ip.To4() != nil
	case "::":
		return true
	default:
		return bind == ip.String()
	}
}

func (s *Server) advertiseLocation(ip net.IP) string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(ip.String(), strconv.Itoa(s.cfg.HTTPPort)),
		Path:   rootDescPath,
	}
	return u.String()
}

// runSSDP announces both devices on every usable interface until ctx is done.
func (s *Server) runSSDP(ctx context.Context) {
	intfs, err := ssdpInterfaces(s.cfg.SSDPInterfaces)
	if err != nil {
		s.logger.Error().Err(err).Msg("list network interfaces failed")
		return
	}
	var wg sync.WaitGroup
	for _, intf := range intfs {
		for _, ad := range s.advertisements() {
			wg.Add(1)
			go func(intf net.Interface, ad advertisement) {
				defer wg.Done()
				s.ssdpInterface(ctx, intf, ad)
			}(intf, ad)
		}
	}
	wg.Wait()
}

func (s *Server) ssdpInterface(ctx context.Context, intf net.Interface, ad advertisement) {
	logger := s.logger.With().Str("component", "ssdp").Str("interface", intf.Name).Str("uuid", ad.uuid).Logger()

	srv := ssdp.Server{
		Interface: intf,
		Devices:   ad.devices,
		Services:  ad.services,
		IPFilter: func(ip net.IP) bool {
			return announceIP(s.cfg.HTTPBind, ip)
		},
		Location:       s.advertiseLocation,
		Server:         version.ServerHeader(),
		UUID:           ad.uuid,
		NotifyInterval: s.cfg.SSDPAnnounceInterval,
		Logger:         log.Default,
	}
	if err := srv.Init(); err != nil {
		if intf.Flags&ssdpInterfaceFlags != ssdpInterfaceFlags {
			return
		}
		// Interfaces that cannot open a socket are expected on some hosts.
		if strings.Contains(err.Error(), "listen") {
			logger.Debug().Err(err).Msg("ssdp unavailable on interface")
			return
		}
		logger.Error().Err(err).Msg("create ssdp server failed")
		return
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := srv.Serve(); err != nil {
			logger.Debug().Err(err).Msg("ssdp serve ended")
		}
	}()
	logger.Info().Msg("ssdp advertising started")

	select {
	case <-ctx.Done():
	case <-stopped:
	}
	srv.Close()
	<-stopped
}
