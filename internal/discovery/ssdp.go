/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alexballas/go-ssdp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/models"
)

// Search targets used for active discovery.
var SearchTargets = []string{
	"urn:schemas-upnp-org:device:MediaServer:1",
	"urn:schemas-upnp-org:device:MediaRenderer:1",
}

// ScannerConfig tunes the SSDP scanner.
type ScannerConfig struct {
	SearchInterval time.Duration // period between active searches
	SearchWait     int           // MX seconds per search
	Expiry         time.Duration // devices silent for this long are dropped
}

type device struct {
	descriptionURL string
	lastSeen       time.Time
	gen            int
}

// Scanner feeds a Registry from SSDP alive/bye notifications and periodic
// M-SEARCH requests.
type Scanner struct {
	registry  *Registry
	describer *Describer
	cfg       ScannerConfig
	logger    zerolog.Logger

	mu      sync.Mutex
	devices map[string]*device // keyed by device UUID
}

// NewScanner creates a scanner. Zero config fields take defaults.
func NewScanner(registry *Registry, describer *Describer, cfg ScannerConfig, logger zerolog.Logger) *Scanner {
	if cfg.SearchInterval <= 0 {
		cfg.SearchInterval = 5 * time.Minute
	}
	if cfg.SearchWait <= 0 {
		cfg.SearchWait = 2
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 3 * cfg.SearchInterval
	}
	return &Scanner{
		registry:  registry,
		describer: describer,
		cfg:       cfg,
		logger:    logger.With().Str("component", "ssdp_scanner").Logger(),
		devices:   make(map[string]*device),
	}
}

// Run listens for notifications and searches until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	mon := &ssdp.Monitor{
		Alive: func(m *ssdp.AliveMessage) {
			go s.Seen(ctx, m.Type, m.USN, m.Location)
		},
		Bye: func(m *ssdp.ByeMessage) {
			s.Gone(m.USN)
		},
	}
	if err := mon.Start(); err != nil {
		s.logger.Warn().Err(err).Msg("ssdp monitor unavailable, relying on search")
	} else {
		defer mon.Close()
	}

	s.Search(ctx)
	ticker := time.NewTicker(s.cfg.SearchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Search(ctx)
			s.Expire(time.Now())
		}
	}
}

// Search issues one M-SEARCH per target and records every response.
func (s *Scanner) Search(ctx context.Context) {
	var wg sync.WaitGroup
	for _, st := range SearchTargets {
		list, err := ssdp.Search(st, s.cfg.SearchWait, "")
		if err != nil {
			s.logger.Debug().Err(err).Str("st", st).Msg("ssdp search failed")
			continue
		}
		for _, srv := range list {
			wg.Add(1)
			go func(typ, usn, loc string) {
				defer wg.Done()
				s.Seen(ctx, typ, usn, loc)
			}(srv.Type, srv.USN, srv.Location)
		}
	}
	wg.Wait()
}

// Seen handles one announcement of a device or service of type nt.
func (s *Scanner) Seen(ctx context.Context, nt, usn, location string) {
	if location == "" || !relevant(nt) {
		return
	}
	id := deviceUUID(usn)
	if id == "" {
		id = location
	}

	s.mu.Lock()
	d, ok := s.devices[id]
	if !ok || d.descriptionURL != location {
		d = &device{descriptionURL: location}
		s.devices[id] = d
	}
	d.lastSeen = time.Now()
	gen := d.gen
	s.mu.Unlock()

	services, err := s.describer.Describe(ctx, location)
	if err != nil {
		s.logger.Debug().Err(err).Str("location", location).Msg("device description fetch failed")
		return
	}

	s.mu.Lock()
	cur, ok := s.devices[id]
	stale := !ok || cur.gen != gen || cur.descriptionURL != location
	s.mu.Unlock()
	if stale {
		return
	}
	for _, svc := range services {
		if svc.Kind() != "" {
			s.registry.Announce(svc)
		}
	}
}

// Gone handles a byebye for usn.
func (s *Scanner) Gone(usn string) {
	id := deviceUUID(usn)
	s.mu.Lock()
	d, ok := s.devices[id]
	if ok {
		d.gen++
		delete(s.devices, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.describer.Forget(d.descriptionURL)
	s.registry.DisappearDevice(d.descriptionURL)
}

// Expire drops devices not seen since now - Expiry.
func (s *Scanner) Expire(now time.Time) {
	var gone []string
	s.mu.Lock()
	for id, d := range s.devices {
		if now.Sub(d.lastSeen) > s.cfg.Expiry {
			gone = append(gone, id)
		}
	}
	s.mu.Unlock()
	for _, id := range gone {
		s.Gone(id)
	}
}

func relevant(nt string) bool {
	if nt == "" || nt == "upnp:rootdevice" || strings.HasPrefix(nt, "uuid:") {
		return true
	}
	for _, st := range SearchTargets {
		if nt == st {
			return true
		}
	}
	return models.KindOf(nt) != ""
}

// deviceUUID extracts "uuid:..." from a USN like "uuid:x::urn:...".
func deviceUUID(usn string) string {
	if i := strings.Index(usn, "::"); i >= 0 {
		usn = usn[:i]
	}
	return strings.TrimSpace(usn)
}
