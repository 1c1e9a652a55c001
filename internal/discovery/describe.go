/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/mediabridge/internal/models"
)

const maxDescriptionSize = 1 << 20

type xmlIcon struct {
	MimeType string `xml:"mimetype"`
	Width    int    `xml:"width"`
	Height   int    `xml:"height"`
	Depth    int    `xml:"depth"`
	URL      string `xml:"url"`
}

type xmlService struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

type xmlDevice struct {
	DeviceType   string       `xml:"deviceType"`
	FriendlyName string       `xml:"friendlyName"`
	Manufacturer string       `xml:"manufacturer"`
	ModelName    string       `xml:"modelName"`
	UDN          string       `xml:"UDN"`
	Icons        []xmlIcon    `xml:"iconList>icon"`
	Services     []xmlService `xml:"serviceList>service"`
	Devices      []xmlDevice  `xml:"deviceList>device"`
}

type xmlRoot struct {
	XMLName xml.Name  `xml:"root"`
	URLBase string    `xml:"URLBase"`
	Device  xmlDevice `xml:"device"`
}

// ParseDescription extracts the services of a device description fetched
// from descriptionURL, including embedded devices. Relative URLs resolve
// against URLBase when present, otherwise against descriptionURL.
func ParseDescription(descriptionURL string, body []byte) ([]models.DiscoveredService, error) {
	var root xmlRoot
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("parse device description: %w", err)
	}
	base, err := url.Parse(descriptionURL)
	if err != nil {
		return nil, fmt.Errorf("parse description url: %w", err)
	}
	if root.URLBase != "" {
		if b, err := url.Parse(strings.TrimSpace(root.URLBase)); err == nil && b.IsAbs() {
			base = b
		}
	}

	var out []models.DiscoveredService
	var walk func(d xmlDevice)
	walk = func(d xmlDevice) {
		icons := make([]models.Icon, 0, len(d.Icons))
		for _, ic := range d.Icons {
			icons = append(icons, models.Icon{
				MimeType: ic.MimeType,
				Width:    ic.Width,
				Height:   ic.Height,
				Depth:    ic.Depth,
				URL:      resolve(base, ic.URL),
			})
		}
		for _, s := range d.Services {
			out = append(out, models.DiscoveredService{
				Location:             resolve(base, s.SCPDURL),
				ServiceType:          strings.TrimSpace(s.ServiceType),
				ServiceID:            strings.TrimSpace(s.ServiceID),
				FriendlyName:         strings.TrimSpace(d.FriendlyName),
				Manufacturer:         strings.TrimSpace(d.Manufacturer),
				ModelName:            strings.TrimSpace(d.ModelName),
				UDN:                  strings.TrimSpace(d.UDN),
				Icons:                icons,
				DeviceDescriptionURL: descriptionURL,
				ControlURL:           resolve(base, s.ControlURL),
				EventSubURL:          resolve(base, s.EventSubURL),
				SCPDURL:              resolve(base, s.SCPDURL),
			})
		}
		for _, child := range d.Devices {
			walk(child)
		}
	}
	walk(root.Device)
	return out, nil
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

type cachedDescription struct {
	services []models.DiscoveredService
	fetched  time.Time
}

// Describer fetches device descriptions, deduplicating concurrent fetches
// of the same URL and caching results for ttl.
type Describer struct {
	client *http.Client
	ttl    time.Duration

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedDescription
}

// NewDescriber returns a Describer using client.
func NewDescriber(client *http.Client, ttl time.Duration) *Describer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Describer{client: client, ttl: ttl, cache: make(map[string]cachedDescription)}
}

// Describe returns the services of the device at descriptionURL.
func (d *Describer) Describe(ctx context.Context, descriptionURL string) ([]models.DiscoveredService, error) {
	d.mu.Lock()
	if c, ok := d.cache[descriptionURL]; ok && time.Since(c.fetched) < d.ttl {
		d.mu.Unlock()
		return c.services, nil
	}
	d.mu.Unlock()

	v, err, _ := d.group.Do(descriptionURL, func() (any, error) {
		services, err := d.fetch(ctx, descriptionURL)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.cache[descriptionURL] = cachedDescription{services: services, fetched: time.Now()}
		d.mu.Unlock()
		return services, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.DiscoveredService), nil
}

// Forget drops the cached description.
func (d *Describer) Forget(descriptionURL string) {
	d.mu.Lock()
	delete(d.cache, descriptionURL)
	d.mu.Unlock()
}

func (d *Describer) fetch(ctx context.Context, descriptionURL string) ([]models.DiscoveredService, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptionURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", descriptionURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", descriptionURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptionSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", descriptionURL, err)
	}
	return ParseDescription(descriptionURL, body)
}
