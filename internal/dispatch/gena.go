/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dispatch

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/upnpclient"
)

// DefaultEventTimeout is granted when a subscriber asks for none or infinite.
const DefaultEventTimeout = 1800

const notifyQueue = 16

// ErrUnknownSubscription is returned for a SID that is not subscribed.
var ErrUnknownSubscription = errors.New("dispatch: unknown subscription")

type subscription struct {
	sid       string
	callbacks []*url.URL
	expires   time.Time
	seq       uint32
	queue     chan []byte
}

// Publisher keeps the GENA subscriptions of one local service and sends
// NOTIFY requests when its evented variables change.
type Publisher struct {
	service string
	client  *http.Client
	logger  zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	values map[string]string
	now    func() time.Time
}

// NewPublisher creates a publisher for the named service.
func NewPublisher(service string, client *http.Client, logger zerolog.Logger) *Publisher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Publisher{
		service: service,
		client:  client,
		logger:  logger.With().Str("component", "gena_publisher").Str("service", service).Logger(),
		subs:    make(map[string]*subscription),
		values:  make(map[string]string),
		now:     time.Now,
	}
}

// Subscribe registers callback URLs and queues the initial event carrying
// every current value.
func (p *Publisher) Subscribe(callback []*url.URL, timeoutSeconds int) (string, int, error) {
	if len(callback) == 0 {
		return "", 0, errors.New("subscribe: no callback")
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultEventTimeout
	}
	sub := &subscription{
		sid:       "uuid:" + uuid.NewString(),
		callbacks: callback,
		expires:   p.now().Add(time.Duration(timeoutSeconds) * time.Second),
		queue:     make(chan []byte, notifyQueue),
	}
	go p.deliver(sub)

	p.mu.Lock()
	p.pruneLocked()
	p.subs[sub.sid] = sub
	initial := propertySet(p.values)
	p.mu.Unlock()

	p.enqueue(sub, initial)
	p.logger.Debug().Str("sid", sub.sid).Str("callback", callback[0].String()).Msg("subscribed")
	return sub.sid, timeoutSeconds, nil
}

// Renew extends a subscription.
func (p *Publisher) Renew(sid string, timeoutSeconds int) (int, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultEventTimeout
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[sid]
	if !ok || p.now().After(sub.expires) {
		return 0, ErrUnknownSubscription
	}
	sub.expires = p.now().Add(time.Duration(timeoutSeconds) * time.Second)
	return timeoutSeconds, nil
}

// Unsubscribe removes a subscription.
func (p *Publisher) Unsubscribe(sid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[sid]
	if !ok {
		return ErrUnknownSubscription
	}
	delete(p.subs, sid)
	close(sub.queue)
	return nil
}

// Subscribers returns the number of live subscriptions.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	return len(p.subs)
}

// Set updates evented variables and notifies every subscriber.
func (p *Publisher) Set(vars map[string]string) {
	p.mu.Lock()
	for k, v := range vars {
		p.values[k] = v
	}
	p.pruneLocked()
	body := propertySet(vars)
	subs := make([]*subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		p.enqueue(s, body)
	}
}

// Close drops every subscription.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sid, s := range p.subs {
		close(s.queue)
		delete(p.subs, sid)
	}
}

func (p *Publisher) pruneLocked() {
	now := p.now()
	for sid, s := range p.subs {
		if now.After(s.expires) {
			delete(p.subs, sid)
			close(s.queue)
			p.logger.Debug().Str("sid", sid).Msg("subscription expired")
		}
	}
}

func (p *Publisher) enqueue(s *subscription, body []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, live := p.subs[s.sid]; !live {
		return
	}
	select {
	case s.queue <- body:
	default:
		p.logger.Warn().Str("sid", s.sid).Msg("event queue full, dropping event")
	}
}

// deliver sends queued events for one subscription in order.
func (p *Publisher) deliver(s *subscription) {
	for body := range s.queue {
		p.mu.Lock()
		seq := s.seq
		s.seq++
		p.mu.Unlock()

		for _, cb := range s.callbacks {
			if err := p.send(cb, s.sid, seq, body); err != nil {
				p.logger.Debug().Err(err).Str("sid", s.sid).Str("callback", cb.String()).Msg("notify failed")
				continue
			}
			break
		}
	}
}

func (p *Publisher) send(cb *url.URL, sid string, seq uint32, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "NOTIFY", cb.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", sid)
	req.Header.Set("SEQ", strconv.FormatUint(uint64(seq), 10))
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// ServeHTTP answers SUBSCRIBE and UNSUBSCRIBE requests.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timeout := int(upnpclient.ParseTimeout(r.Header.Get("TIMEOUT"), DefaultEventTimeout*time.Second) / time.Second)
	sid := r.Header.Get("SID")

	switch r.Method {
	case "SUBSCRIBE":
		if sid != "" {
			if r.Header.Get("CALLBACK") != "" || r.Header.Get("NT") != "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			granted, err := p.Renew(sid, timeout)
			if err != nil {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			writeSubscribed(w, sid, granted)
			return
		}
		callbacks := parseCallbacks(r.Header.Get("CALLBACK"))
		if r.Header.Get("NT") != "upnp:event" || len(callbacks) == 0 {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		newSID, granted, err := p.Subscribe(callbacks, timeout)
		if err != nil {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		writeSubscribed(w, newSID, granted)
	case "UNSUBSCRIBE":
		if err := p.Unsubscribe(sid); err != nil {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeSubscribed(w http.ResponseWriter, sid string, granted int) {
	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", "Second-"+strconv.Itoa(granted))
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

// parseCallbacks reads a GENA CALLBACK header of the form <url1><url2>.
func parseCallbacks(h string) []*url.URL {
	var out []*url.URL
	for _, part := range strings.Split(h, ">") {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "<"))
		if part == "" {
			continue
		}
		u, err := url.Parse(part)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		out = append(out, u)
	}
	return out
}

type xmlPropertyValue struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type xmlOutProperty struct {
	Value xmlPropertyValue
}

type xmlOutPropertySet struct {
	XMLName    xml.Name         `xml:"e:propertyset"`
	NS         string           `xml:"xmlns:e,attr"`
	Properties []xmlOutProperty `xml:"e:property"`
}

func propertySet(vars map[string]string) []byte {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	set := xmlOutPropertySet{NS: "urn:schemas-upnp-org:event-1-0"}
	for _, n := range names {
		set.Properties = append(set.Properties, xmlOutProperty{Value: xmlPropertyValue{XMLName: xml.Name{Local: n}, Value: vars[n]}})
	}
	body, err := xml.Marshal(set)
	if err != nil {
		return nil
	}
	return append([]byte(xml.Header), body...)
}

type xmlLastChangeVal struct {
	XMLName xml.Name
	Val     string `xml:"val,attr"`
}

type xmlLastChangeInstance struct {
	Val    string             `xml:"val,attr"`
	Values []xmlLastChangeVal `xml:",any"`
}

type xmlLastChange struct {
	XMLName  xml.Name              `xml:"Event"`
	NS       string                `xml:"xmlns,attr"`
	Instance xmlLastChangeInstance `xml:"InstanceID"`
}

// LastChange renders an AVTransport LastChange document for instance 0.
func LastChange(vars map[string]string) string {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	ev := xmlLastChange{NS: "urn:schemas-upnp-org:metadata-1-0/AVT/", Instance: xmlLastChangeInstance{Val: "0"}}
	for _, n := range names {
		ev.Instance.Values = append(ev.Instance.Values, xmlLastChangeVal{XMLName: xml.Name{Local: n}, Val: vars[n]})
	}
	body, err := xml.Marshal(ev)
	if err != nil {
		return ""
	}
	return string(body)
}

// TransportEvents publishes machine state changes as LastChange events.
func TransportEvents(p *Publisher) func(models.TransportState) {
	p.Set(map[string]string{"LastChange": LastChange(map[string]string{"TransportState": string(models.TransportNoMediaPresent)})})
	return func(st models.TransportState) {
		p.Set(map[string]string{"LastChange": LastChange(map[string]string{"TransportState": string(st)})})
	}
}
