/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package upnpclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/models"
)

// DefaultSubscriptionTimeout is requested from publishers.
const DefaultSubscriptionTimeout = 1800 * time.Second

const maxEarlyEvents = 64

// Subscribe opens a GENA subscription on eventSubURL delivering to callback.
func (c *Client) Subscribe(ctx context.Context, eventSubURL, callback string, timeout time.Duration) (string, time.Duration, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "SUBSCRIBE", eventSubURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("CALLBACK", "<"+callback+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", formatTimeout(timeout))
	return c.doSubscribe(req, timeout)
}

// Renew extends an existing subscription.
func (c *Client) Renew(ctx context.Context, eventSubURL, sid string, timeout time.Duration) (string, time.Duration, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "SUBSCRIBE", eventSubURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", formatTimeout(timeout))
	return c.doSubscribe(req, timeout)
}

func (c *Client) doSubscribe(req *retryablehttp.Request, requested time.Duration) (string, time.Duration, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("subscribe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("subscribe: status %d", resp.StatusCode)
	}
	sid := resp.Header.Get("SID")
	if sid == "" {
		return "", 0, fmt.Errorf("subscribe: response has no SID")
	}
	return sid, ParseTimeout(resp.Header.Get("TIMEOUT"), requested), nil
}

// Unsubscribe cancels a subscription.
func (c *Client) Unsubscribe(ctx context.Context, eventSubURL, sid string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "UNSUBSCRIBE", eventSubURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("SID", sid)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unsubscribe: status %d", resp.StatusCode)
	}
	return nil
}

func formatTimeout(d time.Duration) string {
	if d <= 0 {
		return "infinite"
	}
	return "Second-" + strconv.Itoa(int(d/time.Second))
}

// ParseTimeout parses a "Second-N" header, returning def when absent or infinite.
func ParseTimeout(v string, def time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(strings.ToLower(v), "second-") {
		return def
	}
	n, err := strconv.Atoi(v[len("second-"):])
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

type xmlProperty struct {
	Inner []byte `xml:",innerxml"`
}

type xmlPropertySet struct {
	Properties []xmlProperty `xml:"property"`
}

// ParsePropertySet decodes a NOTIFY body into variable name -> value.
func ParsePropertySet(body []byte) (map[string]string, error) {
	var set xmlPropertySet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse propertyset: %w", err)
	}
	vars := make(map[string]string)
	for _, p := range set.Properties {
		d := xml.NewDecoder(bytes.NewReader(p.Inner))
		for {
			tok, err := d.Token()
			if err != nil {
				break
			}
			if se, ok := tok.(xml.StartElement); ok {
				var v string
				if err := d.DecodeElement(&v, &se); err != nil {
					return nil, fmt.Errorf("parse property %s: %w", se.Name.Local, err)
				}
				vars[se.Name.Local] = v
			}
		}
	}
	return vars, nil
}

// InstanceChange holds the variables LastChange reported for one instance.
type InstanceChange struct {
	InstanceID string
	Values     map[string]string
}

type xmlVal struct {
	XMLName xml.Name
	Val     string `xml:"val,attr"`
}

type xmlInstance struct {
	ID     string   `xml:"val,attr"`
	Values []xmlVal `xml:",any"`
}

type xmlEvent struct {
	Instances []xmlInstance `xml:"InstanceID"`
}

// ParseLastChange decodes an AVTransport/RenderingControl LastChange value.
func ParseLastChange(doc string) ([]InstanceChange, error) {
	var ev xmlEvent
	if err := xml.Unmarshal([]byte(doc), &ev); err != nil {
		return nil, fmt.Errorf("parse LastChange: %w", err)
	}
	out := make([]InstanceChange, 0, len(ev.Instances))
	for _, inst := range ev.Instances {
		ch := InstanceChange{InstanceID: inst.ID, Values: make(map[string]string, len(inst.Values))}
		for _, v := range inst.Values {
			ch.Values[v.XMLName.Local] = v.Val
		}
		out = append(out, ch)
	}
	return out, nil
}

// Listener receives NOTIFY requests and routes them by SID.
type Listener struct {
	logger zerolog.Logger

	mu       sync.Mutex
	handlers map[string]func(map[string]string)
	early    map[string]map[string]string
}

// NewListener creates an empty Listener.
func NewListener(logger zerolog.Logger) *Listener {
	return &Listener{
		logger:   logger.With().Str("component", "gena_listener").Logger(),
		handlers: make(map[string]func(map[string]string)),
		early:    make(map[string]map[string]string),
	}
}

// Register routes events for sid to fn. An event that arrived before
// registration is delivered immediately.
func (l *Listener) Register(sid string, fn func(map[string]string)) {
	l.mu.Lock()
	l.handlers[sid] = fn
	pending, ok := l.early[sid]
	delete(l.early, sid)
	l.mu.Unlock()
	if ok {
		fn(pending)
	}
}

// Unregister stops routing events for sid.
func (l *Listener) Unregister(sid string) {
	l.mu.Lock()
	delete(l.handlers, sid)
	delete(l.early, sid)
	l.mu.Unlock()
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "NOTIFY" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sid := r.Header.Get("SID")
	if sid == "" || r.Header.Get("NT") != "upnp:event" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	vars, err := ParsePropertySet(body)
	if err != nil {
		l.logger.Debug().Err(err).Str("sid", sid).Msg("bad event body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	l.mu.Lock()
	fn, ok := l.handlers[sid]
	if !ok {
		if len(l.early) >= maxEarlyEvents {
			clear(l.early)
		}
		l.early[sid] = vars
	}
	l.mu.Unlock()
	if ok {
		fn(vars)
	}
	w.WriteHeader(http.StatusOK)
}

// Subscriber keeps GENA subscriptions alive and delivers their events.
type Subscriber struct {
	client      *Client
	listener    *Listener
	callbackURL string
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewSubscriber delivers events through listener, which must be served at callbackURL.
func NewSubscriber(client *Client, listener *Listener, callbackURL string, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		client:      client,
		listener:    listener,
		callbackURL: callbackURL,
		timeout:     DefaultSubscriptionTimeout,
		logger:      logger.With().Str("component", "gena_subscriber").Logger(),
	}
}

// Watch subscribes to svc and calls fn for every event until the returned
// cancel func is called or renewal fails.
func (s *Subscriber) Watch(ctx context.Context, svc models.DiscoveredService, fn func(map[string]string)) (func(), error) {
	if svc.EventSubURL == "" {
		return nil, fmt.Errorf("%w: %s has no event url", ErrUnknownService, svc.Location)
	}
	sid, granted, err := s.client.Subscribe(ctx, svc.EventSubURL, s.callbackURL, s.timeout)
	if err != nil {
		return nil, err
	}
	s.listener.Register(sid, fn)

	wctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			wait := granted / 2
			if wait < time.Second {
				wait = time.Second
			}
			select {
			case <-wctx.Done():
				return
			case <-time.After(wait):
			}
			newSID, g, err := s.client.Renew(wctx, svc.EventSubURL, sid, s.timeout)
			if err != nil {
				s.logger.Warn().Err(err).Str("location", svc.Location).Msg("subscription renewal failed")
				s.listener.Unregister(sid)
				return
			}
			if newSID != sid {
				s.listener.Unregister(sid)
				sid = newSID
				s.listener.Register(sid, fn)
			}
			granted = g
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			s.listener.Unregister(sid)
			uctx, ucancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer ucancel()
			if err := s.client.Unsubscribe(uctx, svc.EventSubURL, sid); err != nil {
				s.logger.Debug().Err(err).Str("location", svc.Location).Msg("unsubscribe failed")
			}
		})
	}, nil
}
