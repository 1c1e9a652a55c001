/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package upnpclient invokes SOAP actions on remote UPnP services and
// receives their GENA events.
package upnpclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/telemetry"
)

var (
	// ErrUnknownService is returned when no service is known for a location.
	ErrUnknownService = errors.New("upnpclient: unknown service")
	// ErrUnknownAction is returned when the service does not declare the action.
	ErrUnknownAction = errors.New("upnpclient: unknown action")
)

const maxBodySize = 4 << 20

// Action is one action declared in a service description.
type Action struct {
	Name   string
	In     []string
	Out    []string
	inSet  map[string]bool
	outSet map[string]bool
}

type scpdArgument struct {
	Name      string `xml:"name"`
	Direction string `xml:"direction"`
}

type scpdAction struct {
	Name string         `xml:"name"`
	Args []scpdArgument `xml:"argumentList>argument"`
}

type scpdDoc struct {
	Actions []scpdAction `xml:"actionList>action"`
}

// ParseSCPD returns the actions declared by a service description.
func ParseSCPD(body []byte) (map[string]*Action, error) {
	var doc scpdDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse scpd: %w", err)
	}
	out := make(map[string]*Action, len(doc.Actions))
	for _, a := range doc.Actions {
		act := &Action{Name: strings.TrimSpace(a.Name), inSet: map[string]bool{}, outSet: map[string]bool{}}
		for _, arg := range a.Args {
			n := strings.TrimSpace(arg.Name)
			if strings.EqualFold(strings.TrimSpace(arg.Direction), "out") {
				act.Out = append(act.Out, n)
				act.outSet[n] = true
			} else {
				act.In = append(act.In, n)
				act.inSet[n] = true
			}
		}
		out[act.Name] = act
	}
	return out, nil
}

// Options tunes a Client.
type Options struct {
	Timeout  time.Duration
	RetryMax int
}

// Client invokes actions on remote services.
type Client struct {
	http   *retryablehttp.Client
	logger zerolog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	scpd  map[string]map[string]*Action
}

// New creates a Client. Transport failures are retried; HTTP error
// statuses (including SOAP faults) are not.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	logger = logger.With().Str("component", "upnpclient").Logger()

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{logger}
	rc.HTTPClient.Timeout = opts.Timeout
	rc.HTTPClient.Transport = otelhttp.NewTransport(rc.HTTPClient.Transport)
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err == nil {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return &Client{
		http:   rc,
		logger: logger,
		scpd:   make(map[string]map[string]*Action),
	}
}

// StandardClient returns an *http.Client backed by the retrying transport.
func (c *Client) StandardClient() *http.Client {
	return c.http.StandardClient()
}

// Actions returns the actions declared by svc, fetching its SCPD once.
func (c *Client) Actions(ctx context.Context, svc models.DiscoveredService) (map[string]*Action, error) {
	if svc.SCPDURL == "" {
		return nil, nil
	}
	c.mu.RLock()
	acts, ok := c.scpd[svc.SCPDURL]
	c.mu.RUnlock()
	if ok {
		return acts, nil
	}

	v, err, _ := c.group.Do(svc.SCPDURL, func() (any, error) {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, svc.SCPDURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch scpd %s: %w", svc.SCPDURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch scpd %s: status %d", svc.SCPDURL, resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, err
		}
		acts, err := ParseSCPD(body)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.scpd[svc.SCPDURL] = acts
		c.mu.Unlock()
		return acts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*Action), nil
}

// Forget drops the cached SCPD of svc.
func (c *Client) Forget(svc models.DiscoveredService) {
	c.mu.Lock()
	delete(c.scpd, svc.SCPDURL)
	c.mu.Unlock()
}

// Invoke calls action on svc with args and returns the output arguments.
// A service without an SCPD is called without action validation.
func (c *Client) Invoke(ctx context.Context, svc models.DiscoveredService, action string, args map[string]string) (map[string]string, error) {
	kind := string(svc.Kind())
	ctx, span := telemetry.StartAction(ctx, telemetry.SideClient, kind, action, svc.ControlURL)
	out, err := c.invoke(ctx, svc, action, args)
	telemetry.EndAction(span, err)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.ActionInvocationsTotal.WithLabelValues(kind, action, outcome).Inc()
	return out, err
}

func (c *Client) invoke(ctx context.Context, svc models.DiscoveredService, action string, args map[string]string) (map[string]string, error) {
	if svc.ControlURL == "" {
		return nil, fmt.Errorf("%w: %s has no control url", ErrUnknownService, svc.Location)
	}
	acts, err := c.Actions(ctx, svc)
	if err != nil {
		return nil, err
	}
	var order []string
	if acts != nil {
		act, ok := acts[action]
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnknownAction, action, svc.Location)
		}
		order = act.In
	}

	body, err := buildEnvelope(svc.ServiceType, action, args, order)
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, svc.ControlURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, svc.ServiceType, action))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", action, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK && !bytes.Contains(raw, []byte("Fault")) {
		return nil, fmt.Errorf("invoke %s: status %d", action, resp.StatusCode)
	}
	return decodeResponse(action, raw)
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.event(l.logger.Error(), msg, kv) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.event(l.logger.Debug(), msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.event(l.logger.Trace(), msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.event(l.logger.Warn(), msg, kv) }

func (leveledLogger) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			e = e.Interface(k, kv[i+1])
		}
	}
	e.Msg(msg)
}
