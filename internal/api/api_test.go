package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/discovery"
	"github.com/friendsincode/mediabridge/internal/events"
	"github.com/friendsincode/mediabridge/internal/library"
	"github.com/friendsincode/mediabridge/internal/logbuffer"
	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/renderer"
	"github.com/friendsincode/mediabridge/internal/version"
)

const (
	cdLoc  = "http://s1/cd.xml"
	avtLoc = "http://r1/avt.xml"
)

const browseResult = `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">` +
	`<container id="0/A" parentID="0" restricted="1"><dc:title>A</dc:title><upnp:class>object.container</upnp:class></container>` +
	`<item id="0/A/x.flac?0" parentID="0/A" restricted="1"><dc:title>X</dc:title><upnp:class>object.item.audioItem.musicTrack</upnp:class>` +
	`<res protocolInfo="http-get:*:audio/flac:*" duration="0:03:00">http://s1/decode/x.flac/subsong0.flac</res></item></DIDL-Lite>`

type fakeInvoker struct{}

func (fakeInvoker) Invoke(ctx context.Context, svc models.DiscoveredService, action string, args map[string]string) (map[string]string, error) {
	switch action {
	case "Browse":
		if args["ObjectID"] == "bad" {
			return map[string]string{"Result": "<DIDL-Lite"}, nil
		}
		return map[string]string{"Result": browseResult, "NumberReturned": "2"}, nil
	case "GetTransportInfo":
		return map[string]string{"CurrentTransportState": "STOPPED"}, nil
	}
	return map[string]string{}, nil
}

type fixture struct {
	router   chi.Router
	registry *discovery.Registry
	diag     *logbuffer.Buffer
	index    *library.Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := discovery.NewRegistry(time.Millisecond, zerolog.Nop())
	reg.Announce(models.DiscoveredService{Location: cdLoc, ServiceType: models.ServiceContentDirectory, ControlURL: "http://s1/ctl"})
	reg.Announce(models.DiscoveredService{Location: avtLoc, ServiceType: models.ServiceAVTransport, ControlURL: "http://r1/ctl"})
	reg.Flush()

	diag := logbuffer.New(50)
	bus := events.NewBus()
	ctrl := renderer.New(renderer.Deps{Directory: reg, Invoker: fakeInvoker{}, Bus: bus, Diagnostics: diag}, renderer.Config{}, zerolog.Nop())
	t.Cleanup(func() {
		ctrl.Close()
		reg.Close()
	})

	idx := library.NewIndex(zerolog.Nop())
	a := New(ctrl, reg, bus, zerolog.Nop())
	a.SetLibrary(idx, library.CuratedStore{Dir: t.TempDir(), Name: "Curated"})
	a.SetDiagnostics(diag)

	r := chi.NewRouter()
	a.Routes(r)
	return &fixture{router: r, registry: reg, diag: diag, index: idx}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "ok" || out["version"] != version.Version {
		t.Fatalf("unexpected health %v", out)
	}
}

func TestAVStateUnknownLocationIsEmpty(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/av-state/http://nowhere/avt.xml", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "{}" {
		t.Fatalf("expected empty object, got %s", got)
	}
}

func TestAVTransportNoopUpdatesState(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"url":    avtLoc,
		"inputs": map[string]any{},
		"update": map[string]any{
			"playingQueue": []map[string]any{{"id": "a", "title": "A"}, {"id": "b", "title": "B"}},
			"playingTrack": map[string]any{"id": "a", "title": "A"},
		},
	}
	rr := f.do(t, http.MethodPost, "/upnp-avtransport/Noop", body)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "{}" {
		t.Fatalf("unexpected noop response %d %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/av-state/"+avtLoc, nil)
	var state models.PlayingState
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if len(state.Queue) != 2 || state.Track == nil || state.Track.ID != "a" {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestInvokeUnknownLocationAnswersNull(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/upnp/GetTransportInfo", map[string]any{"url": "http://gone/avt.xml"})
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "null" {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/upnp/GetTransportInfo", map[string]any{"url": avtLoc, "inputs": map[string]any{"InstanceID": 0}})
	var out map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["CurrentTransportState"] != "STOPPED" {
		t.Fatalf("unexpected outputs %v", out)
	}

	rr = f.do(t, http.MethodPost, "/upnp/GetTransportInfo", map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing url: status %d", rr.Code)
	}
}

func TestContentDirectoryParsesResult(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/upnp-content-directory/Browse", map[string]any{
		"url":    cdLoc,
		"inputs": map[string]any{"ObjectID": "0", "BrowseFlag": "BrowseDirectChildren"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var items []models.MediaItem
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %+v", items)
	}
	if !items[0].IsContainer() || items[1].Title != "X" || len(items[1].Resources) != 1 || items[1].Length != 180 {
		t.Fatalf("unexpected entries %+v", items)
	}

	rr = f.do(t, http.MethodPost, "/upnp-content-directory/Browse", map[string]any{
		"url":    cdLoc,
		"inputs": map[string]any{"ObjectID": "bad"},
	})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("bad didl: status %d", rr.Code)
	}
}

func TestSSDPDevices(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/ssdp-devices", nil)
	var services []models.DiscoveredService
	if err := json.Unmarshal(rr.Body.Bytes(), &services); err != nil {
		t.Fatal(err)
	}
	if len(services) != 2 {
		t.Fatalf("expected 2 services, got %+v", services)
	}
}

func TestDiagnosticsFilter(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/upnp/Play", map[string]any{"url": "http://gone/avt.xml"})
	f.diag.Record("info", "other", "unrelated", nil)

	rr := f.do(t, http.MethodGet, "/api/diagnostics?component=renderer&location=http://gone/avt.xml", nil)
	var out struct {
		Entries []logbuffer.LogEntry `json:"entries"`
		Count   int                  `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 || out.Entries[0].Component != "renderer" {
		t.Fatalf("unexpected diagnostics %+v", out)
	}

	if rr := f.do(t, http.MethodDelete, "/api/diagnostics", nil); rr.Code != http.StatusOK {
		t.Fatalf("clear: status %d", rr.Code)
	}
	if got := len(f.diag.GetAll()); got != 0 {
		t.Fatalf("expected cleared buffer, got %d", got)
	}
}

func TestLogsUnavailableWithoutBuffer(t *testing.T) {
	f := newFixture(t)
	if rr := f.do(t, http.MethodGet, "/api/logs", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestCuratedPutThenGet(t *testing.T) {
	f := newFixture(t)
	items := []map[string]any{
		{"filePath": "/music/a.flac", "title": "First"},
		{"filePath": "/music/b.flac", "title": "Second"},
	}
	rr := f.do(t, http.MethodPost, "/api/curated/Party", items)
	if rr.Code != http.StatusOK {
		t.Fatalf("put: status %d %s", rr.Code, rr.Body.String())
	}
	var put map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &put); err != nil {
		t.Fatal(err)
	}
	if put["container"] != "0/Curated/Party" || put["count"] != float64(2) {
		t.Fatalf("unexpected put response %v", put)
	}

	rr = f.do(t, http.MethodGet, "/api/curated/Party", nil)
	var got []models.MediaItem
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Title != "First" || got[0].ParentID != "0/Curated/Party" {
		t.Fatalf("unexpected curated items %+v", got)
	}

	if rr := f.do(t, http.MethodPost, "/api/curated/../x", items); rr.Code != http.StatusBadRequest {
		t.Fatalf("traversal: status %d", rr.Code)
	}
}
