package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/config"
	"github.com/friendsincode/mediabridge/internal/discovery"
	"github.com/friendsincode/mediabridge/internal/dispatch"
	"github.com/friendsincode/mediabridge/internal/medialink"
	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/upnpclient"
)

func newDescServer(t *testing.T) *Server {
	t.Helper()
	d, err := dispatch.New(nil, nil, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{
		cfg:        &config.Config{HTTPBind: "0.0.0.0", HTTPPort: 8200},
		logger:     zerolog.Nop(),
		router:     chi.NewRouter(),
		dispatcher: d,
		desc:       newRootDesc("Living <Room>", d),
	}
	s.router.Get(rootDescPath, s.handleRootDesc)
	s.router.Get(scpdPrefix+"{service}", s.handleSCPD)
	return s
}

func TestRootDescriptionParses(t *testing.T) {
	s := newDescServer(t)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, rootDescPath, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if got := rr.Header().Get("cache-control"); got != "private, max-age=60" {
		t.Fatalf("cache-control %q", got)
	}
	if !strings.Contains(rr.Body.String(), "Living &lt;Room&gt;") {
		t.Fatalf("friendly name not escaped:\n%s", rr.Body.String())
	}

	services, err := discovery.ParseDescription("http://10.0.0.2:8200"+rootDescPath, rr.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[models.ServiceKind]models.DiscoveredService{}
	for _, svc := range services {
		kinds[svc.Kind()] = svc
	}
	for _, k := range []models.ServiceKind{models.KindContentDirectory, models.KindConnectionManager, models.KindAVTransport, models.KindRenderingControl} {
		if _, ok := kinds[k]; !ok {
			t.Fatalf("missing %s in %+v", k, services)
		}
	}
	cd := kinds[models.KindContentDirectory]
	if cd.ControlURL != "http://10.0.0.2:8200/ctl" || cd.Location != "http://10.0.0.2:8200/scpd/ContentDirectory.xml" {
		t.Fatalf("unexpected urls %+v", cd)
	}
	if cd.UDN == kinds[models.KindAVTransport].UDN {
		t.Fatal("server and renderer must have distinct UDNs")
	}
}

func TestSCPDRoute(t *testing.T) {
	s := newDescServer(t)

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/scpd/AVTransport.xml", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	acts, err := upnpclient.ParseSCPD(rr.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := acts["SetAVTransportURI"]; !ok {
		t.Fatalf("SetAVTransportURI missing from %v", acts)
	}

	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/scpd/Nope.xml", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestDeviceUUIDStable(t *testing.T) {
	a := makeDeviceUUID("MediaBridge on host")
	if a != makeDeviceUUID("MediaBridge on host") {
		t.Fatal("uuid not stable")
	}
	if !strings.HasPrefix(a, "uuid:") {
		t.Fatalf("unexpected uuid %q", a)
	}
	if a == makeDeviceUUID("other") {
		t.Fatal("uuid collision")
	}
}

func TestAdvertisements(t *testing.T) {
	s := newDescServer(t)
	ads := s.advertisements()
	if len(ads) != 2 {
		t.Fatalf("got %d advertisements", len(ads))
	}
	if ads[0].devices[0] != mediaServerType || len(ads[0].services) != 2 {
		t.Fatalf("unexpected server advertisement %+v", ads[0])
	}
	if ads[1].devices[0] != mediaRendererType || ads[1].uuid != s.desc.Renderer.UDN {
		t.Fatalf("unexpected renderer advertisement %+v", ads[1])
	}
	if got := s.advertiseLocation(net.ParseIP("192.168.1.4")); got != "http://192.168.1.4:8200/rootDesc.xml" {
		t.Fatalf("location %q", got)
	}
}

func TestAnnounceIP(t *testing.T) {
	tests := []struct {
		bind string
		ip   string
		want bool
	}{
		{"0.0.0.0", "192.168.1.4", true},
		{"0.0.0.0", "fe80::1", false},
		{"::", "fe80::1", true},
		{"192.168.1.4", "192.168.1.4", true},
		{"192.168.1.4", "10.0.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.bind+"/"+tt.ip, func(t *testing.T) {
			if got := announceIP(tt.bind, net.ParseIP(tt.ip)); got != tt.want {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestWithinRoots(t *testing.T) {
	root := t.TempDir()
	roots := mediaRoots([]string{root})
	h := withinRoots(roots, medialink.ParseStreamPath, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	inside := medialink.StreamURL("", filepath.ToSlash(filepath.Join(root, "a.flac")), 0, "wav")
	outside := medialink.StreamURL("", "/etc/passwd", 0, "wav")
	tests := []struct {
		path string
		want int
	}{
		{inside, http.StatusTeapot},
		{outside, http.StatusForbidden},
		{"/decode/garbage", http.StatusTeapot},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rr.Code != tt.want {
			t.Fatalf("%s: status %d want %d", tt.path, rr.Code, tt.want)
		}
	}
}

func TestSkipTimeoutLeavesStreamsAlone(t *testing.T) {
	var hasDeadline bool
	h := skipTimeout(time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/decode/a/subsong0.wav", nil))
	if hasDeadline {
		t.Fatal("stream request should not carry a deadline")
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if !hasDeadline {
		t.Fatal("api request should carry a deadline")
	}
}
