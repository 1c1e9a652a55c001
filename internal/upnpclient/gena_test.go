package upnpclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const notifyBody = `<?xml version="1.0"?>
<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property>
    <LastChange>&lt;Event xmlns=&quot;urn:schemas-upnp-org:metadata-1-0/AVT/&quot;&gt;&lt;InstanceID val=&quot;0&quot;&gt;&lt;TransportState val=&quot;STOPPED&quot;/&gt;&lt;RelativeTimePosition val=&quot;0:03:10&quot;/&gt;&lt;/InstanceID&gt;&lt;/Event&gt;</LastChange>
  </e:property>
</e:propertyset>`

func TestParseEventAndLastChange(t *testing.T) {
	vars, err := ParsePropertySet([]byte(notifyBody))
	if err != nil {
		t.Fatal(err)
	}
	changes, err := ParseLastChange(vars["LastChange"])
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].InstanceID != "0" {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[0].Values["TransportState"] != "STOPPED" || changes[0].Values["RelativeTimePosition"] != "0:03:10" {
		t.Fatalf("values = %v", changes[0].Values)
	}
}

func notify(t *testing.T, h http.Handler, sid string) int {
	t.Helper()
	req := httptest.NewRequest("NOTIFY", "/events", strings.NewReader(notifyBody))
	req.Header.Set("SID", sid)
	req.Header.Set("NT", "upnp:event")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestListenerRoutesBySID(t *testing.T) {
	l := NewListener(zerolog.Nop())
	got := make(chan map[string]string, 2)

	if code := notify(t, l, "uuid:early"); code != http.StatusOK {
		t.Fatalf("early notify status = %d", code)
	}
	l.Register("uuid:early", func(v map[string]string) { got <- v })
	select {
	case v := <-got:
		if v["LastChange"] == "" {
			t.Fatalf("early event vars = %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("early event not replayed on register")
	}

	notify(t, l, "uuid:early")
	if len(got) != 1 {
		t.Fatal("registered handler missed event")
	}

	l.Unregister("uuid:early")
	<-got
	notify(t, l, "uuid:early")
	if len(got) != 0 {
		t.Fatal("event delivered after unregister")
	}

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	l.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", rec.Code)
	}
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"Second-1800", 1800 * time.Second},
		{"second-5", 5 * time.Second},
		{"infinite", time.Minute},
		{"", time.Minute},
		{"Second-x", time.Minute},
	}
	for _, tt := range tests {
		if got := ParseTimeout(tt.in, time.Minute); got != tt.want {
			t.Errorf("ParseTimeout(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
