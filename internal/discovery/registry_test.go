package discovery

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/models"
)

func svc(loc, st, desc string) models.DiscoveredService {
	return models.DiscoveredService{Location: loc, ServiceType: st, DeviceDescriptionURL: desc}
}

func TestAnnounceOverwritesByLocation(t *testing.T) {
	r := NewRegistry(time.Hour, zerolog.Nop())
	defer r.Close()

	r.Announce(svc("http://a/cds.xml", models.ServiceContentDirectory, "http://a/desc.xml"))
	r.Announce(svc("http://b/avt.xml", models.ServiceAVTransport, "http://b/desc.xml"))
	updated := svc("http://a/cds.xml", models.ServiceContentDirectory, "http://a/desc.xml")
	updated.FriendlyName = "renamed"
	r.Announce(updated)

	snap := r.Snapshot()
	if len(snap.Services) != 2 {
		t.Fatalf("services = %d, want 2", len(snap.Services))
	}
	if snap.Services[0].Location != "http://a/cds.xml" || snap.Services[0].FriendlyName != "renamed" {
		t.Fatalf("first service = %+v", snap.Services[0])
	}
	if len(snap.ByKind[models.KindContentDirectory]) != 1 || len(snap.ByKind[models.KindAVTransport]) != 1 {
		t.Fatalf("classification = %+v", snap.ByKind)
	}
}

func TestDebouncedFanOut(t *testing.T) {
	r := NewRegistry(30*time.Millisecond, zerolog.Nop())
	defer r.Close()

	var mu sync.Mutex
	var got []Snapshot
	done := make(chan struct{}, 4)
	r.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
		done <- struct{}{}
	})

	for i, loc := range []string{"http://a/1", "http://a/2", "http://a/3"} {
		r.Announce(svc(loc, models.ServiceAVTransport, "http://a/desc.xml"))
		if i == 1 {
			r.Disappear("http://a/1")
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("burst produced %d snapshots, want 1", len(got))
	}
	if len(got[0].Services) != 2 || got[0].Services[0].Location != "http://a/2" {
		t.Fatalf("snapshot = %+v", got[0].Services)
	}
}

func TestSiblingAndRemovalCallbacks(t *testing.T) {
	r := NewRegistry(time.Hour, zerolog.Nop())
	defer r.Close()

	r.Announce(svc("http://tv/avt.xml", models.ServiceAVTransport, "http://tv/desc.xml"))
	r.Announce(svc("http://tv/rc.xml", models.ServiceRenderingControl, "http://tv/desc.xml"))
	r.Announce(svc("http://other/rc.xml", models.ServiceRenderingControl, "http://other/desc.xml"))

	rc, ok := r.Sibling("http://tv/avt.xml", models.KindRenderingControl)
	if !ok || rc.Location != "http://tv/rc.xml" {
		t.Fatalf("sibling = %+v, %v", rc, ok)
	}
	if _, ok := r.Sibling("http://missing", models.KindRenderingControl); ok {
		t.Fatal("sibling of unknown location")
	}

	var removed []string
	cancel := r.OnRemove(func(s models.DiscoveredService) { removed = append(removed, s.Location) })
	if n := r.DisappearDevice("http://tv/desc.xml"); n != 2 {
		t.Fatalf("removed %d services, want 2", n)
	}
	cancel()
	r.Disappear("http://other/rc.xml")

	if len(removed) != 2 || removed[0] != "http://tv/avt.xml" {
		t.Fatalf("removal callbacks = %v", removed)
	}
	if _, ok := r.Get("http://tv/avt.xml"); ok {
		t.Fatal("service still present")
	}
}
