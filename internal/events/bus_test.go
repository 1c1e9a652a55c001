package events

import "testing"

func receive(t *testing.T, sub Subscriber) (Payload, bool) {
	t.Helper()
	select {
	case p := <-sub:
		return p, true
	default:
		return nil, false
	}
}

func TestPublishByType(t *testing.T) {
	b := NewBus()
	ssdp := b.Subscribe(EventSSDPUpdate)
	other := b.Subscribe(EventLibrary)

	b.Publish(EventSSDPUpdate, Payload{"n": 1})

	if p, ok := receive(t, ssdp); !ok || p["n"] != 1 {
		t.Fatalf("subscriber did not get payload: %v", p)
	}
	if _, ok := receive(t, other); ok {
		t.Fatal("payload leaked to another event type")
	}
}

func TestRoomMulticast(t *testing.T) {
	b := NewBus()
	a := b.Subscribe(EventSSDPUpdate)
	c := b.Subscribe(EventSSDPUpdate)

	if !b.Join("http://r1/ctl", a) {
		t.Fatal("first join should report true")
	}
	if b.Join("http://r1/ctl", a) {
		t.Fatal("second join should be a no-op")
	}
	b.Join("http://r2/ctl", c)

	b.PublishRoom("http://r1/ctl", Payload{"type": string(EventAVUpdate)})

	if _, ok := receive(t, a); !ok {
		t.Fatal("room member missed the update")
	}
	if _, ok := receive(t, a); ok {
		t.Fatal("duplicate join delivered twice")
	}
	if _, ok := receive(t, c); ok {
		t.Fatal("update reached a client of another room")
	}

	b.Leave("http://r1/ctl", a)
	b.PublishRoom("http://r1/ctl", Payload{})
	if _, ok := receive(t, a); ok {
		t.Fatal("update delivered after leave")
	}
	if b.Members("http://r1/ctl") != 0 {
		t.Fatal("empty room should be dropped")
	}
}

func TestUnsubscribeLeavesRoomsAndCloses(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(EventSSDPUpdate)
	b.Join("room", sub)

	b.Unsubscribe(EventSSDPUpdate, sub)

	if b.Members("room") != 0 {
		t.Fatal("subscriber still in room")
	}
	if _, open := <-sub; open {
		t.Fatal("subscriber channel not closed")
	}
	b.PublishRoom("room", Payload{})
	b.Publish(EventSSDPUpdate, Payload{})
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(EventLibrary)
	for i := 0; i < cap(sub)+5; i++ {
		b.Publish(EventLibrary, Payload{"i": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("buffered %d, want %d", len(sub), cap(sub))
	}
}
