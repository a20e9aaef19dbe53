package session

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/talkincode/wagate/internal/domain"
)

func TestRegistryCreateIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s, created := r.Create("a", "Shop1")
	if !created || s.State != StateCreated {
		t.Fatalf("first create: %+v %v", s, created)
	}
	s, created = r.Create("a", "Other")
	if created || s.Name != "Shop1" {
		t.Fatalf("second create: %+v %v", s, created)
	}
}

func TestRegistryFlagsAreExclusive(t *testing.T) {
	r := NewRegistry()
	r.Create("a", "Shop1")
	e, _ := r.lookup("a")

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.tryBeginConnect() {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("connect wins = %d", wins)
	}
	e.endConnect()
	if !e.tryBeginConnect() {
		t.Fatal("flag not released")
	}
}

func TestRegistryRemoveCancelsEntry(t *testing.T) {
	r := NewRegistry()
	r.Create("a", "Shop1")
	e, _ := r.lookup("a")
	e.tryBeginDelete()

	if !r.Remove("a") {
		t.Fatal("remove reported absent")
	}
	if !e.removed() {
		t.Fatal("entry context not cancelled")
	}
	if r.Remove("a") {
		t.Fatal("second remove succeeded")
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("entry still visible")
	}
	s, created := r.Create("a", "Shop1")
	if !created || s.Deleting {
		t.Fatalf("recreate: %+v %v", s, created)
	}
}

func TestRegistryGenerations(t *testing.T) {
	r := NewRegistry()
	r.Create("a", "Shop1")
	e, _ := r.lookup("a")

	_, g1 := e.beginGeneration()
	c1 := &fakeConn{}
	if !e.installConn(g1, c1) {
		t.Fatal("install current generation failed")
	}
	old, g2 := e.beginGeneration()
	if old != c1 {
		t.Fatal("previous conn not returned")
	}
	if e.installConn(g1, &fakeConn{}) {
		t.Fatal("stale generation installed")
	}
	if e.isCurrent(g1) || !e.isCurrent(g2) {
		t.Fatal("generation tracking wrong")
	}
}

func TestRegistryWebhookEndpointAndList(t *testing.T) {
	r := NewRegistry()
	r.Create("b", "B")
	r.Create("a", "A")
	e, _ := r.lookup("a")
	e.webhooks = domain.WebhookEndpoints{Status: "http://hooks/status"}

	if url, ok := r.WebhookEndpoint("a", domain.WebhookStatus); !ok || url != "http://hooks/status" {
		t.Fatalf("status endpoint = %q %v", url, ok)
	}
	if _, ok := r.WebhookEndpoint("a", domain.WebhookReceive); ok {
		t.Fatal("unset category resolved")
	}
	if _, ok := r.WebhookEndpoint("zz", domain.WebhookStatus); ok {
		t.Fatal("unknown session resolved")
	}
	if n := len(r.List()); n != 2 {
		t.Fatalf("list = %d", n)
	}
}
