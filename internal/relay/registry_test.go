package relay

import (
	"sort"
	"testing"
)

func TestRegistrySubscribeIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("c1", "BUS-001")
	r.Subscribe("c1", "BUS-001")
	if got := r.SubscribersOf("BUS-001"); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("want exactly one entry for c1, got %v", got)
	}
	r.Subscribe("c1", AllBuses)
	r.Subscribe("c1", AllBuses)
	if got := r.RecipientsOf("BUS-001"); len(got) != 1 {
		t.Fatalf("dual subscription must not duplicate recipients: %v", got)
	}
}

func TestRegistryRecipientsUnion(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("v1", "BUS-001")
	r.Subscribe("v2", "BUS-001")
	r.Subscribe("v3", AllBuses)
	r.Subscribe("v4", "BUS-002")

	got := r.RecipientsOf("BUS-001")
	sort.Strings(got)
	want := []string{"v1", "v2", "v3"}
	if len(got) != len(want) {
		t.Fatalf("recipients: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recipients: got %v, want %v", got, want)
		}
	}
}

func TestRegistryUnsubscribeAll(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("c1", "BUS-001")
	r.Subscribe("c1", "BUS-002")
	r.Subscribe("c1", AllBuses)
	r.Subscribe("c2", "BUS-001")

	r.UnsubscribeAll("c1")
	for _, bus := range []string{"BUS-001", "BUS-002"} {
		for _, id := range r.RecipientsOf(bus) {
			if id == "c1" {
				t.Fatalf("c1 still subscribed to %s after UnsubscribeAll", bus)
			}
		}
	}
	if got := r.SubscribersOf("BUS-001"); len(got) != 1 || got[0] != "c2" {
		t.Fatalf("c2's subscription must survive: %v", got)
	}
	if got := r.SubscribersOf("BUS-002"); len(got) != 0 {
		t.Fatalf("BUS-002 should have no subscribers: %v", got)
	}
}
