package rfc9211

import (
	"testing"
	"time"
)

func TestHit(t *testing.T) {
	cs := NewCacheStatus("ExampleCache")
	cs.Hit()
	cs.TTL(376 * time.Second)
	if s := cs.String(); s != "ExampleCache; hit; ttl=376" {
		t.Fatalf("Cache-Status is %s", s)
	}
}

func TestForwardStored(t *testing.T) {
	cs := NewCacheStatus("ExampleCache")
	cs.Forward(FwdUriMiss)
	cs.ForwardStatus(200)
	cs.Stored()
	if s := cs.String(); s != "ExampleCache; fwd=uri-miss; fwd-status=200; stored" {
		t.Fatalf("Cache-Status is %s", s)
	}
	if cs.IsHit() {
		t.Fatal("Forwarded request reported as hit")
	}
}

func TestDetail(t *testing.T) {
	cs := NewCacheStatus("ExampleCache")
	cs.Forward(FwdBypass)
	cs.Detail("mutation")
	if s := cs.String(); s != "ExampleCache; fwd=bypass; detail=mutation" {
		t.Fatalf("Cache-Status is %s", s)
	}
}
