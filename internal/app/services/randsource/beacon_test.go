package randsource

import (
	"context"
	"testing"
	"time"
)

func TestSignDrawRoundTrip(t *testing.T) {
	secret := []byte("beacon-secret")
	verifier := NewHMACVerifier(secret)

	proof := SignDraw(secret, "token-1", 100, 42)
	if !verifier.Verify("token-1", 100, 42, proof) {
		t.Fatal("valid proof rejected")
	}
	if verifier.Verify("token-2", 100, 42, proof) {
		t.Fatal("proof bound to wrong token accepted")
	}
	if verifier.Verify("token-1", 100, 43, proof) {
		t.Fatal("tampered value accepted")
	}
	if verifier.Verify("token-1", 100, 150, SignDraw(secret, "token-1", 100, 150)) {
		t.Fatal("out-of-range value accepted")
	}
}

type captureSink struct {
	ch chan struct {
		token string
		value int64
		proof []byte
	}
}

func (c *captureSink) OnDrawReceived(_ context.Context, token string, value int64, proof []byte) error {
	c.ch <- struct {
		token string
		value int64
		proof []byte
	}{token, value, proof}
	return nil
}

func TestLocalBeacon_Fulfils(t *testing.T) {
	secret := []byte("beacon-secret")
	beacon := NewLocalBeacon(secret, nil)
	sink := &captureSink{ch: make(chan struct {
		token string
		value int64
		proof []byte
	}, 1)}
	beacon.AttachSink(sink)

	if err := beacon.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer beacon.Stop(context.Background())

	if err := beacon.RequestDraw(context.Background(), 10, "tok"); err != nil {
		t.Fatalf("request: %v", err)
	}

	select {
	case got := <-sink.ch:
		if got.token != "tok" {
			t.Fatalf("wrong token: %s", got.token)
		}
		if got.value < 0 || got.value >= 10 {
			t.Fatalf("value out of range: %d", got.value)
		}
		if !NewHMACVerifier(secret).Verify(got.token, 10, got.value, got.proof) {
			t.Fatal("beacon produced unverifiable proof")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("draw never fulfilled")
	}
}

func TestLocalBeacon_RejectsBadRequests(t *testing.T) {
	beacon := NewLocalBeacon([]byte("s"), nil)
	if err := beacon.RequestDraw(context.Background(), 0, "tok"); err == nil {
		t.Fatal("zero upper bound accepted")
	}
	if err := beacon.RequestDraw(context.Background(), 5, ""); err == nil {
		t.Fatal("empty token accepted")
	}
	if err := beacon.Start(context.Background()); err == nil {
		t.Fatal("start without sink should fail")
	}
}

func TestExpandDraw(t *testing.T) {
	seed := []byte("seed")
	if got := ExpandDraw(seed, 7, 0, 100); got != 7 {
		t.Fatalf("split 0 must pass the raw value through, got %d", got)
	}
	for split := 1; split < 4; split++ {
		v := ExpandDraw(seed, 7, split, 100)
		if v < 0 || v >= 100 {
			t.Fatalf("split %d out of range: %d", split, v)
		}
		if v != ExpandDraw(seed, 7, split, 100) {
			t.Fatalf("split %d not deterministic", split)
		}
	}
}
