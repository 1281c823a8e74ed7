package messaging

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func identity(b []byte) ([]byte, bool) { return b, true }

func TestRelayKeepsNewestWhenReaderLags(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan []byte)
	out := Relay(ctx, in, 2, identity, zap.NewNop())
	for _, p := range []string{"1", "2", "3", "4"} {
		in <- []byte(p)
	}
	close(in)

	var got []string
	for p := range out {
		got = append(got, string(p))
	}
	if len(got) == 0 || got[len(got)-1] != "4" {
		t.Fatalf("newest payload must survive, got %v", got)
	}
	if got[0] == "1" {
		t.Fatalf("oldest payload should have been dropped, got %v", got)
	}
}

func TestRelayClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := Relay(ctx, make(chan []byte), 1, identity, zap.NewNop())
	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not close")
	}
}

func TestRelaySkipsRejectedPayloads(t *testing.T) {
	in := make(chan []byte, 2)
	in <- []byte("bad")
	in <- []byte("good")
	close(in)
	out := Relay(context.Background(), in, 4, func(b []byte) ([]byte, bool) {
		return b, string(b) != "bad"
	}, zap.NewNop())
	p := <-out
	if string(p) != "good" {
		t.Fatalf("expected good, got %s", p)
	}
}
