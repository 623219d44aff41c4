package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nuha.dev/udpgps/internal/udpgps"
)

type sent struct {
	ep udpgps.Endpoint
	s  udpgps.Sample
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	hit  chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, ep udpgps.Endpoint, s udpgps.Sample) error {
	f.mu.Lock()
	f.sent = append(f.sent, sent{ep, s})
	f.mu.Unlock()
	f.hit <- struct{}{}
	return nil
}

func (f *fakeSender) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("sample not forwarded")
	}
}

func TestStartValidatesEndpoint(t *testing.T) {
	c := NewClient(&fakeSender{hit: make(chan struct{}, 1)}, nil)
	samples := make(chan udpgps.Sample)
	if err := c.Start(context.Background(), "", "9999", samples); err == nil || err.Error() != "IP cannot be empty" {
		t.Errorf("err=%v", err)
	}
	if err := c.Start(context.Background(), "127.0.0.1", "", samples); err == nil || err.Error() != "Port cannot be empty" {
		t.Errorf("err=%v", err)
	}
	if c.Running() {
		t.Error("client started with invalid endpoint")
	}
}

func TestForwardsAndEchoes(t *testing.T) {
	fs := &fakeSender{hit: make(chan struct{}, 4)}
	var mu sync.Mutex
	var echoed []string
	c := NewClient(fs, func(text string) {
		mu.Lock()
		echoed = append(echoed, text)
		mu.Unlock()
	})
	samples := make(chan udpgps.Sample)
	if err := c.Start(context.Background(), "127.0.0.1", "9999", samples); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	s, _ := udpgps.NewSample(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), -1, 2)
	samples <- s
	wait(t, fs.hit)
	got := fs.last()
	if got.ep.Addr() != "127.0.0.1:9999" || got.s != s {
		t.Errorf("sent %+v", got)
	}

	if err := c.Start(context.Background(), "127.0.0.2", "7000", samples); err != nil {
		t.Fatal(err)
	}
	samples <- s
	wait(t, fs.hit)
	if got := fs.last(); got.ep.Addr() != "127.0.0.2:7000" {
		t.Errorf("endpoint not replaced: %v", got.ep)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(echoed) != 2 || echoed[0] != "Time: 2024-01-01T00:00:00+0000\nLatitude: 1° S\nLongitude: 2° E\n" {
		t.Errorf("echoed %q", echoed)
	}
}

func TestSetEndpoint(t *testing.T) {
	c := NewClient(&fakeSender{hit: make(chan struct{}, 1)}, nil)
	if err := c.SetEndpoint("host", "x"); !errors.Is(err, udpgps.ErrConfig) {
		t.Errorf("err=%v", err)
	}
	if err := c.SetEndpoint("host", "80"); err != nil || c.Endpoint().Addr() != "host:80" {
		t.Errorf("endpoint %v err %v", c.Endpoint(), err)
	}
}

func TestStopAndClosedChannel(t *testing.T) {
	c := NewClient(&fakeSender{hit: make(chan struct{}, 1)}, nil)
	samples := make(chan udpgps.Sample)
	if err := c.Start(context.Background(), "127.0.0.1", "1", samples); err != nil {
		t.Fatal(err)
	}
	c.Stop()
	c.Stop()
	if c.Running() {
		t.Error("still running after Stop")
	}

	samples = make(chan udpgps.Sample)
	if err := c.Start(context.Background(), "127.0.0.1", "1", samples); err != nil {
		t.Fatal(err)
	}
	close(samples)
	deadline := time.Now().Add(2 * time.Second)
	for c.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Running() {
		t.Error("client kept running after the producer closed")
	}
}
