package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"nuha.dev/udpgps/internal/metrics"
	"nuha.dev/udpgps/internal/udpgps"
)

type chanObserver struct {
	samples chan string
	errs    chan error
}

func newChanObserver() *chanObserver {
	return &chanObserver{samples: make(chan string, 16), errs: make(chan error, 4)}
}

func (o *chanObserver) OnSample(raw string) { o.samples <- raw }
func (o *chanObserver) OnError(err error)   { o.errs <- err }

func (o *chanObserver) nextSample(t *testing.T) string {
	t.Helper()
	select {
	case s := <-o.samples:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no sample received")
	}
	return ""
}

func newTestServer(cfg ServerConfig) *Server {
	cfg.BindAddr = "127.0.0.1"
	cfg.Metrics = metrics.New()
	return NewServer(&cfg)
}

func sendTo(t *testing.T, addr net.Addr, payload string) {
	t.Helper()
	c, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionDeliversAnnotatedDatagram(t *testing.T) {
	srv := newTestServer(ServerConfig{})
	obs := newChanObserver()
	sess, err := srv.Start(context.Background(), 0, obs)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Cancel()
	if sess.State() != Listening {
		t.Fatalf("state %v", sess.State())
	}

	sendTo(t, sess.Addr(), "Latitude: 1° N\nLongitude: 2° E\n")
	got := obs.nextSample(t)
	want := "Latitude: 1° N\nLongitude: 2° E\nClient address: 127.0.0.1\n"
	if got != want {
		t.Errorf("OnSample(%q) want %q", got, want)
	}
	if n, _ := sess.Stat(); n != 1 {
		t.Errorf("datagrams=%d", n)
	}
}

func TestSecondStartConflicts(t *testing.T) {
	srv := newTestServer(ServerConfig{})
	first, err := srv.Start(context.Background(), 0, newChanObserver())
	if err != nil {
		t.Fatal(err)
	}
	_, err = srv.Start(context.Background(), 0, newChanObserver())
	if !errors.Is(err, udpgps.ErrConflict) {
		t.Fatalf("err=%v want ErrConflict", err)
	}
	if active, ok := srv.Active(); !ok || active != first {
		t.Fatal("first session was replaced")
	}

	first.Cancel()
	waitDone(t, first)
	if _, ok := srv.Active(); ok {
		t.Fatal("session still registered after close")
	}
	second, err := srv.Start(context.Background(), 0, newChanObserver())
	if err != nil {
		t.Fatalf("restart after close: %v", err)
	}
	second.Cancel()
	waitDone(t, second)
}

func TestCancelUnblocksPendingReceive(t *testing.T) {
	srv := newTestServer(ServerConfig{})
	obs := newChanObserver()
	sess, err := srv.Start(context.Background(), 0, obs)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	sess.Cancel()
	sess.Cancel()
	waitDone(t, sess)

	if sess.State() != Closed {
		t.Errorf("state %v want closed", sess.State())
	}
	if sess.Err() != nil {
		t.Errorf("Err()=%v want nil for cancellation", sess.Err())
	}
	select {
	case err := <-obs.errs:
		t.Errorf("cancellation reported as error: %v", err)
	default:
	}
	// the port is free again
	pc, err := net.ListenPacket("udp", sess.Addr().String())
	if err != nil {
		t.Fatalf("socket not released: %v", err)
	}
	pc.Close()
}

func TestParentContextCancelStopsSession(t *testing.T) {
	srv := newTestServer(ServerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	sess, err := srv.Start(ctx, 0, newChanObserver())
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	waitDone(t, sess)
	if sess.Err() != nil {
		t.Errorf("Err()=%v", sess.Err())
	}
}

func TestSocketFailureReportedOnce(t *testing.T) {
	srv := newTestServer(ServerConfig{})
	obs := newChanObserver()
	sess, err := srv.Start(context.Background(), 0, obs)
	if err != nil {
		t.Fatal(err)
	}
	// closing the socket behind the session's back is a receive failure
	_ = sess.c.PacketConn.Close()
	waitDone(t, sess)

	select {
	case err := <-obs.errs:
		if !errors.Is(err, udpgps.ErrTransport) || !strings.HasPrefix(err.Error(), "Receive failure: ") {
			t.Errorf("err=%v", err)
		}
	default:
		t.Fatal("no error reported")
	}
	if len(obs.errs) != 0 {
		t.Error("error reported more than once")
	}
	if !errors.Is(sess.Err(), udpgps.ErrTransport) {
		t.Errorf("Err()=%v", sess.Err())
	}
	if _, ok := srv.Active(); ok {
		t.Error("failed session still active")
	}
}

func TestBindFailure(t *testing.T) {
	taken, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()
	port := uint16(taken.LocalAddr().(*net.UDPAddr).Port)

	srv := newTestServer(ServerConfig{})
	_, err = srv.Start(context.Background(), port, newChanObserver())
	if !errors.Is(err, udpgps.ErrTransport) {
		t.Fatalf("err=%v want ErrTransport", err)
	}
	if _, ok := srv.Active(); ok {
		t.Error("failed bind left an active session")
	}
}

func TestNilObserverRejected(t *testing.T) {
	srv := newTestServer(ServerConfig{})
	if _, err := srv.Start(context.Background(), 0, nil); !errors.Is(err, udpgps.ErrConfig) {
		t.Errorf("err=%v", err)
	}
}

func TestOversizedDatagramTruncated(t *testing.T) {
	srv := newTestServer(ServerConfig{})
	obs := newChanObserver()
	sess, err := srv.Start(context.Background(), 0, obs)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Cancel()

	sendTo(t, sess.Addr(), strings.Repeat("x", 2000))
	got := obs.nextSample(t)
	if !strings.HasPrefix(got, strings.Repeat("x", 1024)+"\nClient address: ") {
		t.Errorf("payload not truncated to 1024 bytes: len=%d", len(got))
	}
	sendTo(t, sess.Addr(), "1 2")
	if got := obs.nextSample(t); !strings.HasPrefix(got, "1 2\n") {
		t.Errorf("session stopped after oversized datagram: %q", got)
	}
}

func TestProxyHeader(t *testing.T) {
	srv := newTestServer(ServerConfig{ProxyHeader: true})
	obs := newChanObserver()
	sess, err := srv.Start(context.Background(), 0, obs)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Cancel()

	sendTo(t, sess.Addr(), "PROXY TCP4 192.0.2.7 10.0.0.1 5555 9999\r\n1 2\n")
	if got := obs.nextSample(t); got != "1 2\nClient address: 192.0.2.7\n" {
		t.Errorf("got %q", got)
	}
	sendTo(t, sess.Addr(), "3 4\n")
	if got := obs.nextSample(t); got != "3 4\nClient address: 127.0.0.1\n" {
		t.Errorf("got %q", got)
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{Idle: "idle", Listening: "listening", Stopping: "stopping", Closed: "closed"} {
		if st.String() != want {
			t.Errorf("%d.String()=%q", st, st.String())
		}
	}
}
