// Package control owns the listener lifecycle for the outer surfaces: the
// CLI and the HTTP API start and stop sessions through the same Controller,
// so notices and state stay consistent.
package control

import (
	"context"
	"sync"

	"github.com/phuslu/log"
	"nuha.dev/udpgps/internal/udpgps"
	"nuha.dev/udpgps/internal/udpgps/server"
)

const (
	NoticeListening = "Listening for data..."
	NoticeStopped   = "Stopped"
)

type Status struct {
	State     string `json:"state"`
	Session   string `json:"session,omitempty"`
	Addr      string `json:"addr,omitempty"`
	Datagrams uint64 `json:"datagrams"`
	Bytes     uint64 `json:"bytes"`
}

type Controller struct {
	mu       sync.Mutex
	log      log.Logger
	base     context.Context
	srv      *server.Server
	observer server.Observer
	notify   func(notice string)
	session  *server.Session
	watch    chan struct{}
}

// NewController binds sessions to base: cancelling it stops any session that
// is running.
func NewController(base context.Context, srv *server.Server, observer server.Observer, notify func(notice string)) *Controller {
	c := &Controller{base: base, srv: srv, observer: observer, notify: notify}
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "control").Value()
	if c.notify == nil {
		c.notify = func(string) {}
	}
	return c
}

// Start parses port and starts a session on it.
func (c *Controller) Start(port string) (*server.Session, error) {
	p, err := udpgps.ParsePort(port)
	if err != nil {
		return nil, err
	}
	sess, err := c.srv.Start(c.base, p, c.observer)
	if err != nil {
		return nil, err
	}
	watch := make(chan struct{})
	c.mu.Lock()
	c.session = sess
	c.watch = watch
	c.mu.Unlock()
	c.notify(NoticeListening)
	go func() {
		defer close(watch)
		<-sess.Done()
		if err := sess.Err(); err != nil {
			c.log.Warn().Err(err).Str("session", sess.ID()).Msg("session ended with error")
		}
		c.mu.Lock()
		if c.session == sess {
			c.session = nil
		}
		c.mu.Unlock()
		c.notify(NoticeStopped)
	}()
	return sess, nil
}

// Wait blocks until the last started session has closed and its stop notice
// went out.
func (c *Controller) Wait() {
	c.mu.Lock()
	w := c.watch
	c.mu.Unlock()
	if w != nil {
		<-w
	}
}

// Stop cancels the running session and waits for it to close. It reports
// false when nothing was listening.
func (c *Controller) Stop() bool {
	sess, ok := c.srv.Active()
	if !ok {
		return false
	}
	sess.Cancel()
	<-sess.Done()
	c.Wait()
	return true
}

func (c *Controller) Status() Status {
	sess, ok := c.srv.Active()
	if !ok {
		return Status{State: server.Idle.String()}
	}
	dg, nb := sess.Stat()
	return Status{
		State:     sess.State().String(),
		Session:   sess.ID(),
		Addr:      sess.Addr().String(),
		Datagrams: dg,
		Bytes:     nb,
	}
}
