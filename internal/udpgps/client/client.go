package client

import (
	"context"
	"sync"

	"github.com/phuslu/log"
	"nuha.dev/udpgps/internal/udpgps"
	"nuha.dev/udpgps/internal/udpgps/codec"
)

type runningState int

const (
	created runningState = iota
	running
	stopped
)

// Sender is the part of sender.Sender the client needs.
type Sender interface {
	Send(ctx context.Context, ep udpgps.Endpoint, sample udpgps.Sample) error
}

// Client forwards every sample pushed by a location producer to the current
// endpoint. The endpoint can be changed while running.
type Client struct {
	log    log.Logger
	sender Sender
	echo   func(text string)

	mu     sync.Mutex
	ep     udpgps.Endpoint
	state  runningState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient builds a client. echo, when set, receives the encoded text of
// every forwarded sample for local display.
func NewClient(sender Sender, echo func(text string)) *Client {
	c := &Client{sender: sender, echo: echo}
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "client").Value()
	return c
}

// Start validates host and port and begins forwarding samples. When already
// running only the endpoint is replaced.
func (c *Client) Start(ctx context.Context, host, port string, samples <-chan udpgps.Sample) error {
	ep, err := udpgps.NewEndpoint(host, port)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ep = ep
	if c.state == running {
		c.log.Info().Str("endpoint", ep.Addr()).Msg("endpoint updated")
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.state = running
	c.log.Info().Str("endpoint", ep.Addr()).Msg("forwarding started")
	go c.run(ctx, samples, c.done)
	return nil
}

func (c *Client) SetEndpoint(host, port string) error {
	ep, err := udpgps.NewEndpoint(host, port)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ep = ep
	c.mu.Unlock()
	return nil
}

func (c *Client) Endpoint() udpgps.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ep
}

func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == running
}

// Stop ends forwarding and waits for the loop to exit. Sends already in
// flight are not interrupted.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.state != running {
		c.mu.Unlock()
		return
	}
	c.cancel()
	done := c.done
	c.mu.Unlock()
	<-done
}

func (c *Client) run(ctx context.Context, samples <-chan udpgps.Sample, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.state = stopped
		c.mu.Unlock()
		close(done)
		c.log.Info().Msg("forwarding stopped")
	}()
	sendCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			ep := c.Endpoint()
			if c.echo != nil {
				c.echo(string(codec.Encode(s)))
			}
			if err := c.sender.Send(sendCtx, ep, s); err != nil {
				c.log.Warn().Err(err).Str("endpoint", ep.Addr()).Msg("sample dropped")
			}
		}
	}
}
