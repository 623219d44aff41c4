package sender

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/udpgps/internal/metrics"
	"nuha.dev/udpgps/internal/udpgps"
	"nuha.dev/udpgps/internal/udpgps/codec"
	"nuha.dev/udpgps/internal/udpgps/conn"
	"nuha.dev/udpgps/internal/util"
)

const (
	SEND_OK      string = "send_ok"
	SEND_FAILURE string = "send_failure"
)

type ErrorObserver interface {
	OnError(err error)
}

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type SenderConfig struct {
	// ProbeUnreachable, when positive, waits that long after the write for an
	// ICMP port unreachable to come back on the socket.
	ProbeUnreachable time.Duration
	Dial             DialFunc
	Metrics          *metrics.Metrics
}

// Sender pushes samples as single datagrams. Every send opens its own socket
// and closes it before returning, so sends never share state.
type Sender struct {
	log      log.Logger
	config   SenderConfig
	observer ErrorObserver
	dial     DialFunc
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

func NewSender(config *SenderConfig, observer ErrorObserver) *Sender {
	s := &Sender{}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "udp-sender").Value()
	if config != nil {
		s.config = *config
	}
	s.observer = observer
	s.dial = s.config.Dial
	if s.dial == nil {
		d := &net.Dialer{}
		s.dial = d.DialContext
	}
	s.metrics = s.config.Metrics
	if s.metrics == nil {
		s.metrics = metrics.Default
	}
	return s
}

// Send returns immediately. ep is expected to come from udpgps.NewEndpoint;
// an invalid one is returned to the caller and nothing is sent. Any later
// failure is reported once to the observer and never retried.
func (s *Sender) Send(ctx context.Context, ep udpgps.Endpoint, sample udpgps.Sample) error {
	if err := checkEndpoint(ep); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.SendSync(ctx, ep, sample)
		if err != nil && s.observer != nil {
			s.observer.OnError(err)
		}
	}()
	return nil
}

// Wait blocks until every Send started so far has finished.
func (s *Sender) Wait() {
	s.wg.Wait()
}

func (s *Sender) SendSync(ctx context.Context, ep udpgps.Endpoint, sample udpgps.Sample) (err error) {
	if err := checkEndpoint(ep); err != nil {
		return err
	}
	t0 := time.Now()
	defer func() {
		s.metrics.SendDuration.Observe(time.Since(t0).Seconds())
		if err != nil {
			s.metrics.Sends.WithLabelValues("failure").Inc()
		} else {
			s.metrics.Sends.WithLabelValues("ok").Inc()
		}
	}()

	c, err := s.dial(ctx, "udp", ep.Addr())
	if err != nil {
		s.log.Error().Err(err).Str("event", SEND_FAILURE).Str("endpoint", ep.Addr()).Msg("unable to open socket")
		return udpgps.SendFailure(err)
	}
	wc := conn.NewConn(c, util.ShortID())
	defer wc.Close()

	payload := codec.Encode(sample)
	if _, err = wc.Write(payload); err != nil {
		s.log.Error().Err(err).Str("event", SEND_FAILURE).EmbedObject(wc).Msg("error writing datagram")
		return udpgps.SendFailure(err)
	}
	if s.config.ProbeUnreachable > 0 {
		if err = probe(wc, s.config.ProbeUnreachable); err != nil {
			s.log.Error().Err(err).Str("event", SEND_FAILURE).EmbedObject(wc).Msg("destination unreachable")
			return udpgps.SendFailure(err)
		}
	}
	s.log.Debug().Str("event", SEND_OK).EmbedObject(wc).Int("length", len(payload)).Msg("")
	return nil
}

// probe surfaces an asynchronous ICMP error on a connected socket. Silence
// until the deadline, or an unexpected reply, both count as delivered.
func probe(c net.Conn, d time.Duration) error {
	if err := c.SetReadDeadline(time.Now().Add(d)); err != nil {
		return err
	}
	var b [1]byte
	_, err := c.Read(b[:])
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return err
}

func checkEndpoint(ep udpgps.Endpoint) error {
	if ep.Host == "" {
		return udpgps.ConfigError("IP cannot be empty")
	}
	if ep.Port == 0 {
		return udpgps.ConfigError("Port cannot be zero")
	}
	return nil
}
