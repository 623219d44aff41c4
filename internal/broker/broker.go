// Package broker relays feed events to NATS in batches.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/udpgps/internal/feed"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subj string, data []byte) error
}

type Broker struct {
	logger zerolog.Logger
	config BrokerConfig
	pub    Publisher
	wbuf   buffer
	wlock  *sync.Mutex
	flushq chan buffer
}

type BrokerConfig struct {
	URL      string
	Subject  string
	BufSize  int
	TimerDur time.Duration
}

type message struct {
	subj string
	data []byte
}

type buffer struct {
	seq uint64
	t1  time.Time
	buf []message
}

type sampleMessage struct {
	Sender     string    `json:"sender"`
	GpsTime    time.Time `json:"gps_time"`
	ServerTime time.Time `json:"server_time"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
}

type errorMessage struct {
	Error string    `json:"error"`
	Raw   string    `json:"raw,omitempty"`
	Time  time.Time `json:"time"`
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]message, 0, len)}
}

func NewBroker(pub Publisher, config *BrokerConfig) *Broker {
	br := &Broker{pub: pub}
	if config != nil {
		br.config = *config
	}
	if br.config.Subject == "" {
		br.config.Subject = "udpgps.location"
	}
	if br.config.BufSize <= 0 {
		br.config.BufSize = 50
	}
	if br.config.TimerDur <= 0 {
		br.config.TimerDur = time.Second
	}
	br.logger = log.With().Str("module", "broker").Logger()
	br.wbuf = new_buffer(0, br.config.BufSize)
	br.wlock = &sync.Mutex{}
	br.flushq = make(chan buffer, 4)
	return br
}

// Connect dials NATS and returns a broker publishing on that connection. The
// returned close func drains the connection.
func Connect(config *BrokerConfig) (*Broker, func(), error) {
	nc, err := nats.Connect(config.URL,
		nats.Name("udpgps"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "broker").Msg("nats disconnected")
			}
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	return NewBroker(nc, config), func() { nc.Drain() }, nil
}

// Handle queues a feed event. Samples go to the subject, errors to
// "<subject>.error".
func (br *Broker) Handle(ev feed.Event) {
	var m message
	var err error
	if ev.Kind == feed.KindError {
		m.subj = br.config.Subject + ".error"
		m.data, err = json.Marshal(errorMessage{Error: ev.Message(), Raw: ev.Raw, Time: ev.Time})
	} else {
		r := ev.Reading
		m.subj = br.config.Subject
		m.data, err = json.Marshal(sampleMessage{Sender: r.Label, GpsTime: r.Time, ServerTime: ev.Time, Latitude: r.Latitude, Longitude: r.Longitude})
	}
	if err != nil {
		br.logger.Err(err).Msg("unable to encode event")
		return
	}
	br.broadcast(m)
}

func (br *Broker) broadcast(m message) {
	br.wlock.Lock()
	if len(br.wbuf.buf) == 0 {
		br.wbuf.t1 = time.Now()
	}
	br.wbuf.buf = append(br.wbuf.buf, m)
	if len(br.wbuf.buf) == br.config.BufSize {
		br.flush()
	}
	br.wlock.Unlock()
}

// flush hands the write buffer to Run. Caller holds wlock.
func (br *Broker) flush() {
	next := br.wbuf.seq + 1
	select {
	case br.flushq <- br.wbuf:
	default:
		br.logger.Warn().Uint64("seq", br.wbuf.seq).Int("length", len(br.wbuf.buf)).Msg("publisher behind, dropping buffer")
	}
	br.wbuf = new_buffer(next, br.config.BufSize)
}

// Run publishes batches until ctx ends, then publishes what is pending.
func (br *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(br.config.TimerDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			br.wlock.Lock()
			if len(br.wbuf.buf) != 0 {
				br.flush()
			}
			br.wlock.Unlock()
			for {
				select {
				case buf := <-br.flushq:
					br.publish(buf)
				default:
					return
				}
			}
		case t := <-ticker.C:
			br.wlock.Lock()
			if len(br.wbuf.buf) != 0 && t.Sub(br.wbuf.t1) > br.config.TimerDur {
				br.flush()
			}
			br.wlock.Unlock()
		case buf := <-br.flushq:
			br.publish(buf)
		}
	}
}

func (br *Broker) publish(buf buffer) {
	for _, m := range buf.buf {
		if err := br.pub.Publish(m.subj, m.data); err != nil {
			br.logger.Err(err).Uint64("seq", buf.seq).Msg("error publishing buffer")
			return
		}
	}
	br.logger.Debug().Uint64("seq", buf.seq).Int("length", len(buf.buf)).Msg("buffer published")
}
