// Package feed turns listener and sender callbacks into one event stream
// that display collaborators subscribe to. Decoding happens here, so a bad
// payload becomes an error event and never reaches the receive loop.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/phuslu/log"
	"nuha.dev/udpgps/internal/metrics"
	"nuha.dev/udpgps/internal/udpgps/codec"
)

const (
	TopicSample = "location.sample"
	TopicError  = "location.error"

	topicMatcher = `^location\.`
)

type Kind int

const (
	KindSample Kind = iota
	KindError
)

type Event struct {
	Kind    Kind
	Reading codec.Reading
	Raw     string
	Err     error
	Time    time.Time
}

// Message is the text a display shows for the event.
func (e Event) Message() string {
	if e.Kind == KindError {
		if e.Err == nil {
			return "unknown error"
		}
		return e.Err.Error()
	}
	return codec.Format(e.Reading)
}

type Feed struct {
	log     log.Logger
	bus     *bus.Bus
	metrics *metrics.Metrics
	mu      sync.Mutex
	dropped map[string]uint64
}

func New(m *metrics.Metrics) (*Feed, error) {
	node := uint64(1)
	initialTime := uint64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	mt, err := monoton.New(sequencer.NewMillisecond(), node, initialTime)
	if err != nil {
		return nil, err
	}
	var idGenerator bus.Next = mt.Next
	b, err := bus.NewBus(idGenerator)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(TopicSample, TopicError)

	f := &Feed{bus: b, metrics: m, dropped: make(map[string]uint64)}
	if f.metrics == nil {
		f.metrics = metrics.Default
	}
	f.log = log.DefaultLogger
	f.log.Context = log.NewContext(nil).Str("module", "feed").Value()
	return f, nil
}

// OnSample decodes one annotated datagram and publishes the result.
func (f *Feed) OnSample(raw string) {
	now := time.Now().UTC()
	r, err := codec.Decode([]byte(raw))
	if err != nil {
		f.metrics.DecodeErrors.Inc()
		f.log.Debug().Err(err).Str("raw", raw).Msg("undecodable datagram")
		f.Publish(Event{Kind: KindError, Raw: raw, Err: err, Time: now})
		return
	}
	f.metrics.SamplesDecoded.Inc()
	f.Publish(Event{Kind: KindSample, Reading: r, Raw: raw, Time: now})
}

func (f *Feed) OnError(err error) {
	f.Publish(Event{Kind: KindError, Err: err, Time: time.Now().UTC()})
}

func (f *Feed) Publish(ev Event) {
	topic := TopicSample
	if ev.Kind == KindError {
		topic = TopicError
	}
	if err := f.bus.Emit(context.Background(), topic, ev); err != nil {
		f.log.Error().Err(err).Str("topic", topic).Msg("emit failed")
	}
}

// Subscribe registers fn under key. fn runs on the publishing goroutine.
func (f *Feed) Subscribe(key string, fn func(Event)) {
	f.bus.RegisterHandler(key, bus.Handler{
		Handle: func(ctx context.Context, e bus.Event) {
			if ev, ok := e.Data.(Event); ok {
				fn(ev)
			}
		},
		Matcher: topicMatcher,
	})
}

func (f *Feed) Unsubscribe(key string) {
	f.bus.DeregisterHandler(key)
}

// Chan subscribes a buffered channel. Events that do not fit are dropped so
// a slow reader never stalls the receive loop.
func (f *Feed) Chan(key string, size int) <-chan Event {
	ch := make(chan Event, size)
	f.Subscribe(key, func(ev Event) {
		select {
		case ch <- ev:
		default:
			f.mu.Lock()
			f.dropped[key]++
			f.mu.Unlock()
		}
	})
	return ch
}

func (f *Feed) Dropped(key string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped[key]
}
