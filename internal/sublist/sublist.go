package sublist

import (
	"encoding/json"
	"sync"
	"time"

	"nuha.dev/udpgps/internal/subscriber"
	"nuha.dev/udpgps/internal/udpgps/codec"
)

// Wildcard subscribes to every sender.
const Wildcard = "*"

type SublistMap struct {
	mu   *sync.Mutex
	list map[string]*Sublist
}

type Sublist struct {
	key        string
	list       map[subscriber.Subscriber]bool
	data       []byte
	event_data []byte
	mu         *sync.Mutex
}

type location struct {
	Sender     string    `json:"sender"`
	GpsTime    time.Time `json:"gps_time"`
	ServerTime time.Time `json:"server_time"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
}

type event struct {
	Sender  string    `json:"sender"`
	Topic   string    `json:"topic"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

func NewSublistMap() *SublistMap {
	m := SublistMap{}
	m.mu = &sync.Mutex{}
	m.list = map[string]*Sublist{}
	return &m
}

func (s *SublistMap) GetSublist(key string, create bool) (*Sublist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.list[key]
	if ok {
		return l, true
	}
	if !create {
		return nil, false
	}
	l = &Sublist{key: key, list: make(map[subscriber.Subscriber]bool), mu: &sync.Mutex{}}
	s.list[key] = l
	return l, true
}

// SendLocation publishes a decoded reading to the sender's sublist and to
// the wildcard sublist.
func (s *SublistMap) SendLocation(r codec.Reading, server_time time.Time) error {
	d, err := encode_location(r, server_time)
	if err != nil {
		return err
	}
	for _, key := range []string{r.Label, Wildcard} {
		l, _ := s.GetSublist(key, true)
		l.setLocation(r.Label, d)
	}
	return nil
}

// SendEvent publishes an error or notice to wildcard subscribers only, since
// failures are not always attributable to a sender.
func (s *SublistMap) SendEvent(topic, message string, t time.Time) error {
	l, _ := s.GetSublist(Wildcard, true)
	return l.SendEvent(topic, message, t)
}

// Subscribe registers sub and replays the latest location and event so a new
// viewer does not start blank.
func (s *Sublist) Subscribe(sub subscriber.Subscriber) {
	s.mu.Lock()
	s.list[sub] = true
	if s.data != nil {
		sub.Push(s.key, s.data)
	}
	if s.event_data != nil {
		sub.Push(s.key, s.event_data)
	}
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(sub subscriber.Subscriber) {
	s.mu.Lock()
	delete(s.list, sub)
	s.mu.Unlock()
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// SendLocation pushes a reading to this sublist only. A reading that cannot
// be encoded is not cached and not pushed.
func (s *Sublist) SendLocation(r codec.Reading, server_time time.Time) error {
	d, err := encode_location(r, server_time)
	if err != nil {
		return err
	}
	s.setLocation(r.Label, d)
	return nil
}

func (s *Sublist) setLocation(sender string, d []byte) {
	s.mu.Lock()
	s.data = d
	s.mu.Unlock()
	s.Send(sender, d)
}

func (s *Sublist) SendEvent(topic, message string, t time.Time) error {
	d, err := encode_event(s.key, topic, message, t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.event_data = d
	s.mu.Unlock()
	s.Send(s.key, d)
	return nil
}

func (s *Sublist) Send(sender string, d []byte) {
	s.mu.Lock()
	for sub := range s.list {
		closed := sub.Push(sender, d)
		if closed {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
}

func encode_location(r codec.Reading, server_time time.Time) ([]byte, error) {
	return json.Marshal(location{
		Sender:     r.Label,
		GpsTime:    r.Time,
		ServerTime: server_time,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
	})
}

func encode_event(sender, topic, message string, t time.Time) ([]byte, error) {
	return json.Marshal(event{Sender: sender, Topic: topic, Message: message, Time: t})
}
