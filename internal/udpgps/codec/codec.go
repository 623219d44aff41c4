// Package codec implements the text wire format shared by the sender and the
// listener:
//
//	Time: 2024-01-01T00:00:00+0000
//	Latitude: 49.25° N
//	Longitude: 123.1° W
//
// The receiver appends a "Client address: <ip>" line before handing the text
// to its observer.
package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"nuha.dev/udpgps/internal/udpgps"
)

const (
	MaxDatagram = 1024
	TimeLayout  = "2006-01-02T15:04:05-0700"
	degree      = "°"

	timeKey    = "Time:"
	latKey     = "Latitude:"
	lonKey     = "Longitude:"
	addressKey = "Client address:"
)

var (
	errMissingCoord = errors.New("payload does not carry two numeric coordinates")
	errBadSuffix    = errors.New("bad hemisphere suffix")
	errRange        = errors.New("coordinate out of range")
)

type Reading struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Label     string    `json:"label"`
}

func Encode(s udpgps.Sample) []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, timeKey...)
	buf = append(buf, ' ')
	buf = s.Time.UTC().AppendFormat(buf, TimeLayout)
	buf = append(buf, '\n')
	buf = append(buf, latKey...)
	buf = append(buf, ' ')
	buf = appendCoord(buf, s.Latitude, 'N', 'S')
	buf = append(buf, lonKey...)
	buf = append(buf, ' ')
	buf = appendCoord(buf, s.Longitude, 'E', 'W')
	return buf
}

// appendCoord writes the magnitude and the hemisphere letter. Zero counts as
// positive.
func appendCoord(buf []byte, v float64, pos, neg byte) []byte {
	h := pos
	if v < 0 {
		h = neg
	}
	buf = strconv.AppendFloat(buf, math.Abs(v), 'f', -1, 64)
	buf = append(buf, degree...)
	buf = append(buf, ' ', h, '\n')
	return buf
}

// Annotate adds the receiver side trailer naming the datagram's source.
func Annotate(payload []byte, from net.Addr) string {
	var sb strings.Builder
	sb.Grow(len(payload) + 40)
	sb.Write(payload)
	if len(payload) > 0 && payload[len(payload)-1] != '\n' {
		sb.WriteByte('\n')
	}
	sb.WriteString(addressKey)
	sb.WriteByte(' ')
	sb.WriteString(HostOf(from))
	sb.WriteByte('\n')
	return sb.String()
}

// HostOf returns the bare IP of a socket address.
func HostOf(a net.Addr) string {
	switch v := a.(type) {
	case nil:
		return ""
	case *net.UDPAddr:
		return v.IP.String()
	case *net.TCPAddr:
		return v.IP.String()
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return host
}

// Decode accepts either the labelled wire format (optionally with the
// receiver trailer) or a bare "lat lon label" stream.
func Decode(b []byte) (Reading, error) {
	r, found, err := decodeLabelled(b)
	if err != nil {
		return Reading{}, udpgps.DecodeFailure(err)
	}
	if !found {
		r, err = decodeBare(b)
		if err != nil {
			return Reading{}, udpgps.DecodeFailure(err)
		}
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
		return Reading{}, udpgps.DecodeFailure(fmt.Errorf("%w: %g,%g", errRange, r.Latitude, r.Longitude))
	}
	return r, nil
}

func decodeLabelled(b []byte) (Reading, bool, error) {
	var r Reading
	var hasLat, hasLon bool
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		var err error
		switch {
		case strings.HasPrefix(line, timeKey):
			r.Time, err = parseTime(strings.TrimSpace(line[len(timeKey):]))
		case strings.HasPrefix(line, latKey):
			r.Latitude, err = parseCoord(line[len(latKey):], "N", "S")
			hasLat = true
		case strings.HasPrefix(line, lonKey):
			r.Longitude, err = parseCoord(line[len(lonKey):], "E", "W")
			hasLon = true
		case strings.HasPrefix(line, addressKey):
			r.Label = firstWord(line[len(addressKey):])
		}
		if err != nil {
			return Reading{}, true, err
		}
	}
	if !hasLat && !hasLon {
		return Reading{}, false, nil
	}
	if !hasLat || !hasLon {
		return Reading{}, true, errMissingCoord
	}
	return r, true, nil
}

func decodeBare(b []byte) (Reading, error) {
	f := strings.Fields(string(b))
	if len(f) < 2 {
		return Reading{}, errMissingCoord
	}
	lat, err := parseNumber(f[0])
	if err != nil {
		return Reading{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := parseNumber(f[1])
	if err != nil {
		return Reading{}, fmt.Errorf("longitude: %w", err)
	}
	r := Reading{Latitude: lat, Longitude: lon}
	if len(f) > 2 {
		r.Label = f[2]
	}
	return r, nil
}

// parseCoord reads "<magnitude>[°] [suffix]". With a suffix the sign comes
// from the letter only.
func parseCoord(s, pos, neg string) (float64, error) {
	f := strings.Fields(s)
	if len(f) == 0 {
		return 0, errMissingCoord
	}
	v, err := parseNumber(f[0])
	if err != nil {
		return 0, err
	}
	if len(f) == 1 {
		return v, nil
	}
	switch strings.ToUpper(f[1]) {
	case pos:
		return math.Abs(v), nil
	case neg:
		return -math.Abs(v), nil
	}
	return 0, fmt.Errorf("%w %q", errBadSuffix, f[1])
}

func parseNumber(tok string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(tok, degree), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", errMissingCoord, tok)
	}
	return v, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t.UTC(), nil
	}
	t, err2 := time.Parse(time.RFC3339Nano, s)
	if err2 != nil {
		return time.Time{}, fmt.Errorf("time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func firstWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// Format renders a decoded reading the way the receiving display shows it.
func Format(r Reading) string {
	var sb strings.Builder
	if r.Label != "" {
		sb.WriteString(r.Label)
		sb.WriteByte('\n')
	}
	sb.WriteString(latKey + " ")
	sb.Write(appendCoord(nil, r.Latitude, 'N', 'S'))
	sb.WriteString(lonKey + " ")
	sb.Write(appendCoord(nil, r.Longitude, 'E', 'W'))
	return sb.String()
}
