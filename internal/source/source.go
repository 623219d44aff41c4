// Package source holds location producers. They push samples on a channel
// until their context ends; consumers never poll.
package source

import (
	"context"
	"math"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/udpgps/internal/udpgps"
)

type Producer interface {
	Run(ctx context.Context, out chan<- udpgps.Sample) error
}

// Simulator moves along a figure-eight around a centre point.
type Simulator struct {
	CenterLat float64
	CenterLon float64
	RadiusDeg float64
	Period    time.Duration
	Interval  time.Duration
	Now       func() time.Time
}

func (s Simulator) Position(now time.Time) (lat, lon float64) {
	period := s.Period
	if period <= 0 {
		period = 120 * time.Second
	}
	radius := s.RadiusDeg
	if radius <= 0 {
		radius = 0.01
	}
	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	lat = clampLat(s.CenterLat + radius*y)
	cos := math.Cos(s.CenterLat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	lon = wrapLon(s.CenterLon + radius*x/cos)
	return lat, lon
}

func (s Simulator) Run(ctx context.Context, out chan<- udpgps.Sample) error {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	return tick(ctx, s.Interval, out, func() (udpgps.Sample, error) {
		t := now()
		lat, lon := s.Position(t)
		return udpgps.NewSample(t, lat, lon)
	})
}

// Fixed reports the same coordinate on every tick.
type Fixed struct {
	Latitude  float64
	Longitude float64
	Interval  time.Duration
}

func (f Fixed) Run(ctx context.Context, out chan<- udpgps.Sample) error {
	if _, err := udpgps.NewSample(time.Now(), f.Latitude, f.Longitude); err != nil {
		return err
	}
	return tick(ctx, f.Interval, out, func() (udpgps.Sample, error) {
		return udpgps.NewSample(time.Now(), f.Latitude, f.Longitude)
	})
}

func tick(ctx context.Context, interval time.Duration, out chan<- udpgps.Sample, next func() (udpgps.Sample, error)) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s, err := next()
		if err != nil {
			log.Warn().Err(err).Str("module", "source").Msg("skipping sample")
		} else {
			select {
			case out <- s:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func clampLat(v float64) float64 {
	return math.Max(-90, math.Min(90, v))
}

func wrapLon(v float64) float64 {
	v = math.Mod(v+180, 360)
	if v < 0 {
		v += 360
	}
	return v - 180
}
