package udpgps

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator instance used for samples,
// endpoints and configuration.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Sample is one geolocation fix. Build it with NewSample so the ranges are
// checked; the zero value is a valid fix at 0,0 with no time.
type Sample struct {
	Time      time.Time
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
}

func NewSample(t time.Time, lat, lon float64) (Sample, error) {
	s := Sample{Time: t.UTC(), Latitude: lat, Longitude: lon}
	if err := Validator().Struct(s); err != nil {
		return Sample{}, &Error{Kind: ErrConfig, Msg: "invalid sample", Err: err}
	}
	return s, nil
}

func (s Sample) String() string {
	return fmt.Sprintf("%s %g,%g", s.Time.Format(time.RFC3339), s.Latitude, s.Longitude)
}
