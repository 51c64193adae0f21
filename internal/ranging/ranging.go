// Package ranging drives the ultrasonic obstacle sensors and turns raw
// echo pulse timing into zone-level collision-risk signals.
package ranging

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/gpio"
	"github.com/strayline/roverctl/internal/observability"
)

// speedOfSoundCMPerUS is the speed of sound at ~20°C in cm/µs. The
// temperature dependence is below sensor accuracy and is ignored.
const speedOfSoundCMPerUS = 0.0343

// triggerPulse is the trigger-high interval the HC-SR04 expects.
const triggerPulse = 10 * time.Microsecond

// Clock abstracts time for the pulse-timing polls so tests can script
// echo widths without real hardware.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// SensorReading is one measurement. A timed-out or out-of-range echo is
// data, not an error: Valid is false and DistanceCM carries whatever
// diagnostic value is available.
type SensorReading struct {
	DistanceCM float64
	Valid      bool
	Timestamp  time.Time
}

// SensorSpec describes one sensor's wiring and zone membership.
type SensorSpec struct {
	Key  string
	Name string
	Trig int
	Echo int
	Zone string
}

// Config tunes validity bounds and timing.
type Config struct {
	MinDistanceCM  float64
	MaxDistanceCM  float64
	StopDistanceCM float64
	// EchoTimeout bounds each of the two echo polls.
	EchoTimeout time.Duration
	// SettleDelay separates sequential sensor reads to avoid
	// cross-talk between adjacent transducers.
	SettleDelay time.Duration
	// AssumeClearOnInvalid selects the aggregation policy for a zone
	// with no valid readings: true reports max range (assume clear),
	// false reports zero (assume obstacle).
	AssumeClearOnInvalid bool
}

func DefaultConfig() Config {
	return Config{
		MinDistanceCM:        2,
		MaxDistanceCM:        400,
		StopDistanceCM:       20,
		EchoTimeout:          30 * time.Millisecond,
		SettleDelay:          10 * time.Millisecond,
		AssumeClearOnInvalid: true,
	}
}

type sensor struct {
	spec SensorSpec
	trig gpio.Output
	echo gpio.Input
}

// Array reads a set of ultrasonic sensors strictly sequentially. It is
// not safe for concurrent use: pin ownership is exclusive and firing
// adjacent sensors concurrently corrupts both echoes.
type Array struct {
	cfg     Config
	sensors []sensor
	byKey   map[string]*sensor
	clock   Clock
	logger  zerolog.Logger

	mu   sync.Mutex
	last map[string]SensorReading
}

func NewArray(chip gpio.Chip, specs []SensorSpec, cfg Config) (*Array, error) {
	a := &Array{
		cfg:     cfg,
		sensors: make([]sensor, 0, len(specs)),
		byKey:   make(map[string]*sensor, len(specs)),
		clock:   realClock{},
		logger:  log.With().Str("component", "ranging").Logger(),
		last:    make(map[string]SensorReading),
	}
	for _, spec := range specs {
		trig, err := chip.Output(spec.Trig)
		if err != nil {
			return nil, fmt.Errorf("ranging: trig pin %d (%s): %w", spec.Trig, spec.Key, err)
		}
		echo, err := chip.Input(spec.Echo)
		if err != nil {
			return nil, fmt.Errorf("ranging: echo pin %d (%s): %w", spec.Echo, spec.Key, err)
		}
		a.sensors = append(a.sensors, sensor{spec: spec, trig: trig, echo: echo})
		a.byKey[spec.Key] = &a.sensors[len(a.sensors)-1]
	}
	return a, nil
}

// SetClock swaps the timing source. Intended for tests.
func (a *Array) SetClock(c Clock) {
	a.clock = c
}

// ReadSensor performs one blocking, bounded-time measurement.
func (a *Array) ReadSensor(key string) SensorReading {
	ts := a.clock.Now()
	s, ok := a.byKey[key]
	if !ok {
		a.logger.Error().Str("sensor", key).Msg("unknown sensor")
		return SensorReading{Timestamp: ts}
	}
	reading := a.measure(s, ts)
	a.mu.Lock()
	a.last[key] = reading
	a.mu.Unlock()
	return reading
}

func (a *Array) measure(s *sensor, ts time.Time) SensorReading {
	if err := s.trig.Write(gpio.High); err != nil {
		a.logger.Error().Err(err).Str("sensor", s.spec.Key).Msg("trigger write failed")
		return SensorReading{Timestamp: ts}
	}
	a.clock.Sleep(triggerPulse)
	if err := s.trig.Write(gpio.Low); err != nil {
		a.logger.Error().Err(err).Str("sensor", s.spec.Key).Msg("trigger write failed")
		return SensorReading{Timestamp: ts}
	}

	pulseStart, ok := a.pollEcho(s, gpio.High, a.clock.Now())
	if !ok {
		observability.RecordRangingTimeout(s.spec.Key)
		return SensorReading{Timestamp: ts}
	}
	pulseEnd, ok := a.pollEcho(s, gpio.Low, pulseStart)
	if !ok {
		observability.RecordRangingTimeout(s.spec.Key)
		return SensorReading{Timestamp: ts}
	}

	pulseUS := float64(pulseEnd.Sub(pulseStart)) / float64(time.Microsecond)
	distance := pulseUS * speedOfSoundCMPerUS / 2

	switch {
	case distance < a.cfg.MinDistanceCM:
		// Near-field echo is unreliable; keep the raw value for
		// diagnostics.
		return SensorReading{DistanceCM: distance, Valid: false, Timestamp: ts}
	case distance > a.cfg.MaxDistanceCM:
		return SensorReading{DistanceCM: a.cfg.MaxDistanceCM, Valid: false, Timestamp: ts}
	default:
		return SensorReading{DistanceCM: distance, Valid: true, Timestamp: ts}
	}
}

// pollEcho busy-polls until the echo pin reads want, returning the
// transition instant, or false once the timeout window elapses.
func (a *Array) pollEcho(s *sensor, want gpio.Level, windowStart time.Time) (time.Time, bool) {
	deadline := windowStart.Add(a.cfg.EchoTimeout)
	for {
		level, err := s.echo.Read()
		if err != nil {
			a.logger.Error().Err(err).Str("sensor", s.spec.Key).Msg("echo read failed")
			return time.Time{}, false
		}
		now := a.clock.Now()
		if level == want {
			return now, true
		}
		if now.After(deadline) {
			return time.Time{}, false
		}
	}
}

// ReadAll reads every sensor sequentially with a settle delay between
// reads. Concurrent reads are disallowed by design, not just
// unimplemented: adjacent sensors hear each other's pings.
func (a *Array) ReadAll() map[string]SensorReading {
	readings := make(map[string]SensorReading, len(a.sensors))
	for _, s := range a.sensors {
		readings[s.spec.Key] = a.ReadSensor(s.spec.Key)
		a.clock.Sleep(a.cfg.SettleDelay)
	}
	return readings
}

// ReadZone reads only the sensors in the named zone.
func (a *Array) ReadZone(zone string) map[string]SensorReading {
	readings := make(map[string]SensorReading)
	for _, s := range a.sensors {
		if s.spec.Zone != zone {
			continue
		}
		readings[s.spec.Key] = a.ReadSensor(s.spec.Key)
		a.clock.Sleep(a.cfg.SettleDelay)
	}
	return readings
}

// MinDistance aggregates the minimum over the valid readings of one
// sweep. A sweep with no valid readings resolves per
// AssumeClearOnInvalid. The split from ReadZone lets callers take one
// sweep and derive every signal from it instead of re-firing the
// hardware per question.
func (a *Array) MinDistance(readings map[string]SensorReading) float64 {
	minDist := -1.0
	for _, r := range readings {
		if !r.Valid {
			continue
		}
		if minDist < 0 || r.DistanceCM < minDist {
			minDist = r.DistanceCM
		}
	}
	if minDist < 0 {
		if a.cfg.AssumeClearOnInvalid {
			return a.cfg.MaxDistanceCM
		}
		return 0
	}
	return minDist
}

// Blocked reports whether a sweep's aggregate minimum is inside the
// stop distance.
func (a *Array) Blocked(readings map[string]SensorReading) bool {
	return a.MinDistance(readings) < a.cfg.StopDistanceCM
}

// MinZoneDistance reads the zone and aggregates the minimum over valid
// readings. An all-invalid zone resolves per AssumeClearOnInvalid.
func (a *Array) MinZoneDistance(zone string) float64 {
	return a.MinDistance(a.ReadZone(zone))
}

// CollisionRisk reads the zone and reports whether its aggregate
// minimum is inside the stop distance.
func (a *Array) CollisionRisk(zone string) bool {
	return a.MinZoneDistance(zone) < a.cfg.StopDistanceCM
}

// Zones lists the distinct zones in sensor order.
func (a *Array) Zones() []string {
	seen := make(map[string]bool)
	var zones []string
	for _, s := range a.sensors {
		if !seen[s.spec.Zone] {
			seen[s.spec.Zone] = true
			zones = append(zones, s.spec.Zone)
		}
	}
	return zones
}

// LastReadings returns a copy of the most recent reading per sensor.
func (a *Array) LastReadings() map[string]SensorReading {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]SensorReading, len(a.last))
	for k, v := range a.last {
		out[k] = v
	}
	return out
}

// Summary formats the latest readings for diagnostics.
func (a *Array) Summary() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := ""
	for i, s := range a.sensors {
		if i > 0 {
			out += " | "
		}
		r, ok := a.last[s.spec.Key]
		if ok && r.Valid {
			out += fmt.Sprintf("%s: %.1f cm", s.spec.Name, r.DistanceCM)
		} else {
			out += fmt.Sprintf("%s: --", s.spec.Name)
		}
	}
	return out
}
