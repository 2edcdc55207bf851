package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"simpilot/internal/atmos"
)

// Decoding and encoding errors
var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrUnknownKey  = errors.New("unknown key")
	ErrMalformed   = errors.New("malformed value")
	ErrUnsupported = errors.New("unsupported by airframe")
)

// DecodeError describes a datagram that could not be fully decoded.
// Partial is set when the returned message holds the fields gathered
// before the problem.
type DecodeError struct {
	Payload string
	Key     string
	Partial bool
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%v at key %q in %q", e.Err, e.Key, e.Payload)
	}
	return fmt.Sprintf("%v in %q", e.Err, e.Payload)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Field decodes one frame key with a fixed number of numeric values.
type Field struct {
	Arity int
	Apply func(f *Frame, v []float64)
}

func vec(v []float64) Vec3 { return Vec3{v[0], v[1], v[2]} }

var frameFields = map[string]Field{
	"sess":  {1, func(f *Frame, v []float64) { f.Session = int64(v[0]) }},
	"fr":    {1, func(f *Frame, v []float64) { f.Number = int64(v[0]) }},
	"ufof":  {2, func(f *Frame, v []float64) { f.Underflow, f.Overflow = int64(v[0]), int64(v[1]) }},
	"time":  {1, func(f *Frame, v []float64) { f.Time = v[0] }},
	"pitch": {1, func(f *Frame, v []float64) { f.Pitch = v[0] }},
	"bank":  {1, func(f *Frame, v []float64) { f.Bank = v[0] }},
	"hdg":   {1, func(f *Frame, v []float64) { f.Heading = v[0] }},
	"ang":   {3, func(f *Frame, v []float64) { f.Rates = vec(v) }},
	"pos":   {3, func(f *Frame, v []float64) { f.Position = vec(v) }},
	"vel":   {3, func(f *Frame, v []float64) { f.Velocity = vec(v) }},
	"acc":   {3, func(f *Frame, v []float64) { f.Acceleration = vec(v) }},
	"wind":  {3, func(f *Frame, v []float64) { f.Wind = vec(v) }},
	"aoa":   {1, func(f *Frame, v []float64) { f.AoA = v[0] }},
	"fuel":  {2, func(f *Frame, v []float64) { f.FuelInternal, f.FuelExternal = v[0], v[1] }},
	"surf": {5, func(f *Frame, v []float64) {
		f.Surfaces = Surfaces{Aileron: v[0], Elevator: v[1], Rudder: v[2], Flaps: v[3], SpeedBrake: v[4]}
	}},
	"dial": {4, func(f *Frame, v []float64) {
		f.Dial = Some(DialReading{Dials: atmos.Dials{CAS: v[0], Mach: v[1], Altitude: v[2]}, QNH: v[3]})
	}},
}

var bulkFields = map[string]func(b *Bulk, v string) error{
	"sess": func(b *Bulk, v string) (err error) {
		b.Session, err = strconv.ParseInt(v, 10, 64)
		return err
	},
	"aircraft": func(b *Bulk, v string) error { b.Aircraft = v; return nil },
	"ver":      func(b *Bulk, v string) error { b.Version = v; return nil },
	"exp": func(b *Bulk, v string) (err error) {
		b.Exporting, err = strconv.ParseBool(v)
		return err
	},
}

// Codec decodes telemetry datagrams and encodes commands for the current
// airframe and sea-level reference. Safe for concurrent use.
type Codec struct {
	logger *logrus.Logger

	mu       sync.RWMutex
	airframe Airframe
	seaLevel atmos.SeaLevel
}

// NewCodec creates a new codec for the generic airframe under the standard
// atmosphere.
func NewCodec(logger *logrus.Logger) *Codec {
	return &Codec{
		logger:   logger,
		airframe: Generic,
		seaLevel: atmos.Standard,
	}
}

// SetAirframe selects the airframe extension by name. Unknown names fall
// back to the generic airframe.
func (c *Codec) SetAirframe(name string) Airframe {
	a, ok := LookupAirframe(name)
	if !ok {
		c.logger.WithField("aircraft", name).Debug("No airframe extension, using generic")
	}
	c.mu.Lock()
	c.airframe = a
	c.mu.Unlock()
	return a
}

// Airframe returns the current airframe extension.
func (c *Codec) Airframe() Airframe {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.airframe
}

// SetSeaLevel overrides the reference used for derived Mach and CAS.
func (c *Codec) SetSeaLevel(sl atmos.SeaLevel) {
	c.mu.Lock()
	c.seaLevel = sl
	c.mu.Unlock()
}

// SeaLevel returns the reference used for derived values.
func (c *Codec) SeaLevel() atmos.SeaLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seaLevel
}

// Decode decodes one datagram.
//
// An unknown key stops parsing, since the number of values that follow it
// is unknown: the partial message is returned together with a
// *DecodeError wrapping ErrUnknownKey. A frame cut short before both its
// session and time were read is dropped instead. A malformed value
// returns no message at all.
func (c *Codec) Decode(data []byte) (Message, error) {
	payload := strings.TrimSpace(string(data))
	tokens := strings.Split(payload, ";")
	if n := len(tokens); n > 0 && tokens[n-1] == "" {
		tokens = tokens[:n-1]
	}
	if len(tokens) == 0 {
		return nil, &DecodeError{Payload: payload, Err: ErrMalformed}
	}

	switch tokens[0] {
	case KindFrame:
		return c.decodeFrame(payload, tokens[1:])
	case KindBulk:
		return c.decodeBulk(payload, tokens[1:])
	default:
		return nil, &DecodeError{Payload: payload, Key: tokens[0], Err: ErrUnknownKind}
	}
}

func (c *Codec) decodeFrame(payload string, tokens []string) (Message, error) {
	c.mu.RLock()
	airframe, sl := c.airframe, c.seaLevel
	c.mu.RUnlock()

	f := &Frame{}
	values := make([]float64, 0, 5)
	var hasSession, hasTime bool
	for i := 0; i < len(tokens); {
		key := tokens[i]
		field, ok := frameFields[key]
		if !ok {
			field, ok = airframe.FrameField(key)
		}
		if !ok {
			// without its session and time a frame cannot be sequenced
			if !hasSession || !hasTime {
				return nil, &DecodeError{Payload: payload, Key: key, Err: ErrUnknownKey}
			}
			f.derive(sl)
			return f, &DecodeError{Payload: payload, Key: key, Partial: true, Err: ErrUnknownKey}
		}
		if i+field.Arity >= len(tokens) {
			return nil, &DecodeError{Payload: payload, Key: key,
				Err: fmt.Errorf("%w: %s needs %d values", ErrMalformed, key, field.Arity)}
		}

		values = values[:0]
		for _, tok := range tokens[i+1 : i+1+field.Arity] {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, &DecodeError{Payload: payload, Key: key, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
			}
			values = append(values, v)
		}
		field.Apply(f, values)
		switch key {
		case "sess":
			hasSession = true
		case "time":
			hasTime = true
		}
		i += 1 + field.Arity
	}

	f.derive(sl)
	c.logger.WithFields(logrus.Fields{
		"session": f.Session,
		"time":    f.Time,
		"frame":   f.Number,
	}).Debug("Decoded frame")
	return f, nil
}

func (c *Codec) decodeBulk(payload string, tokens []string) (Message, error) {
	b := &Bulk{}
	for i := 0; i < len(tokens); i += 2 {
		key := tokens[i]
		set, ok := bulkFields[key]
		if !ok {
			return b, &DecodeError{Payload: payload, Key: key, Partial: true, Err: ErrUnknownKey}
		}
		if i+1 >= len(tokens) {
			return nil, &DecodeError{Payload: payload, Key: key,
				Err: fmt.Errorf("%w: %s needs a value", ErrMalformed, key)}
		}
		if err := set(b, tokens[i+1]); err != nil {
			return nil, &DecodeError{Payload: payload, Key: key, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
		}
	}
	c.logger.WithFields(logrus.Fields{
		"session":  b.Session,
		"aircraft": b.Aircraft,
		"version":  b.Version,
	}).Debug("Decoded bulk record")
	return b, nil
}

// Validate checks that the current airframe can perform every set field
// of cmd.
func (c *Codec) Validate(cmd *Command) error {
	a := c.Airframe()
	if a.SupportsTrimAbs() {
		return nil
	}
	for i, t := range cmd.TrimAbs {
		if t.IsSet() {
			return fmt.Errorf("%w: absolute %s trim on %s", ErrUnsupported, Axis(i), a.Name())
		}
	}
	return nil
}

// Encode validates cmd and renders the outgoing datagram, timestamped
// with now.
func (c *Codec) Encode(cmd *Command, now time.Time) ([]byte, error) {
	if err := c.Validate(cmd); err != nil {
		return nil, err
	}
	return cmd.encode(now)
}
