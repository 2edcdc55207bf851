package controller

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"simpilot/internal/protocol"
)

// Record types
const (
	RecordSession = "session"
	RecordFrame   = "frame"
)

// SessionRecord starts the records of one session.
type SessionRecord struct {
	Type      string    `msgpack:"type"`
	Session   int64     `msgpack:"sess"`
	Aircraft  string    `msgpack:"aircraft"`
	Version   string    `msgpack:"ver"`
	Exporting bool      `msgpack:"exp"`
	Started   time.Time `msgpack:"started"`
}

// FrameRecord is the recorded subset of one frame.
type FrameRecord struct {
	Type     string     `msgpack:"type"`
	Session  int64      `msgpack:"sess"`
	Number   int64      `msgpack:"fr"`
	Time     float64    `msgpack:"time"`
	Dt       float64    `msgpack:"dt"`
	Pitch    float64    `msgpack:"pitch"`
	Bank     float64    `msgpack:"bank"`
	Heading  float64    `msgpack:"hdg"`
	Position [3]float64 `msgpack:"pos"`
	Velocity [3]float64 `msgpack:"vel"`
	AoA      float64    `msgpack:"aoa"`
	TAS      float64    `msgpack:"tas"`
	CAS      float64    `msgpack:"cas"`
	Mach     float64    `msgpack:"mach"`
	Fuel     float64    `msgpack:"fuel"`
	FuelFlow *float64   `msgpack:"ff,omitempty"`
	DialCAS  *float64   `msgpack:"dial_cas,omitempty"`
}

func optPtr(o protocol.Opt[float64]) *float64 {
	if v, ok := o.Get(); ok {
		return &v
	}
	return nil
}

// Recorder writes every frame it sees as a msgpack record. It never
// commands anything.
type Recorder struct {
	Base
	logger *logrus.Logger
	w      io.Writer
	now    func() time.Time
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w io.Writer, logger *logrus.Logger) *Recorder {
	return &Recorder{
		Base:   Base{ControllerName: "recorder"},
		logger: logger,
		w:      w,
		now:    time.Now,
	}
}

// Reset has nothing to discard; records are written as they come.
func (r *Recorder) Reset() {}

func (r *Recorder) write(v interface{}) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if _, err := r.w.Write(b); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (r *Recorder) NewSession(bulk *protocol.Bulk) {
	err := r.write(&SessionRecord{
		Type:      RecordSession,
		Session:   bulk.Session,
		Aircraft:  bulk.Aircraft,
		Version:   bulk.Version,
		Exporting: bulk.Exporting,
		Started:   r.now(),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to record session start")
	}
}

func (r *Recorder) ProcessFrame(f *protocol.Frame) (*protocol.Command, error) {
	return nil, r.write(&FrameRecord{
		Type:     RecordFrame,
		Session:  f.Session,
		Number:   f.Number,
		Time:     f.Time,
		Dt:       f.Dt,
		Pitch:    f.Pitch,
		Bank:     f.Bank,
		Heading:  f.Heading,
		Position: [3]float64{f.Position.X, f.Position.Y, f.Position.Z},
		Velocity: [3]float64{f.Velocity.X, f.Velocity.Y, f.Velocity.Z},
		AoA:      f.AoA,
		TAS:      f.TAS,
		CAS:      f.CAS,
		Mach:     f.Mach,
		Fuel:     f.FuelInternal + f.FuelExternal,
		FuelFlow: optPtr(f.FuelFlow),
		DialCAS:  optPtr(f.DialCAS),
	})
}

// ReadRecords decodes a recording, calling fn with each record in order.
func ReadRecords(rd io.Reader, fn func(rec interface{}) error) error {
	dec := msgpack.NewDecoder(rd)
	for {
		var raw msgpack.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode record: %w", err)
		}

		var head struct {
			Type string `msgpack:"type"`
		}
		if err := msgpack.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("failed to decode record type: %w", err)
		}

		var rec interface{}
		switch head.Type {
		case RecordSession:
			rec = &SessionRecord{}
		case RecordFrame:
			rec = &FrameRecord{}
		default:
			return fmt.Errorf("unknown record type %q", head.Type)
		}
		if err := msgpack.Unmarshal(raw, rec); err != nil {
			return fmt.Errorf("failed to decode %s record: %w", head.Type, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
