package controller

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"simpilot/internal/control"
	"simpilot/internal/protocol"
)

// Climb procedure stages
const (
	StagePrep     = "prep"
	StagePitchUp  = "pitch-up"
	StageClimb    = "climb"
	StageLevelOff = "level-off"
	StageDone     = "done"
	StageFailed   = "failed"
)

// ClimbConfig configures the climb procedure. Speeds are calibrated, in
// m/s; angles in radians.
type ClimbConfig struct {
	ClimbSpeed   float64  `yaml:"climb_speed"`
	ClimbAngle   float64  `yaml:"climb_angle"`  // velocity-vector pitch
	TopAltitude  float64  `yaml:"top_altitude"` // m
	LevelVS      float64  `yaml:"level_vertical_speed"`
	MaxAoA       float64  `yaml:"max_aoa"`
	StageTimeout float64  `yaml:"stage_timeout"` // s of simulation time
	PitchAccel   float64  `yaml:"pitch_accel"`
	Speed        PIDGains `yaml:"speed"` // CAS error to pitch target
	Pitch        PIDGains `yaml:"pitch"`
	Roll         PIDGains `yaml:"roll"`
}

// DefaultClimbConfig returns a gentle climb to 1500 m.
func DefaultClimbConfig() ClimbConfig {
	return ClimbConfig{
		ClimbSpeed:   45,
		ClimbAngle:   0.15,
		TopAltitude:  1500,
		LevelVS:      1.0,
		MaxAoA:       0.3,
		StageTimeout: 300,
		PitchAccel:   0.2,
		Speed:        PIDGains{P: 0.02, I: 0.002, Limit: 0.15},
		Pitch:        PIDGains{P: 2.0, I: 0.5, D: 0.1, Limit: 1},
		Roll:         PIDGains{P: 1.5, I: 0.2, D: 0.05, Limit: 1},
	}
}

// stage is one step of the climb procedure. step flies one frame and
// returns the stage for the next frame, the receiver itself while its exit
// condition does not hold.
type stage interface {
	Name() string
	step(c *Climb, f *protocol.Frame) (*protocol.Command, stage, error)
}

type (
	prepStage     struct{}
	pitchUpStage  struct{}
	climbStage    struct{}
	levelOffStage struct{}
	doneStage     struct{}
	failedStage   struct{}
)

func (prepStage) Name() string { return StagePrep }

// Full throttle, wings level, until climb speed.
func (s prepStage) step(c *Climb, f *protocol.Frame) (*protocol.Command, stage, error) {
	cmd, err := c.fly(f, 0)
	if f.CAS >= c.cfg.ClimbSpeed {
		return cmd, pitchUpStage{}, err
	}
	return cmd, s, err
}

func (pitchUpStage) Name() string { return StagePitchUp }

func (s pitchUpStage) step(c *Climb, f *protocol.Frame) (*protocol.Command, stage, error) {
	cmd, err := c.fly(f, c.cfg.ClimbAngle)
	if f.VVPitch >= c.cfg.ClimbAngle {
		return cmd, climbStage{}, err
	}
	return cmd, s, err
}

func (climbStage) Name() string { return StageClimb }

// Hold climb speed with pitch: too fast means pitch up.
func (s climbStage) step(c *Climb, f *protocol.Frame) (*protocol.Command, stage, error) {
	adjust, err := c.speedPID.Update(f.CAS-c.cfg.ClimbSpeed, f.Dt)
	if err != nil {
		return nil, s, fmt.Errorf("speed loop: %w", err)
	}
	cmd, err := c.fly(f, c.cfg.ClimbAngle+adjust)
	if f.Altitude() >= c.cfg.TopAltitude {
		return cmd, levelOffStage{}, err
	}
	return cmd, s, err
}

func (levelOffStage) Name() string { return StageLevelOff }

func (s levelOffStage) step(c *Climb, f *protocol.Frame) (*protocol.Command, stage, error) {
	cmd, err := c.fly(f, 0)
	if math.Abs(f.VerticalSpeed()) < c.cfg.LevelVS {
		return cmd, doneStage{}, err
	}
	return cmd, s, err
}

func (doneStage) Name() string { return StageDone }

func (s doneStage) step(*Climb, *protocol.Frame) (*protocol.Command, stage, error) {
	return nil, s, nil
}

func (failedStage) Name() string { return StageFailed }

func (s failedStage) step(*Climb, *protocol.Frame) (*protocol.Command, stage, error) {
	return nil, s, nil
}

func terminal(s stage) bool {
	switch s.(type) {
	case doneStage, failedStage:
		return true
	}
	return false
}

// Climb flies a staged climb: accelerate, pitch up, climb at constant
// calibrated airspeed, level off. It gives up control once done or failed.
type Climb struct {
	Base
	logger *logrus.Logger
	cfg    ClimbConfig

	stage      stage
	stageStart float64
	started    bool
	stageName  atomic.Value // string, for readers off the dispatch goroutine

	pitch                       *control.Follower
	pitchPID, rollPID, speedPID *control.PID
}

// NewClimb creates a climb procedure, ready to start at the first frame.
func NewClimb(cfg ClimbConfig, logger *logrus.Logger) *Climb {
	c := &Climb{
		Base:     Base{ControllerName: "climb"},
		logger:   logger,
		cfg:      cfg,
		pitch:    control.NewFollower(cfg.PitchAccel, -0.5, 0.5),
		pitchPID: cfg.Pitch.build(),
		rollPID:  cfg.Roll.build(),
		speedPID: cfg.Speed.build(),
	}
	c.Reset()
	return c
}

// Reset restarts the procedure at the prep stage.
func (c *Climb) Reset() {
	c.pitch.Reset()
	c.pitchPID.Reset()
	c.rollPID.Reset()
	c.speedPID.Reset()
	c.started = false
	c.setStage(prepStage{})
}

// Stage returns the current stage name. Safe for concurrent use.
func (c *Climb) Stage() string {
	return c.stageName.Load().(string)
}

func (c *Climb) setStage(s stage) {
	c.stage = s
	c.stageName.Store(s.Name())
}

func (c *Climb) enter(s stage, f *protocol.Frame, reason string) {
	fields := logrus.Fields{
		"from": c.stage.Name(),
		"to":   s.Name(),
		"time": f.Time,
	}
	if reason != "" {
		fields["reason"] = reason
	}
	c.logger.WithFields(fields).Info("Climb stage change")
	c.setStage(s)
	c.stageStart = f.Time
}

func (c *Climb) ProcessFrame(f *protocol.Frame) (*protocol.Command, error) {
	if terminal(c.stage) {
		return nil, nil
	}
	if !c.started {
		c.started = true
		c.stageStart = f.Time
		c.pitch.SetPosition(f.Pitch)
	}

	switch {
	case f.AoA > c.cfg.MaxAoA:
		c.enter(failedStage{}, f, "angle of attack limit")
		return nil, nil
	case c.cfg.StageTimeout > 0 && f.Time-c.stageStart > c.cfg.StageTimeout:
		c.enter(failedStage{}, f, "stage timeout")
		return nil, nil
	}

	cmd, next, err := c.stage.step(c, f)
	if err != nil {
		return nil, err
	}
	if next.Name() != c.stage.Name() {
		c.enter(next, f, "")
	}
	return cmd, nil
}

// fly holds wings level at full throttle and steers pitch toward target
// through the smoothing follower.
func (c *Climb) fly(f *protocol.Frame, target float64) (*protocol.Command, error) {
	pitch, err := c.pitch.MoveTo(target, f.Time)
	if err != nil {
		return nil, fmt.Errorf("pitch target: %w", err)
	}
	elevator, err := c.pitchPID.Update(pitch-f.Pitch, f.Dt)
	if err != nil {
		return nil, fmt.Errorf("pitch loop: %w", err)
	}
	aileron, err := c.rollPID.Update(-f.Bank, f.Dt)
	if err != nil {
		return nil, fmt.Errorf("roll loop: %w", err)
	}
	return &protocol.Command{
		Pitch:    protocol.Some(elevator),
		Roll:     protocol.Some(aileron),
		Throttle: protocol.Some(1.0),
	}, nil
}

// HandleSignal understands "start", which restarts the procedure, and
// "abort".
func (c *Climb) HandleSignal(name string) {
	switch name {
	case "start":
		c.Reset()
	case "abort":
		if !terminal(c.stage) {
			c.logger.WithField("from", c.stage.Name()).Info("Climb aborted")
			c.setStage(failedStage{})
		}
	}
}
