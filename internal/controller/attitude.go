package controller

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"simpilot/internal/control"
	"simpilot/internal/protocol"
)

// AttitudeConfig configures AttitudeHold. Angles are in radians.
type AttitudeConfig struct {
	Pitch    PIDGains `yaml:"pitch"`
	Roll     PIDGains `yaml:"roll"`
	MaxAccel float64  `yaml:"max_accel"` // target smoothing, rad/s^2
	Step     float64  `yaml:"step"`      // per key press
	MaxPitch float64  `yaml:"max_pitch"`
	MaxBank  float64  `yaml:"max_bank"`
}

// DefaultAttitudeConfig returns gains that hold a light trainer steady.
func DefaultAttitudeConfig() AttitudeConfig {
	return AttitudeConfig{
		Pitch:    PIDGains{P: 2.0, I: 0.5, D: 0.1, Limit: 1},
		Roll:     PIDGains{P: 1.5, I: 0.2, D: 0.05, Limit: 1},
		MaxAccel: 0.5,
		Step:     0.0175,
		MaxPitch: 0.35,
		MaxBank:  0.6,
	}
}

// AttitudeHold holds pitch and bank targets with one PID loop per axis.
// Target changes are smoothed by bounded-acceleration followers so the
// loops never see a step.
type AttitudeHold struct {
	Base
	logger *logrus.Logger
	cfg    AttitudeConfig

	pitchTarget float64
	bankTarget  float64
	capture     bool

	pitch, bank       *control.Follower
	pitchPID, rollPID *control.PID
}

// NewAttitudeHold creates a new attitude hold. It captures the current
// attitude on its first frame.
func NewAttitudeHold(cfg AttitudeConfig, logger *logrus.Logger) *AttitudeHold {
	a := &AttitudeHold{
		Base:     Base{ControllerName: "attitude"},
		logger:   logger,
		cfg:      cfg,
		pitch:    control.NewFollower(cfg.MaxAccel, -cfg.MaxPitch, cfg.MaxPitch),
		bank:     control.NewFollower(cfg.MaxAccel, -cfg.MaxBank, cfg.MaxBank),
		pitchPID: cfg.Pitch.build(),
		rollPID:  cfg.Roll.build(),
	}
	a.Reset()
	return a
}

func (a *AttitudeHold) Reset() {
	a.pitch.Reset()
	a.bank.Reset()
	a.pitchPID.Reset()
	a.rollPID.Reset()
	a.pitchTarget, a.bankTarget = 0, 0
	a.capture = true
}

// Targets returns the pitch and bank targets.
func (a *AttitudeHold) Targets() (pitch, bank float64) {
	return a.pitchTarget, a.bankTarget
}

func (a *AttitudeHold) setTargets(pitch, bank float64) {
	a.pitchTarget = control.Clamp(pitch, -a.cfg.MaxPitch, a.cfg.MaxPitch)
	a.bankTarget = control.Clamp(bank, -a.cfg.MaxBank, a.cfg.MaxBank)
}

func (a *AttitudeHold) ProcessFrame(f *protocol.Frame) (*protocol.Command, error) {
	if a.capture {
		a.setTargets(f.Pitch, f.Bank)
		a.pitch.Reset()
		a.pitch.SetPosition(f.Pitch)
		a.bank.Reset()
		a.bank.SetPosition(f.Bank)
		a.capture = false
		a.logger.WithFields(logrus.Fields{
			"pitch": a.pitchTarget,
			"bank":  a.bankTarget,
		}).Debug("Attitude captured")
	}

	pitch, err := a.pitch.MoveTo(a.pitchTarget, f.Time)
	if err != nil {
		return nil, fmt.Errorf("pitch target: %w", err)
	}
	bank, err := a.bank.MoveTo(a.bankTarget, f.Time)
	if err != nil {
		return nil, fmt.Errorf("bank target: %w", err)
	}

	elevator, err := a.pitchPID.Update(pitch-f.Pitch, f.Dt)
	if err != nil {
		return nil, fmt.Errorf("pitch loop: %w", err)
	}
	aileron, err := a.rollPID.Update(bank-f.Bank, f.Dt)
	if err != nil {
		return nil, fmt.Errorf("roll loop: %w", err)
	}

	return &protocol.Command{
		Pitch: protocol.Some(elevator),
		Roll:  protocol.Some(aileron),
	}, nil
}

// HandleKey nudges the targets with the arrow keys.
func (a *AttitudeHold) HandleKey(ev KeyEvent) bool {
	switch ev.Key {
	case "up":
		a.setTargets(a.pitchTarget+a.cfg.Step, a.bankTarget)
	case "down":
		a.setTargets(a.pitchTarget-a.cfg.Step, a.bankTarget)
	case "left":
		a.setTargets(a.pitchTarget, a.bankTarget-a.cfg.Step)
	case "right":
		a.setTargets(a.pitchTarget, a.bankTarget+a.cfg.Step)
	default:
		return false
	}
	return true
}

// HandleSignal understands "level", which zeroes both targets, and
// "capture", which adopts the attitude of the next frame.
func (a *AttitudeHold) HandleSignal(name string) {
	switch name {
	case "level":
		a.setTargets(0, 0)
	case "capture":
		a.capture = true
	}
}
