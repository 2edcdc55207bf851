package controller

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"simpilot/internal/atmos"
	"simpilot/internal/protocol"
)

// SeaLevelSink receives the sea-level reference estimate.
type SeaLevelSink interface {
	SetSeaLevel(sl atmos.SeaLevel)
}

// AirData estimates the sea-level reference from the cockpit dials and,
// once the estimate is good, hands it to sink so derived Mach and CAS use
// it. It never commands anything.
type AirData struct {
	Base
	logger *logrus.Logger
	cfg    atmos.EstimatorConfig
	sink   SeaLevelSink

	estimator *atmos.Estimator
	latest    atomic.Pointer[atmos.Estimate]
}

// NewAirData creates a new air-data controller.
func NewAirData(cfg atmos.EstimatorConfig, sink SeaLevelSink, logger *logrus.Logger) *AirData {
	a := &AirData{
		Base:      Base{ControllerName: "airdata"},
		logger:    logger,
		cfg:       cfg,
		sink:      sink,
		estimator: atmos.NewEstimator(cfg),
	}
	a.Reset()
	return a
}

// Reset drops the estimate and restores the standard atmosphere.
func (a *AirData) Reset() {
	a.estimator.Reset()
	est := a.estimator.Estimate()
	a.latest.Store(&est)
	a.sink.SetSeaLevel(atmos.Standard)
}

// Estimate returns the latest estimate. Safe for concurrent use.
func (a *AirData) Estimate() atmos.Estimate {
	return *a.latest.Load()
}

func (a *AirData) ProcessFrame(f *protocol.Frame) (*protocol.Command, error) {
	dial, ok := f.Dial.Get()
	if !ok {
		return nil, nil
	}

	est, updated, err := a.estimator.Add(atmos.Sample{
		Time:     f.Time,
		TAS:      f.TAS,
		Altitude: f.Altitude(),
		QNH:      dial.QNH,
		Dials:    dial.Dials,
	})
	if err != nil {
		return nil, fmt.Errorf("sea-level estimate: %w", err)
	}
	a.latest.Store(&est)

	if updated && est.Quality <= a.cfg.Threshold {
		a.sink.SetSeaLevel(est.SeaLevel)
		a.logger.WithFields(logrus.Fields{
			"temperature": est.SeaLevel.Temperature,
			"pressure":    est.SeaLevel.Pressure,
			"quality":     est.Quality,
		}).Debug("Sea-level estimate applied")
	}
	return nil, nil
}
