package kinematics

import (
	"github.com/cylinderworks/cylinderworks/internal/core/events/bus"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

const (
	EventInitialized         = "kinematics.initialized"
	EventMechanismInvalid    = "kinematics.mechanism_invalid"
	EventConstraintViolation = "kinematics.constraint_violation"

	eventSource = "kinematics"
)

// MechanismInvalid explains why a mechanism was left at rest.
type MechanismInvalid struct {
	Mechanism string   `json:"mechanism"`
	Reason    string   `json:"reason"`
	Missing   []string `json:"missing,omitempty"`
}

// Violation is a constraint pair that drifted past tolerance in a solved pose.
type Violation struct {
	Constraint string  `json:"constraint"`
	PartA      string  `json:"part_a"`
	PartB      string  `json:"part_b"`
	Distance   float64 `json:"distance"`
	Alignment  float64 `json:"alignment"`
	Angle      float64 `json:"angle"`
}

func (s *System) publish(eventType string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(bus.NewEvent(eventType, eventSource, data, nil)); err != nil {
		s.logger.Warn("Diagnostics handler failed", log.String("event", eventType), log.Error(err))
	}
}
