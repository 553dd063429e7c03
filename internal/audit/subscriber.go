package audit

import (
	"context"

	"github.com/krishx06/SKAG-MedTech/internal/shared/events"
)

const subscriberName = "audit-trail"

// Subscriber records pipeline events in the audit trail
type Subscriber struct {
	trail *Trail
	bus   *events.Bus
}

// NewSubscriber creates an audit subscriber
func NewSubscriber(trail *Trail, bus *events.Bus) *Subscriber {
	return &Subscriber{trail: trail, bus: bus}
}

// Subscribe attaches the subscriber to the bus as a wildcard consumer.
// Priority 1 runs it after every other consumer so it records what actually
// happened. Kinds without an audit action are ignored.
func (s *Subscriber) Subscribe() {
	s.bus.SubscribeAll(subscriberName, 1, s.handleEvent)
}

func (s *Subscriber) handleEvent(ctx context.Context, evt events.Event) error {
	switch payload := evt.Payload.(type) {
	case events.DecisionMadePayload:
		s.trail.Record(ActorTypeSystem, evt.Source, ActionDecisionMade,
			"decision", payload.DecisionID, payload.PatientID, map[string]any{
				"decision_type":  payload.DecisionType,
				"priority_score": payload.PriorityScore,
				"requires_ack":   payload.RequiresAck,
			})

	case events.DecisionExecutedPayload:
		s.trail.Record(ActorTypeOperator, payload.ExecutedBy, ActionDecisionExecuted,
			"decision", payload.DecisionID, payload.PatientID, nil)

	case events.PatientAdmittedPayload:
		s.trail.Record(actorFor(evt.Source), evt.Source, ActionPatientAdmitted,
			"patient", payload.Patient.ID, payload.Patient.ID, map[string]any{
				"acuity_level":   int(payload.Patient.AcuityLevel),
				"admission_unit": payload.AdmissionUnit,
			})

	case events.PatientDischargedPayload:
		s.trail.Record(actorFor(evt.Source), evt.Source, ActionPatientDischarged,
			"patient", payload.PatientID, payload.PatientID, map[string]any{
				"destination": payload.Destination,
			})

	case events.SystemAlertPayload:
		s.trail.Record(ActorTypeSystem, evt.Source, ActionAlertRaised,
			"alert", "", "", map[string]any{
				"level":           payload.Level,
				"message":         payload.Message,
				"action_required": payload.ActionRequired,
			})

	}
	return nil
}

func actorFor(source string) ActorType {
	if source == "simulator" {
		return ActorTypeSimulator
	}
	return ActorTypeSystem
}
