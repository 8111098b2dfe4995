package calls

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-entry/internal/model"
	"github.com/sells-group/lead-entry/internal/store"
)

// Processor applies call events to the store.
type Processor struct {
	store   store.Store
	phrases []string
	log     *zap.Logger
}

// NewProcessor creates a Processor. Empty phrases use DefaultConsentPhrases.
func NewProcessor(st store.Store, phrases []string) *Processor {
	if len(phrases) == 0 {
		phrases = DefaultConsentPhrases
	}
	return &Processor{
		store:   st,
		phrases: phrases,
		log:     zap.L().With(zap.String("component", "calls")),
	}
}

// Outcome normalizes ev without touching the store. A completed call with
// no transcript leaves the lead pending until the report carrying the
// transcript arrives.
func (p *Processor) Outcome(ev Event) model.CallOutcome {
	status := MapProviderStatus(ev.Status)
	consent := status == model.CallStatusCompleted && DetectConsent(ev.Transcript, p.phrases)
	var leadStatus model.LeadStatus
	var reason string
	if status != model.CallStatusCompleted || ev.Transcript != "" {
		leadStatus, reason = LeadTransition(status, consent)
	}
	return model.CallOutcome{
		CallID:       ev.CallID,
		TenantID:     ev.TenantID,
		LeadID:       ev.LeadID,
		Status:       status,
		Transcript:   ev.Transcript,
		RecordingURL: ev.RecordingURL,
		Consent:      consent,
		LeadStatus:   leadStatus,
		Reason:       reason,
	}
}

// Handle records ev. Redelivered or out-of-order events come back with
// Duplicate set and change nothing.
func (p *Processor) Handle(ctx context.Context, ev Event) (*model.CallOutcomeResult, error) {
	out := p.Outcome(ev)
	res, err := p.store.RecordCallOutcome(ctx, out)
	if err != nil {
		return nil, eris.Wrapf(err, "calls: record call %s", ev.CallID)
	}

	log := p.log.With(zap.String("call_id", out.CallID), zap.String("lead_id", out.LeadID),
		zap.String("status", string(out.Status)))
	switch {
	case res.Duplicate:
		log.Debug("duplicate call event ignored")
	case res.LeadUpdated:
		log.Info("lead status updated from call",
			zap.String("from", string(res.From)), zap.String("to", string(res.To)),
			zap.Bool("consent", out.Consent))
	default:
		log.Debug("call event recorded")
	}
	return res, nil
}
