// Package pipeline runs the end-to-end claim assessment: extraction, then
// risk classification and, when the claim carries patient notes, sentiment
// analysis.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/audit"
	"github.com/ppiankov/claimsagent/internal/logging"
	"github.com/ppiankov/claimsagent/internal/model"
	"github.com/ppiankov/claimsagent/internal/schema"
)

// Extractor returns validated claims.
type Extractor interface {
	Extract(ctx context.Context, claimID string, creds model.Credentials) (model.ClaimRecord, error)
}

// Inference runs the model requests.
type Inference interface {
	ClassifyRisk(ctx context.Context, payload model.PatientPayload) (model.RiskResult, error)
	AnalyzePatientText(ctx context.Context, patientID, text string) (model.SentimentResult, error)
}

// Agent orchestrates one claim assessment
type Agent struct {
	extractor Extractor
	inference Inference
	audit     *audit.Emitter
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithAudit sets the audit emitter.
func WithAudit(e *audit.Emitter) Option { return func(a *Agent) { a.audit = e } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(a *Agent) { a.logger = logging.OrNop(l) } }

// NewAgent creates an Agent.
func NewAgent(extractor Extractor, inference Inference, opts ...Option) *Agent {
	a := &Agent{
		extractor: extractor,
		inference: inference,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assess extracts claimID and runs the model requests on its clinical
// block. Extraction failures and cancellation fail the whole assessment.
// Model failures are reported as warnings next to the extracted claim,
// since the claim itself is still valid.
func (a *Agent) Assess(ctx context.Context, claimID string, creds model.Credentials) (*model.Assessment, error) {
	start := a.now()
	if creds.UserID != "" {
		ctx = audit.WithUserID(ctx, creds.UserID)
	}

	claim, err := a.extractor.Extract(ctx, claimID, creds)
	if err != nil {
		return nil, a.finish(ctx, claimID, "", start, err)
	}
	log := a.logger.With(zap.String("claim_id", claim.ClaimID))

	assessment := &model.Assessment{Claim: claim}

	if claim.Patient == nil {
		assessment.Warnings = append(assessment.Warnings, "no clinical data attached to claim, risk not classified")
	} else {
		payload := PayloadFromClaim(claim)

		risk, err := a.inference.ClassifyRisk(ctx, payload)
		switch {
		case err == nil:
			assessment.Risk = &risk
		case apperr.KindOf(err) == apperr.KindCancelled:
			return nil, a.finish(ctx, claimID, claim.PatientID, start, err)
		default:
			log.Warn("risk classification failed", zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
			assessment.Warnings = append(assessment.Warnings, warning("risk classification", err))
		}

		if payload.PatientText != "" {
			sentiment, err := a.inference.AnalyzePatientText(ctx, claim.PatientID, payload.PatientText)
			switch {
			case err == nil:
				assessment.Sentiment = &sentiment
			case apperr.KindOf(err) == apperr.KindCancelled:
				return nil, a.finish(ctx, claimID, claim.PatientID, start, err)
			default:
				log.Warn("sentiment analysis failed", zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
				assessment.Warnings = append(assessment.Warnings, warning("sentiment analysis", err))
			}
		}
	}

	assessment.Elapsed = a.now().Sub(start)
	return assessment, a.finish(ctx, claimID, claim.PatientID, start, nil)
}

func (a *Agent) finish(ctx context.Context, claimID, patientID string, start time.Time, err error) error {
	elapsed := a.now().Sub(start)
	if !schema.IdentifierPattern().MatchString(claimID) {
		claimID = ""
	}
	ev := audit.Event{Action: audit.ActionAssess, ClaimID: claimID, PatientID: patientID, Result: audit.ResultSuccess}
	if err != nil {
		ev.Result = audit.ResultFailure
		ev.Reason = string(apperr.KindOf(err))
		a.logger.Warn("claim assessment failed", zap.String("claim_id", claimID), zap.String("kind", ev.Reason), zap.Duration("elapsed", elapsed))
	} else {
		a.logger.Info("claim assessed", zap.String("claim_id", claimID), zap.Duration("elapsed", elapsed))
	}
	a.audit.Emit(ctx, ev)
	return err
}

// warning describes a model failure by kind only; messages may carry
// upstream detail that does not belong in a response.
func warning(op string, err error) string {
	return fmt.Sprintf("%s unavailable: %s", op, apperr.KindOf(err))
}
