package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/logging"
)

// CommitResult is the outcome of an applied change. Record is nil for deletes.
type CommitResult struct {
	Applied    bool         `json:"applied"`
	Record     *core.Record `json:"record,omitempty"`
	DeletedIDs []string     `json:"deleted_ids,omitempty"`
}

// Gate is the confirmation gate guarding document store mutations. The
// mutating path is a two-phase workflow: Propose computes a preview and risk
// verdict without side effects; Commit applies the change only when the
// verdict permits it or the caller has confirmed. Confirmed applies are
// de-duplicated by idempotency key so a retried confirmation never
// double-applies.
type Gate struct {
	assessor *Assessor
	docs     core.DocumentStore
	logger   logging.Logger

	mu      sync.Mutex
	applied map[string]*CommitResult
}

// GateOptions configures Gate construction.
type GateOptions struct {
	Assessor *Assessor
	Logger   logging.Logger
}

// NewGate constructs a gate over the given document store.
func NewGate(docs core.DocumentStore, optFns ...func(o *GateOptions)) *Gate {
	opts := GateOptions{
		Assessor: NewAssessor(),
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gate{
		assessor: opts.Assessor,
		docs:     docs,
		logger:   opts.Logger,
		applied:  make(map[string]*CommitResult),
	}
}

// Propose assesses a change and returns a previewed proposal. It never
// mutates the document store; the same proposal is reusable on retry.
func (g *Gate) Propose(ctx context.Context, change core.ChangeRequest) (*core.Proposal, error) {
	target, err := g.lookupTarget(ctx, change)
	if err != nil {
		return nil, err
	}

	assessment := g.assessor.Assess(change, target)

	proposal := &core.Proposal{
		ID:                   core.NewID(),
		Change:               change,
		Preview:              Preview(change, target),
		Level:                string(assessment.Level),
		Reasons:              assessment.Reasons,
		RequiresConfirmation: assessment.RequiresConfirmation,
		CreatedAt:            time.Now().UTC(),
	}

	g.logger.Debug("risk.propose",
		"action", change.Action,
		"kind", change.ResourceKind,
		"level", proposal.Level,
		"requires_confirmation", proposal.RequiresConfirmation,
	)

	return proposal, nil
}

// Commit applies a previously proposed change. It fails with
// *core.PendingConfirmationError when the proposal requires confirmation and
// confirmed is false. When idempotencyKey is non-empty, a repeated commit
// with the same key returns the recorded result without re-applying.
func (g *Gate) Commit(ctx context.Context, proposal *core.Proposal, confirmed bool, idempotencyKey string) (*CommitResult, error) {
	if proposal == nil {
		return nil, fmt.Errorf("nil proposal")
	}

	if proposal.RequiresConfirmation && !confirmed {
		g.logger.Info("risk.commit.held",
			"proposal_id", proposal.ID,
			"action", proposal.Change.Action,
			"kind", proposal.Change.ResourceKind,
			"level", proposal.Level,
		)
		return nil, &core.PendingConfirmationError{Proposal: proposal}
	}

	if idempotencyKey != "" {
		// The dedupe check and the apply share one critical section, so two
		// concurrent commits with the same key cannot both mutate the store.
		g.mu.Lock()
		defer g.mu.Unlock()

		if prior, ok := g.applied[idempotencyKey]; ok {
			g.logger.Info("risk.commit.deduplicated", "proposal_id", proposal.ID, "idempotency_key", idempotencyKey)
			return prior, nil
		}

		result, err := g.apply(ctx, proposal.Change)
		if err != nil {
			return nil, err
		}
		g.applied[idempotencyKey] = result

		g.logger.Info("risk.commit.applied",
			"proposal_id", proposal.ID,
			"action", proposal.Change.Action,
			"kind", proposal.Change.ResourceKind,
			"idempotency_key", idempotencyKey,
		)

		return result, nil
	}

	result, err := g.apply(ctx, proposal.Change)
	if err != nil {
		return nil, err
	}

	g.logger.Info("risk.commit.applied",
		"proposal_id", proposal.ID,
		"action", proposal.Change.Action,
		"kind", proposal.Change.ResourceKind,
	)

	return result, nil
}

// lookupTarget fetches the current record for update/delete assessments.
// A missing target is surfaced for single-record update/delete so the loop
// can self-correct; create and bulk changes have no single target.
func (g *Gate) lookupTarget(ctx context.Context, change core.ChangeRequest) (*core.Record, error) {
	if change.Action == "create" || change.RecordID == "" {
		return nil, nil
	}
	rec, err := g.docs.Get(ctx, change.RecordID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, fmt.Errorf("record %s: %w", change.RecordID, core.ErrNotFound)
		}
		return nil, &core.StoreError{Op: "get record", Err: err}
	}
	return rec, nil
}

// apply performs the mutation. Bulk deletes apply per target in order.
func (g *Gate) apply(ctx context.Context, change core.ChangeRequest) (*CommitResult, error) {
	switch change.Action {
	case "create":
		rec := &core.Record{
			ID:        core.NewID(),
			SubjectID: change.SubjectID,
			Kind:      change.ResourceKind,
			Fields:    change.Fields,
		}
		if title, ok := change.Fields["title"].(string); ok {
			rec.Title = title
		}
		created, err := g.docs.Create(ctx, rec)
		if err != nil {
			return nil, &core.StoreError{Op: "create record", Err: err}
		}
		return &CommitResult{Applied: true, Record: created}, nil

	case "update":
		updated, err := g.docs.Update(ctx, change.RecordID, change.Fields)
		if err != nil {
			if core.IsNotFound(err) {
				return nil, fmt.Errorf("record %s: %w", change.RecordID, core.ErrNotFound)
			}
			return nil, &core.StoreError{Op: "update record", Err: err}
		}
		return &CommitResult{Applied: true, Record: updated}, nil

	case "delete":
		targets := change.TargetIDs
		if len(targets) == 0 && change.RecordID != "" {
			targets = []string{change.RecordID}
		}
		deleted := make([]string, 0, len(targets))
		for _, id := range targets {
			if err := g.docs.Delete(ctx, id); err != nil {
				if core.IsNotFound(err) {
					return nil, fmt.Errorf("record %s: %w", id, core.ErrNotFound)
				}
				return nil, &core.StoreError{Op: "delete record", Err: err}
			}
			deleted = append(deleted, id)
		}
		return &CommitResult{Applied: true, DeletedIDs: deleted}, nil

	default:
		return nil, fmt.Errorf("unsupported action %q", change.Action)
	}
}
