// Package risk classifies proposed record mutations by severity and guards
// their application behind a two-phase propose/commit workflow. Propose is
// always side-effect free; Commit refuses to apply a change that requires
// confirmation until the caller confirms, and de-duplicates confirmed applies
// by idempotency key.
package risk

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/recordflow/core"
)

// Level is the severity classification of a proposed mutation.
type Level string

const (
	// LevelLow marks routine, reversible changes.
	LevelLow Level = "low"
	// LevelMedium marks changes worth surfacing prominently.
	LevelMedium Level = "medium"
	// LevelHigh marks changes to sensitive resources; these always require
	// explicit confirmation.
	LevelHigh Level = "high"
)

var levelRank = map[Level]int{LevelLow: 0, LevelMedium: 1, LevelHigh: 2}

// atLeast raises current to floor if floor outranks it.
func atLeast(current, floor Level) Level {
	if levelRank[floor] > levelRank[current] {
		return floor
	}
	return current
}

// Assessment is the verdict for one change: severity, the rules that fired,
// and whether the change must be previewed and confirmed before committing.
type Assessment struct {
	Level                Level    `json:"level"`
	Reasons              []string `json:"reasons,omitempty"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
}

// AssessorOptions configures the rule table thresholds.
type AssessorOptions struct {
	// SensitiveKinds are resource kinds whose mutation is always high risk
	// (medication-class resources by default).
	SensitiveKinds []string
	// RecencyThreshold forces confirmation for deleting a record newer than
	// this age, regardless of kind.
	RecencyThreshold time.Duration
}

// rule is one row of the table: when match fires, the assessment is raised to
// at least floor and optionally forced into confirmation.
type rule struct {
	name              string
	floor             Level
	forceConfirmation bool
	match             func(change core.ChangeRequest, target *core.Record, opts AssessorOptions) bool
}

// The rule table. Order is irrelevant; every matching rule contributes.
var rules = []rule{
	{
		name:              "sensitive resource kind",
		floor:             LevelHigh,
		forceConfirmation: true,
		match: func(change core.ChangeRequest, _ *core.Record, opts AssessorOptions) bool {
			kind := strings.ToLower(change.ResourceKind)
			for _, sensitive := range opts.SensitiveKinds {
				if kind == strings.ToLower(sensitive) {
					return true
				}
			}
			return false
		},
	},
	{
		name:  "bulk operation",
		floor: LevelMedium,
		match: func(change core.ChangeRequest, _ *core.Record, _ AssessorOptions) bool {
			return change.TargetCount() > 1
		},
	},
	{
		name:  "bulk delete",
		floor: LevelHigh,
		match: func(change core.ChangeRequest, _ *core.Record, _ AssessorOptions) bool {
			return change.Action == "delete" && change.TargetCount() > 1
		},
	},
	{
		name:  "status field change",
		floor: LevelMedium,
		match: func(change core.ChangeRequest, _ *core.Record, _ AssessorOptions) bool {
			_, ok := change.Fields["status"]
			return ok
		},
	},
	{
		name:  "delete",
		floor: LevelMedium,
		match: func(change core.ChangeRequest, _ *core.Record, _ AssessorOptions) bool {
			return change.Action == "delete"
		},
	},
	{
		name:              "delete of recently created record",
		floor:             LevelMedium,
		forceConfirmation: true,
		match: func(change core.ChangeRequest, target *core.Record, opts AssessorOptions) bool {
			if change.Action != "delete" || target == nil || opts.RecencyThreshold <= 0 {
				return false
			}
			return time.Since(target.CreatedAt) < opts.RecencyThreshold
		},
	},
}

// Assessor applies the rule table to proposed changes.
type Assessor struct {
	opts AssessorOptions
}

// NewAssessor constructs an assessor; defaults classify medication-class
// resources as sensitive and protect records newer than 24h from
// unconfirmed deletion.
func NewAssessor(optFns ...func(o *AssessorOptions)) *Assessor {
	opts := AssessorOptions{
		SensitiveKinds:   []string{"medication", "prescription"},
		RecencyThreshold: 24 * time.Hour,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Assessor{opts: opts}
}

// Assess classifies a change. target is the current record for update/delete
// actions (nil for create or when unavailable); it only sharpens the verdict,
// its absence never lowers it.
func (a *Assessor) Assess(change core.ChangeRequest, target *core.Record) Assessment {
	level := LevelLow
	var reasons []string
	forced := false

	for _, r := range rules {
		if !r.match(change, target, a.opts) {
			continue
		}
		level = atLeast(level, r.floor)
		forced = forced || r.forceConfirmation
		reasons = append(reasons, r.name)
	}

	sort.Strings(reasons)

	return Assessment{
		Level:                level,
		Reasons:              reasons,
		RequiresConfirmation: forced || level == LevelHigh,
	}
}

// Preview renders a human-readable, side-effect-free description of the
// change for the confirmation prompt.
func Preview(change core.ChangeRequest, target *core.Record) string {
	var b strings.Builder

	switch change.Action {
	case "create":
		fmt.Fprintf(&b, "Create %s record for subject %s", change.ResourceKind, change.SubjectID)
	case "update":
		fmt.Fprintf(&b, "Update %s record %s", change.ResourceKind, change.RecordID)
		if target != nil && target.Title != "" {
			fmt.Fprintf(&b, " (%s)", target.Title)
		}
	case "delete":
		if n := change.TargetCount(); n > 1 {
			fmt.Fprintf(&b, "Delete %d %s records", n, change.ResourceKind)
		} else {
			fmt.Fprintf(&b, "Delete %s record %s", change.ResourceKind, change.RecordID)
			if target != nil && target.Title != "" {
				fmt.Fprintf(&b, " (%s)", target.Title)
			}
		}
	default:
		fmt.Fprintf(&b, "%s %s record", change.Action, change.ResourceKind)
	}

	if len(change.Fields) > 0 {
		keys := make([]string, 0, len(change.Fields))
		for k := range change.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(": set ")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, change.Fields[k])
		}
	}

	return b.String()
}
