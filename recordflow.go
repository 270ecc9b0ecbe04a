// Package recordflow provides a high-level façade over the orchestration
// engine: intent routing, task executors with a bounded tool-calling loop,
// risk-gated mutations, reflection and two-tier memory. Most applications
// interact with this package by:
//  1. Creating an Engine via New() (optionally overriding default in-memory
//     collaborators)
//  2. Calling ProcessUserInput for each user turn
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable store, real record collaborators and
// a structured logger.
package recordflow

import (
	"context"
	"time"

	"github.com/hupe1980/recordflow/core"
	"github.com/hupe1980/recordflow/executor"
	"github.com/hupe1980/recordflow/logging"
	"github.com/hupe1980/recordflow/memory"
	"github.com/hupe1980/recordflow/model"
	"github.com/hupe1980/recordflow/records"
	"github.com/hupe1980/recordflow/risk"
	"github.com/hupe1980/recordflow/supervisor"
	"github.com/hupe1980/recordflow/tool"
)

// Options configures the Engine instance.
type Options struct {
	// ConversationStore persists conversations. Defaults to in-memory.
	ConversationStore core.ConversationStore

	// WorkingMemoryStore is the durable working memory tier. Defaults to
	// in-memory.
	WorkingMemoryStore core.WorkingMemoryStore

	// DocumentStore holds the subject's records. Defaults to in-memory.
	DocumentStore core.DocumentStore

	// SearchStore ranks records for free-text queries. Defaults to an
	// in-memory scorer over the document store when that default is used.
	SearchStore core.SearchStore

	// GraphStore extracts entities and builds record graphs. Defaults to an
	// in-memory implementation over the document store.
	GraphStore core.GraphStore

	// Assessor overrides the default risk rules.
	Assessor *risk.Assessor

	// MaxIterations caps model turns per dispatched task.
	MaxIterations int

	// Memory tuning; zero values keep the manager defaults.
	WorkingMemoryTTL time.Duration
	SummaryInterval  int

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Engine is the high-level façade aggregating the supervisor and its
// collaborators.
type Engine struct {
	supervisor *supervisor.Supervisor
	memory     *memory.Manager
}

// New creates an Engine around the given model. Any unset collaborator is
// initialized with an in-memory implementation. Tool registration and
// executor presets are validated here, so a misconfigured engine fails at
// startup rather than mid-conversation.
func New(m model.Model, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ConversationStore == nil {
		opts.ConversationStore = memory.NewInMemoryConversationStore()
	}
	if opts.WorkingMemoryStore == nil {
		opts.WorkingMemoryStore = memory.NewInMemoryWorkingMemoryStore()
	}
	if opts.DocumentStore == nil {
		docs := records.NewInMemoryDocumentStore()
		opts.DocumentStore = docs
		if opts.SearchStore == nil {
			opts.SearchStore = records.NewInMemorySearchStore(docs)
		}
		if opts.GraphStore == nil {
			opts.GraphStore = records.NewInMemoryGraphStore(docs)
		}
	}

	mem := memory.NewManager(opts.ConversationStore, opts.WorkingMemoryStore, m, func(o *memory.Options) {
		o.Logger = opts.Logger
		if opts.WorkingMemoryTTL > 0 {
			o.WorkingMemoryTTL = opts.WorkingMemoryTTL
		}
		if opts.SummaryInterval > 0 {
			o.SummaryInterval = opts.SummaryInterval
		}
	})

	gate := risk.NewGate(opts.DocumentStore, func(o *risk.GateOptions) {
		o.Logger = opts.Logger
		if opts.Assessor != nil {
			o.Assessor = opts.Assessor
		}
	})

	registry, err := tool.NewRegistry(tool.NewRecordToolset(opts.DocumentStore, opts.SearchStore, opts.GraphStore, gate)...)
	if err != nil {
		return nil, err
	}

	executors, err := executor.BuildExecutors(m, registry, mem, executor.DefaultPresets(), func(o *executor.Options) {
		o.Logger = opts.Logger
		if opts.MaxIterations > 0 {
			o.MaxIterations = opts.MaxIterations
		}
	})
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(m, executors, mem, gate, func(o *supervisor.Options) {
		o.Logger = opts.Logger
	})

	return &Engine{supervisor: sup, memory: mem}, nil
}

// ProcessUserInput handles one user turn. A new conversation is started when
// conversationID is empty; the returned response carries the id to reuse for
// follow-up turns.
func (e *Engine) ProcessUserInput(ctx context.Context, input, conversationID, userID, subjectID string) *supervisor.Response {
	return e.supervisor.Handle(ctx, input, conversationID, userID, subjectID)
}

// Memory exposes the memory manager for maintenance operations such as purge
// sweeps and archival.
func (e *Engine) Memory() *memory.Manager { return e.memory }
