package standardize

import (
	"context"
	"fmt"
	"log/slog"

	"clumpcli/internal/crunch"
)

// Repeatability collects the analytical repeatabilities of a standardized
// dataset, in permil.
type Repeatability struct {
	Rd13C        float64
	Rd18O        float64
	RD4xAnchors  float64
	RD4xUnknowns float64
	RD4x         float64

	// Sigma is the pooled within-sample standard deviation of the
	// standardized anomalies, only computed under independent sessions.
	Sigma float64
}

// Engine drives the standardization of a crunched dataset and retains the
// fit result for error propagation queries.
type Engine struct {
	ds     *crunch.Dataset
	logger *slog.Logger

	method           Method
	constraints      map[string]Constraint
	weightedSessions [][]string
	grouping         Grouping

	result        *Result
	Repeatability Repeatability
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMethod selects the standardization method.
func WithMethod(m Method) EngineOption {
	return func(e *Engine) { e.method = m }
}

// WithConstraints ties model parameters together or fixes them; keys are
// parameter names as built by SessionParam and SampleParam.
func WithConstraints(c map[string]Constraint) EngineOption {
	return func(e *Engine) { e.constraints = c }
}

// WithWeightedSessions groups sessions that should be pre-fitted separately
// so their raw anomalies are weighted by the group's fit quality.
func WithWeightedSessions(groups [][]string) EngineOption {
	return func(e *Engine) { e.weightedSessions = groups }
}

// WithEngineLogger sets the structured logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a standardization engine over a crunched dataset.
func NewEngine(ds *crunch.Dataset, opts ...EngineOption) *Engine {
	e := &Engine{
		ds:     ds,
		logger: ds.Logger(),
		method: Pooled,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dataset returns the dataset being standardized.
func (e *Engine) Dataset() *crunch.Dataset { return e.ds }

// Result returns the latest standardization result, nil before Standardize.
func (e *Engine) Result() *Result { return e.result }

// Standardize fits the standardization model, writes absolute anomalies
// onto every analysis and consolidates sample, session and repeatability
// statistics.
func (e *Engine) Standardize(ctx context.Context) (*Result, error) {
	e.ds.AssignTimestamps()

	var (
		res *Result
		err error
	)
	switch e.method {
	case Pooled:
		res, err = e.fitPooled(ctx)
	case IndepSessions:
		res, err = e.fitIndep(ctx)
	default:
		return nil, fmt.Errorf("unknown standardization method %q", e.method)
	}
	if err != nil {
		return nil, err
	}
	e.result = res

	if err := e.Consolidate(ctx); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "standardized dataset",
		"run_id", res.ID,
		"method", string(res.Method),
		"analyses", len(e.ds.Analyses),
		"nf", res.Nf,
		"r_D4x", e.Repeatability.RD4x,
	)
	return res, nil
}

// checkWeightedSessions verifies that the weighted session groups name
// existing sessions and partition all of them. Analyses outside every group
// would otherwise enter the fit unweighted.
func (e *Engine) checkWeightedSessions() error {
	covered := map[string]bool{}
	for _, group := range e.weightedSessions {
		for _, name := range group {
			if _, ok := e.ds.Sessions[name]; !ok {
				return crunch.Configf("weighted_sessions: unknown session %q", name)
			}
			if covered[name] {
				return crunch.Configf("weighted_sessions: session %q appears in more than one group", name)
			}
			covered[name] = true
		}
	}
	for _, name := range e.ds.SessionNames() {
		if !covered[name] {
			return crunch.Configf("weighted_sessions: session %q is not in any group", name)
		}
	}
	return nil
}

// subEngine builds an engine over the analyses of the listed sessions,
// sharing the analysis records so weight updates propagate back.
func (e *Engine) subEngine(sessions []string) *Engine {
	member := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		member[s] = true
	}
	sub := crunch.New(e.ds.Mass,
		crunch.WithLogger(e.logger),
		crunch.WithParams(e.ds.Params),
		crunch.WithNominalD4x(e.ds.NominalD4x),
	)
	var shared []*crunch.Analysis
	for _, r := range e.ds.Analyses {
		if member[r.Session] {
			shared = append(shared, r)
		}
	}
	sub.Add(shared...)
	return &Engine{ds: sub, logger: e.logger, method: e.method}
}
