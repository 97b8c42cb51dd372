package mcp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"contentmill/internal/batch"
	"contentmill/internal/logging"
	"contentmill/internal/notify"
	"contentmill/internal/pipeline"
	"contentmill/internal/report"
	"contentmill/internal/scoring"
	"contentmill/internal/store"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

var DefaultReportTimeout = 10 * time.Minute

// BatchService is the slice of *batch.Service the server drives.
type BatchService interface {
	Runner
	Select(ctx context.Context, strategy scoring.Strategy, n int) ([]scoring.ScoredCandidate, error)
}

// Deps are the components the tools operate on.
type Deps struct {
	Service      BatchService
	Orchestrator *pipeline.Orchestrator
	Store        store.Store
	// DefaultTarget applies when start_batch omits target_count.
	DefaultTarget int
	Version       string
}

// Server wraps the MCP SDK server and manages one batch session at a time.
type Server struct {
	MCPServer *sdkmcp.Server

	deps    Deps
	mu      sync.Mutex
	session *Session
}

// NewServer creates an MCP server with batch, pipeline and signal bus tools.
func NewServer(deps Deps) *Server {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := &Server{deps: deps}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "contentmill", Version: deps.Version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_batch",
		Description: "Select the top candidates and start a batch of pipeline runs. Returns the batch ID immediately.",
	}, s.handleStartBatch)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "batch_status",
		Description: "Report progress of a batch: completed and failed counts, the latest finished topic, and whether it is done.",
	}, s.handleBatchStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_report",
		Description: "Wait for a batch to finish and return its summary and ranking.",
	}, s.handleGetReport)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "emit_signal",
		Description: "Emit a signal to the batch's message bus for observability.",
	}, s.handleEmitSignal)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_signals",
		Description: "Read signals from the batch's message bus. Returns all signals, or signals since a given index.",
	}, s.handleGetSignals)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_candidates",
		Description: "Score the candidate pool and list it in strategy order.",
	}, s.handleListCandidates)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_steps",
		Description: "List the registered pipeline steps with their phases and keys.",
	}, s.handleListSteps)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_step",
		Description: "Re-run one step of a recorded run, merging an optional seed first.",
	}, s.handleRunStep)
}

// --- Tool input/output types ---

type startBatchInput struct {
	TargetCount int    `json:"target_count,omitempty" jsonschema:"number of candidates to run (default from config)"`
	Strategy    string `json:"strategy,omitempty" jsonschema:"selection strategy (balanced, prefer-untapped, prefer-trending)"`
	Force       bool   `json:"force,omitempty" jsonschema:"cancel any running batch and start fresh"`
}

type startBatchOutput struct {
	BatchID     string `json:"batch_id"`
	TargetCount int    `json:"target_count"`
	Strategy    string `json:"strategy,omitempty"`
	Status      string `json:"status"`
}

type batchIDInput struct {
	BatchID string `json:"batch_id" jsonschema:"batch ID from start_batch"`
}

type batchStatusOutput struct {
	BatchID   string `json:"batch_id"`
	State     string `json:"state"`
	Status    string `json:"status,omitempty"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Latest    string `json:"latest,omitempty"`
	Done      bool   `json:"done"`
}

type getReportOutput struct {
	Status    string         `json:"status"`
	Batch     *batch.Summary `json:"batch,omitempty"`
	Ranking   []rankedItem   `json:"ranking,omitempty"`
	Reordered bool           `json:"reordered"`
	Degraded  string         `json:"degraded,omitempty"`
	Report    string         `json:"report,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type rankedItem struct {
	Rank    int     `json:"rank"`
	RunID   string  `json:"run_id"`
	Title   string  `json:"title"`
	Keyword string  `json:"keyword,omitempty"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}

type emitSignalInput struct {
	BatchID string            `json:"batch_id" jsonschema:"batch ID from start_batch"`
	Event   string            `json:"event,omitempty" jsonschema:"signal event (dispatch, start, done, error); required"`
	Source  string            `json:"source,omitempty" jsonschema:"who emits the signal (agent, server); required"`
	Meta    map[string]string `json:"meta,omitempty" jsonschema:"optional key-value metadata"`
}

type emitSignalOutput struct {
	OK    string `json:"ok"`
	Index int    `json:"index"`
}

type getSignalsInput struct {
	BatchID string `json:"batch_id" jsonschema:"batch ID from start_batch"`
	Since   int    `json:"since,omitempty" jsonschema:"return signals from this index onward (0-based)"`
}

type getSignalsOutput struct {
	Signals []notify.Signal `json:"signals"`
	Total   int             `json:"total"`
}

type listCandidatesInput struct {
	Strategy string `json:"strategy,omitempty" jsonschema:"selection strategy (balanced, prefer-untapped, prefer-trending)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum candidates to return (0 = all)"`
}

type candidateItem struct {
	Rank    int     `json:"rank"`
	Key     string  `json:"key"`
	Display string  `json:"display"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}

type listCandidatesOutput struct {
	Candidates []candidateItem `json:"candidates"`
}

type listStepsInput struct{}

type listStepsOutput struct {
	Steps    []pipeline.StepDescriptor `json:"steps"`
	SeedKeys []pipeline.Key            `json:"seed_keys"`
}

type runStepInput struct {
	RunID  string         `json:"run_id" jsonschema:"recorded run ID"`
	StepID int            `json:"step_id" jsonschema:"step to re-run"`
	Seed   map[string]any `json:"seed,omitempty" jsonschema:"extra seed values merged before the step runs"`
}

type stepOutput struct {
	Usable bool   `json:"usable"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type runStepOutput struct {
	RunID    string                `json:"run_id"`
	Step     string                `json:"step"`
	Parsed   bool                  `json:"parsed"`
	Strategy string                `json:"strategy,omitempty"`
	Outputs  map[string]stepOutput `json:"outputs"`
}

// --- Tool handlers ---

func (s *Server) handleStartBatch(ctx context.Context, _ *sdkmcp.CallToolRequest, input startBatchInput) (*sdkmcp.CallToolResult, startBatchOutput, error) {
	logger := logging.New("mcp-session")
	if s.deps.Service == nil {
		return nil, startBatchOutput{}, errors.New("batch service not configured")
	}
	s.mu.Lock()
	if s.session != nil {
		select {
		case <-s.session.Done():
			logger.Info("replacing finished session", "old_id", s.session.ID)
		default:
			if !input.Force {
				s.mu.Unlock()
				return nil, startBatchOutput{}, fmt.Errorf("a batch is already running (id=%s)", s.session.ID)
			}
			logger.Warn("force-replacing active session", "old_id", s.session.ID)
			s.session.Cancel()
		}
	}
	target := input.TargetCount
	if target <= 0 {
		target = s.deps.DefaultTarget
	}
	sess := NewSession(ctx, s.deps.Service, batch.Request{
		TargetCount: target,
		Strategy:    scoring.Strategy(input.Strategy),
	})
	s.session = sess
	s.mu.Unlock()

	return nil, startBatchOutput{
		BatchID:     sess.ID,
		TargetCount: target,
		Strategy:    input.Strategy,
		Status:      string(StateRunning),
	}, nil
}

func (s *Server) handleBatchStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, input batchIDInput) (*sdkmcp.CallToolResult, batchStatusOutput, error) {
	sess, err := s.getSession(input.BatchID)
	if err != nil {
		// Not the live session: fall back to what the store recorded.
		if s.deps.Store == nil {
			return nil, batchStatusOutput{}, err
		}
		rec, gerr := s.deps.Store.GetBatch(ctx, input.BatchID)
		if gerr != nil {
			return nil, batchStatusOutput{}, fmt.Errorf("batch_status: %w", gerr)
		}
		return nil, batchStatusOutput{
			BatchID:   rec.ID,
			State:     "recorded",
			Status:    rec.Status,
			Total:     rec.TargetCount,
			Completed: rec.Completed,
			Failed:    rec.Failed,
			Done:      rec.Status != string(batch.StatusRunning),
		}, nil
	}

	out := batchStatusOutput{BatchID: sess.ID, State: string(sess.GetState())}
	select {
	case <-sess.Done():
		out.Done = true
	default:
	}
	signals := sess.Bus.Since(0)
	for i := len(signals) - 1; i >= 0; i-- {
		m := signals[i].Meta
		if _, ok := m["total"]; !ok {
			continue
		}
		out.Total, _ = strconv.Atoi(m["total"])
		out.Completed, _ = strconv.Atoi(m["completed"])
		out.Failed, _ = strconv.Atoi(m["failed"])
		out.Status = m["status"]
		break
	}
	for i := len(signals) - 1; i >= 0; i-- {
		if l := signals[i].Meta["latest"]; l != "" {
			out.Latest = l
			break
		}
	}
	if out.Status == "" {
		out.Status = string(batch.StatusRunning)
	}
	return nil, out, nil
}

func (s *Server) handleGetReport(ctx context.Context, _ *sdkmcp.CallToolRequest, input batchIDInput) (*sdkmcp.CallToolResult, getReportOutput, error) {
	sess, err := s.getSession(input.BatchID)
	if err != nil {
		return nil, getReportOutput{}, err
	}

	timer := time.NewTimer(DefaultReportTimeout)
	defer timer.Stop()
	select {
	case <-sess.Done():
	case <-ctx.Done():
		return nil, getReportOutput{}, ctx.Err()
	case <-timer.C:
		return nil, getReportOutput{}, fmt.Errorf("get_report: batch %s still running after %s", sess.ID, DefaultReportTimeout)
	}

	out := getReportOutput{Status: string(sess.GetState())}
	if sessErr := sess.Err(); sessErr != nil {
		out.Error = sessErr.Error()
	}
	rep := sess.Report()
	if rep == nil {
		return nil, out, nil
	}
	out.Batch = &rep.Batch
	out.Reordered = rep.Ranking.Reordered
	out.Degraded = rep.Degraded
	for _, it := range rep.Ranking.Items {
		out.Ranking = append(out.Ranking, rankedItem{
			Rank:    it.Rank,
			RunID:   it.Artifact.ID,
			Title:   it.Artifact.Display,
			Keyword: it.Artifact.Keyword,
			Score:   it.Score,
			Reason:  it.Reason,
		})
	}
	out.Report = report.Batch(report.Markdown, rep.Batch)
	if len(rep.Ranking.Items) > 0 {
		out.Report += "\n" + report.Ranking(report.Markdown, rep.Ranking)
	}
	return nil, out, nil
}

func (s *Server) handleEmitSignal(_ context.Context, _ *sdkmcp.CallToolRequest, input emitSignalInput) (*sdkmcp.CallToolResult, emitSignalOutput, error) {
	logger := logging.New("signal-bus")
	if input.Event == "" {
		logger.Warn("emit_signal rejected: empty event field")
		return nil, emitSignalOutput{}, errors.New("event is required")
	}
	if input.Source == "" {
		logger.Warn("emit_signal rejected: empty source field")
		return nil, emitSignalOutput{}, errors.New("source is required")
	}

	sess, err := s.getSession(input.BatchID)
	if err != nil {
		return nil, emitSignalOutput{}, err
	}

	idx := sess.Bus.Emit(input.Event, input.Source, sess.ID, input.Meta)
	logger.Info("signal emitted", "index", idx, "event", input.Event, "source", input.Source, "batch_id", sess.ID)

	return nil, emitSignalOutput{OK: "signal emitted", Index: idx}, nil
}

func (s *Server) handleGetSignals(_ context.Context, _ *sdkmcp.CallToolRequest, input getSignalsInput) (*sdkmcp.CallToolResult, getSignalsOutput, error) {
	sess, err := s.getSession(input.BatchID)
	if err != nil {
		return nil, getSignalsOutput{}, err
	}
	signals := sess.Bus.Since(input.Since)
	if signals == nil {
		signals = []notify.Signal{}
	}
	return nil, getSignalsOutput{Signals: signals, Total: sess.Bus.Len()}, nil
}

func (s *Server) handleListCandidates(ctx context.Context, _ *sdkmcp.CallToolRequest, input listCandidatesInput) (*sdkmcp.CallToolResult, listCandidatesOutput, error) {
	if s.deps.Service == nil {
		return nil, listCandidatesOutput{}, errors.New("batch service not configured")
	}
	scored, err := s.deps.Service.Select(ctx, scoring.Strategy(input.Strategy), input.Limit)
	if err != nil {
		return nil, listCandidatesOutput{}, fmt.Errorf("list_candidates: %w", err)
	}
	out := listCandidatesOutput{Candidates: make([]candidateItem, 0, len(scored))}
	for _, sc := range scored {
		out.Candidates = append(out.Candidates, candidateItem{
			Rank:    sc.Rank,
			Key:     sc.Key,
			Display: sc.Display,
			Score:   sc.Score,
			Reason:  scoring.Reason(sc),
		})
	}
	return nil, out, nil
}

func (s *Server) handleListSteps(_ context.Context, _ *sdkmcp.CallToolRequest, _ listStepsInput) (*sdkmcp.CallToolResult, listStepsOutput, error) {
	if s.deps.Orchestrator == nil {
		return nil, listStepsOutput{}, errors.New("orchestrator not configured")
	}
	reg := s.deps.Orchestrator.Registry()
	return nil, listStepsOutput{Steps: reg.Steps(), SeedKeys: reg.SeedKeys()}, nil
}

func (s *Server) handleRunStep(ctx context.Context, _ *sdkmcp.CallToolRequest, input runStepInput) (*sdkmcp.CallToolResult, runStepOutput, error) {
	if s.deps.Orchestrator == nil {
		return nil, runStepOutput{}, errors.New("orchestrator not configured")
	}
	if input.RunID == "" {
		return nil, runStepOutput{}, errors.New("run_id is required")
	}
	seed := make(pipeline.Seed, len(input.Seed))
	for k, v := range input.Seed {
		seed[pipeline.Key(k)] = v
	}
	run, res, err := s.deps.Orchestrator.Resume(ctx, input.RunID, input.StepID, seed, nil)
	if err != nil {
		return nil, runStepOutput{}, fmt.Errorf("run_step: %w", err)
	}
	out := runStepOutput{
		RunID:    run.ID,
		Step:     res.Name,
		Parsed:   res.Parsed,
		Strategy: res.Strategy,
		Outputs:  make(map[string]stepOutput, len(res.Outputs)),
	}
	for k, v := range res.Outputs {
		o := stepOutput{Usable: v.Usable, Value: string(v.Data)}
		if !v.Usable {
			o.Value, o.Reason = v.Raw, v.Reason
		}
		out.Outputs[string(k)] = o
	}
	return nil, out, nil
}

// SessionID returns the current batch ID, or empty string if none.
func (s *Server) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return s.session.ID
	}
	return ""
}

// Shutdown cancels any running batch and waits for it to wind down.
func (s *Server) Shutdown() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess == nil {
		return
	}
	sess.Cancel()
	<-sess.Done()
}

func (s *Server) getSession(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("no active batch (call start_batch first)")
	}
	if s.session.ID != id {
		return nil, fmt.Errorf("batch_id mismatch: have %s, got %s", s.session.ID, id)
	}
	return s.session, nil
}
