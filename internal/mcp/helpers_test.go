package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"contentmill/internal/batch"
	"contentmill/internal/catalog"
	"contentmill/internal/generate"
	"contentmill/internal/logging"
	mcpserver "contentmill/internal/mcp"
	"contentmill/internal/pipeline"
	"contentmill/internal/ranking"
	"contentmill/internal/scoring"
	"contentmill/internal/store"
	"contentmill/internal/trends"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestMain(m *testing.M) {
	mcpserver.DefaultReportTimeout = 10 * time.Second
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))
	os.Exit(m.Run())
}

func pool(n int) []scoring.Candidate {
	out := make([]scoring.Candidate, n)
	for i := range out {
		out[i] = scoring.Candidate{
			Key:       fmt.Sprintf("topic-%d", i+1),
			Display:   fmt.Sprintf("Topic %d", i+1),
			Metrics:   map[string]float64{scoring.MetricSearchVolume: float64(1000 * (n - i))},
			NeverUsed: true,
		}
	}
	return out
}

// newDeps wires the default catalog against stub generators over st.
func newDeps(t *testing.T, st store.Store, n int) mcpserver.Deps {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	reg, err := cat.Build(generate.StubFactory(nil))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	orch := pipeline.NewOrchestrator(reg,
		pipeline.WithRecorder(st),
		pipeline.WithStateLoader(st),
		pipeline.WithLogger(logging.Discard()),
	)
	scorer, err := scoring.NewEngine(scoring.StandardFactors())
	if err != nil {
		t.Fatal(err)
	}
	ranker, err := ranking.NewEngine(ranking.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	sched := batch.NewScheduler(batch.Config{Concurrency: 3}, batch.WithSchedulerLogger(logging.Discard()))
	svc := batch.NewService(st, orch, scorer, ranker, trends.NewStaticProvider(pool(n)), sched,
		batch.WithServiceLogger(logging.Discard()))
	return mcpserver.Deps{Service: svc, Orchestrator: orch, Store: st, DefaultTarget: 3}
}

func newTestServer(t *testing.T, deps mcpserver.Deps) *mcpserver.Server {
	t.Helper()
	srv := mcpserver.NewServer(deps)
	t.Cleanup(srv.Shutdown)
	return srv
}

func connectInMemory(t *testing.T, ctx context.Context, srv *mcpserver.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	result, err := callToolE(ctx, session, name, args)
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func callToolE(ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) (map[string]any, error) {
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("CallTool(%s): %w", name, err)
	}
	if res.IsError {
		for _, c := range res.Content {
			if tc, ok := c.(*sdkmcp.TextContent); ok {
				return nil, fmt.Errorf("CallTool(%s) error: %s", name, tc.Text)
			}
		}
		return nil, fmt.Errorf("CallTool(%s) returned error", name)
	}
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			result := make(map[string]any)
			if err := json.Unmarshal([]byte(tc.Text), &result); err != nil {
				return nil, fmt.Errorf("unmarshal %s result: %w (text: %s)", name, err, tc.Text)
			}
			return result, nil
		}
	}
	return nil, fmt.Errorf("no text content in %s result", name)
}

// blockingRunner holds every batch until its context is cancelled.
type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, _ batch.Request) (*batch.Report, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingRunner) Select(context.Context, scoring.Strategy, int) ([]scoring.ScoredCandidate, error) {
	return nil, nil
}

type failingRunner struct{ err error }

func (f failingRunner) Run(context.Context, batch.Request) (*batch.Report, error) { return nil, f.err }
