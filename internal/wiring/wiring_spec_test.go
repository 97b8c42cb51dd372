package wiring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"contentmill/internal/archive"
	"contentmill/internal/batch"
	"contentmill/internal/config"
	"contentmill/internal/generate"
	"contentmill/internal/notify"
	"contentmill/internal/pipeline"
	"contentmill/internal/scoring"
	"contentmill/internal/store"
	"contentmill/internal/trends"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.Batch.ChunkPause = 0
	return cfg
}

func topicPool(n int) []scoring.Candidate {
	out := make([]scoring.Candidate, n)
	for i := range out {
		out[i] = scoring.Candidate{
			Key:       fmt.Sprintf("topic-%d", i+1),
			Display:   fmt.Sprintf("Topic %d", i+1),
			Metrics:   map[string]float64{scoring.MetricSearchVolume: float64(500 * (n - i))},
			NeverUsed: true,
		}
	}
	return out
}

// failKeywordFor fails the keyword step for any prompt naming topic.
func failKeywordFor(topic string) generate.Factory {
	stub := generate.StubFactory(nil)
	return func(step pipeline.StepDescriptor) pipeline.Generator {
		g := stub(step)
		if step.Name != "keyword" {
			return g
		}
		return pipeline.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
			if strings.Contains(prompt, topic) {
				return "", errors.New("quota exceeded")
			}
			return g.Generate(ctx, prompt)
		})
	}
}

// proseReorder answers the reorder prompt with text that has no JSON.
func proseReorder() generate.Factory {
	stub := generate.StubFactory(nil)
	return func(step pipeline.StepDescriptor) pipeline.Generator {
		if step.Name == "reorder" {
			return generate.Stub{Step: step, Canned: "These all look great to me."}
		}
		return stub(step)
	}
}

var _ = ginkgo.Describe("Build", func() {
	var (
		ctx  context.Context
		cfg  *config.Config
		st   *store.MemStore
		pool *trends.StaticProvider
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		cfg = testConfig()
		st = store.NewMemStore()
		pool = trends.NewStaticProvider(topicPool(5))
	})

	build := func(opts ...Option) *App {
		app, err := Build(ctx, cfg, append([]Option{WithStore(st), WithProvider(pool)}, opts...)...)
		gomega.Expect(err).To(gomega.Succeed())
		ginkgo.DeferCleanup(app.Close)
		return app
	}

	ginkgo.It("runs a batch through every step and ranks the results", func() {
		bus := notify.NewBus()
		arch := archive.NewMemory()
		app := build(WithNotifier(bus), WithArchiver(arch))

		rep, err := app.Service.Run(ctx, batch.Request{BatchID: "b1", TargetCount: 3})
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(rep.Batch.Status).To(gomega.Equal(batch.StatusCompleted))
		gomega.Expect(rep.Batch.Completed).To(gomega.Equal(3))
		gomega.Expect(rep.Ranking.Items).To(gomega.HaveLen(3))
		for i, it := range rep.Ranking.Items {
			gomega.Expect(it.Rank).To(gomega.Equal(i + 1))
			gomega.Expect(it.Artifact.Completeness).To(gomega.Equal(1.0))
			gomega.Expect(it.Artifact.Display).To(gomega.HavePrefix("title "))
		}

		runs, err := st.ListRuns(ctx, "b1")
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(runs).To(gomega.HaveLen(3))
		for _, r := range runs {
			gomega.Expect(r.Status).To(gomega.Equal(pipeline.RunCompleted))
		}

		gomega.Expect(app.Usage.Summary().Calls).To(gomega.Equal(15))

		var events []string
		for _, s := range bus.Since(0) {
			events = append(events, s.Event)
		}
		gomega.Expect(events).To(gomega.Equal([]string{"batch_started", "batch_completed"}))

		_, ok := arch.Get("batches/b1.json")
		gomega.Expect(ok).To(gomega.BeTrue())
	})

	ginkgo.It("reports a partial batch and ranks only what completed", func() {
		app := build(WithGenerators(failKeywordFor("Topic 2")))

		rep, err := app.Service.Run(ctx, batch.Request{BatchID: "b2", TargetCount: 4})
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(rep.Batch.Status).To(gomega.Equal(batch.StatusPartial))
		gomega.Expect(rep.Batch.Completed).To(gomega.Equal(3))
		gomega.Expect(rep.Batch.Failed).To(gomega.Equal(1))
		gomega.Expect(rep.Batch.FailedKeys).To(gomega.Equal([]string{"topic-2"}))
		gomega.Expect(rep.Ranking.Items).To(gomega.HaveLen(3))

		rec, err := st.GetBatch(ctx, "b2")
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(rec.Status).To(gomega.Equal("partial"))
	})

	ginkgo.It("rotates used topics out of the next selection", func() {
		app := build()

		_, err := app.Service.Run(ctx, batch.Request{TargetCount: 2})
		gomega.Expect(err).To(gomega.Succeed())

		next, err := app.Service.Select(ctx, scoring.PreferUntapped, 2)
		gomega.Expect(err).To(gomega.Succeed())
		keys := []string{next[0].Key, next[1].Key}
		gomega.Expect(keys).NotTo(gomega.ContainElement("topic-1"))
		gomega.Expect(keys).NotTo(gomega.ContainElement("topic-2"))
	})

	ginkgo.It("falls back to the deterministic order when the reorder is unusable", func() {
		cfg.Ranking.Reorder = true
		app := build(WithGenerators(proseReorder()))

		rep, err := app.Service.Run(ctx, batch.Request{TargetCount: 3})
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(rep.Ranking.Reordered).To(gomega.BeFalse())
		gomega.Expect(rep.Ranking.Degradation).NotTo(gomega.BeNil())
		gomega.Expect(rep.Degraded).NotTo(gomega.BeEmpty())

		det := app.Ranker.Deterministic(rep.Artifacts)
		gomega.Expect(rep.Ranking.Items).To(gomega.HaveLen(len(det)))
		for i := range det {
			gomega.Expect(rep.Ranking.Items[i].Artifact.ID).To(gomega.Equal(det[i].Artifact.ID))
		}
	})

	ginkgo.It("re-ranks a stored batch", func() {
		app := build()
		rep, err := app.Service.Run(ctx, batch.Request{BatchID: "b3", TargetCount: 3})
		gomega.Expect(err).To(gomega.Succeed())

		res, err := app.Service.RankStored(ctx, "b3")
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Items).To(gomega.HaveLen(len(rep.Ranking.Items)))
	})

	ginkgo.It("resumes a stored run at a single step", func() {
		app := build()
		_, err := app.Service.Run(ctx, batch.Request{BatchID: "b4", TargetCount: 1})
		gomega.Expect(err).To(gomega.Succeed())
		runs, err := st.ListRuns(ctx, "b4")
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(runs).To(gomega.HaveLen(1))

		run, res, err := app.Orchestrator.Resume(ctx, runs[0].ID, 4, pipeline.Seed{"topic": "Topic 1"}, nil)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Name).To(gomega.Equal("title"))
		gomega.Expect(res.Parsed).To(gomega.BeTrue())
		gomega.Expect(run.Status).To(gomega.Equal(pipeline.RunCompleted))
	})

	ginkgo.It("fails selection when no candidate file is configured", func() {
		app, err := Build(ctx, cfg, WithStore(st))
		gomega.Expect(err).To(gomega.Succeed())
		defer app.Close()

		_, err = app.Service.Run(ctx, batch.Request{TargetCount: 3})
		var se *batch.SchedulingError
		gomega.Expect(errors.As(err, &se)).To(gomega.BeTrue())
		gomega.Expect(errors.Is(err, batch.ErrSelection)).To(gomega.BeTrue())
	})

	ginkgo.It("rejects a gemini backend without an API key", func() {
		cfg.Generation.Provider = generate.BackendGemini
		cfg.Generation.APIKey = ""
		cfg.Generation.APIKeyEnv = ""
		_, err := Build(ctx, cfg, WithStore(st))
		gomega.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("API key")))
	})
})
