// Package generation runs a generation request end to end.
//
// Both the HTTP API and the MCP server delegate here: the service resolves
// the tier, fans the request out into independent attempts against that
// tier's backend, persists every returned image, and reports progress. A
// failing attempt never aborts its siblings, and a request that runs out of
// time still returns whatever finished.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/service/imagegen"
	"github.com/ashita-ai/gazou/internal/service/selection"
	"github.com/ashita-ai/gazou/internal/telemetry"
)

var (
	// ErrNoAdapter is returned when no backend is registered for the
	// resolved tier.
	ErrNoAdapter = errors.New("generation: no adapter for tier")

	// ErrStoreUnavailable is returned when every attempt failed because the
	// artifact store rejected its output.
	ErrStoreUnavailable = errors.New("generation: artifact store unavailable")
)

// Failure reasons recorded on attempts.
const (
	ReasonEmptyResult      = "empty result"
	ReasonStorageFailure   = "storage failure"
	ReasonDeadlineExceeded = "deadline exceeded"
	ReasonCancelled        = "cancelled"
)

// maxPromptMetadata bounds the prompt copy kept in artifact metadata.
const maxPromptMetadata = 200

// ProgressFunc receives progress updates. Percent never decreases across
// calls for one run.
type ProgressFunc func(percent int, message string)

// ArtifactStore persists generated images.
type ArtifactStore interface {
	Put(ctx context.Context, data []byte, mimeType string, metadata map[string]any) (model.Handle, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Service orchestrates generation requests.
type Service struct {
	policy      *selection.Policy
	adapters    map[model.Tier]imagegen.Adapter
	maxEdge     map[model.Tier]int
	store       ArtifactStore
	parallelism int
	timeout     time.Duration
	logger      *slog.Logger

	tracer          trace.Tracer
	attemptsCounter metric.Int64Counter
	runDuration     metric.Float64Histogram
}

// Option configures a Service.
type Option func(*Service)

// WithParallelism sets how many attempts of one request may run at once.
// Values below 1 mean sequential.
func WithParallelism(n int) Option {
	return func(s *Service) { s.parallelism = max(n, 1) }
}

// WithRequestTimeout bounds each Run. Zero means no bound beyond ctx.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithMaxEdge overrides the longest-edge limit for a tier.
func WithMaxEdge(tier model.Tier, px int) Option {
	return func(s *Service) { s.maxEdge[tier] = px }
}

// New creates a generation Service. adapters maps each resolved tier to its
// backend; a tier without an adapter fails at Run time with ErrNoAdapter.
func New(policy *selection.Policy, adapters map[model.Tier]imagegen.Adapter, store ArtifactStore, logger *slog.Logger, opts ...Option) *Service {
	meter := telemetry.Meter("gazou/generation")
	attempts, _ := meter.Int64Counter("gazou.generation.attempts",
		metric.WithDescription("Generation attempts by tier and outcome"),
	)
	duration, _ := meter.Float64Histogram(telemetry.GenerationDurationMetric,
		metric.WithDescription("Time to run a generation request (ms)"),
		metric.WithUnit("ms"),
	)
	s := &Service{
		policy:          policy,
		adapters:        adapters,
		maxEdge:         map[model.Tier]int{},
		store:           store,
		parallelism:     1,
		logger:          logger,
		tracer:          telemetry.Tracer("gazou/generation"),
		attemptsCounter: attempts,
		runDuration:     duration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Explain resolves req without running it.
func (s *Service) Explain(req model.Request) selection.Decision {
	return s.policy.Explain(req)
}

// Run executes req and returns the per-attempt breakdown. It fails only for
// invalid requests, a missing backend, or a store that rejected every
// attempt; backend failures are recorded on the attempts instead.
func (s *Service) Run(ctx context.Context, req model.Request, progress ProgressFunc) (*model.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rep := &reporter{fn: progress}
	rep.report(10, "request accepted")

	decision := s.policy.Explain(req)
	adapter := s.adapters[decision.Tier]
	if adapter == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, decision.Tier)
	}
	profile := ProfileFor(decision.Tier, s.maxEdge[decision.Tier])
	rep.report(20, fmt.Sprintf("selected %s tier (%s)", decision.Tier, decision.Rule))

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "generation.run", trace.WithAttributes(
		attribute.String("gazou.tier", string(decision.Tier)),
		attribute.String("gazou.rule", string(decision.Rule)),
		attribute.Int("gazou.count", req.Count),
	))
	defer span.End()
	start := time.Now()

	cfg := profile.BuildConfig(req)
	call := imagegen.Call{
		Prompt:            profile.EnhancePrompt(req.Prompt, req),
		NegativePrompt:    req.NegativePrompt,
		SystemInstruction: req.SystemInstruction,
		References:        req.References,
		Config:            cfg,
	}
	base := baseMetadata(req, decision.Tier, adapter, cfg)

	result := &model.BatchResult{
		Tier:         decision.Tier,
		AutoSelected: decision.Rule != selection.RuleExplicit,
		Rule:         string(decision.Rule),
		Model:        adapter.Model(),
		Requested:    req.Count,
		Attempts:     make([]model.Attempt, req.Count),
	}
	refs := make([][]model.ArtifactRef, req.Count)
	storageFailed := make([]bool, req.Count)

	var (
		mu   sync.Mutex
		done int
	)
	finish := func(i int, a model.Attempt) {
		mu.Lock()
		defer mu.Unlock()
		result.Attempts[i] = a
		done++
		s.attemptsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tier", string(decision.Tier)),
			attribute.String("outcome", string(a.Outcome)),
		))
		rep.report(20+done*75/req.Count,
			fmt.Sprintf("attempt %d of %d %s (%d/%d done)", i+1, req.Count, a.Outcome, done, req.Count))
	}

	for i := range result.Attempts {
		result.Attempts[i] = model.Attempt{Index: i, Outcome: model.OutcomePending}
	}

	g := new(errgroup.Group)
	g.SetLimit(s.parallelism)
	for i := range req.Count {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				finish(i, failed(i, ctxReason(err)))
				return nil
			}
			a, r, storeErr := s.runAttempt(ctx, i, adapter, call, base)
			refs[i] = r
			storageFailed[i] = storeErr
			finish(i, a)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range refs {
		result.Artifacts = append(result.Artifacts, r...)
	}

	succeeded := result.Succeeded()
	elapsed := time.Since(start)
	s.runDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String("tier", string(decision.Tier)),
	))
	span.SetAttributes(attribute.Int("gazou.succeeded", succeeded))

	s.logger.Info("generation: run complete",
		"tier", decision.Tier,
		"rule", decision.Rule,
		"model", result.Model,
		"requested", req.Count,
		"succeeded", succeeded,
		"artifacts", len(result.Artifacts),
		"duration_ms", elapsed.Milliseconds())

	if succeeded == 0 && allTrue(storageFailed) {
		span.SetStatus(codes.Error, "artifact store unavailable")
		return result, ErrStoreUnavailable
	}
	rep.report(100, fmt.Sprintf("complete: %d of %d succeeded", succeeded, req.Count))
	return result, nil
}

// runAttempt performs one backend call and stores its images. The third
// return value reports whether the attempt failed in the store.
func (s *Service) runAttempt(ctx context.Context, i int, adapter imagegen.Adapter, call imagegen.Call, base map[string]any) (model.Attempt, []model.ArtifactRef, bool) {
	log := s.logger.With("attempt", i)

	images, err := adapter.Generate(ctx, call)
	if err != nil {
		reason := err.Error()
		if ctxErr := ctx.Err(); ctxErr != nil {
			reason = ctxReason(ctxErr)
		}
		log.Warn("generation: attempt failed", "kind", imagegen.KindOf(err), "error", err)
		return failed(i, reason), nil, false
	}
	if len(images) == 0 {
		log.Warn("generation: attempt returned no images")
		return failed(i, ReasonEmptyResult), nil, false
	}

	// The images are already paid for; store them even if the request
	// deadline passes mid-write.
	storeCtx := context.WithoutCancel(ctx)

	attempt := model.Attempt{Index: i, Outcome: model.OutcomeSuccess}
	refs := make([]model.ArtifactRef, 0, len(images))
	for j, img := range images {
		meta := maps.Clone(base)
		meta["attempt"] = i
		meta["image_index"] = j
		// Resolve the type here so the caller sees what the store records.
		mimeType := img.MIMEType
		if mimeType == "" {
			mimeType = mimetype.Detect(img.Data).String()
		}
		meta["mime_type"] = mimeType

		h, err := s.store.Put(storeCtx, img.Data, mimeType, meta)
		if err != nil {
			log.Error("generation: store artifact", "image_index", j, "error", err)
			for _, id := range attempt.ArtifactIDs {
				if delErr := s.store.Delete(storeCtx, id); delErr != nil {
					log.Warn("generation: roll back stored artifact", "artifact_id", id, "error", delErr)
				}
			}
			return failed(i, ReasonStorageFailure), nil, true
		}
		attempt.ArtifactIDs = append(attempt.ArtifactIDs, h.ID)
		refs = append(refs, model.ArtifactRef{
			Handle:     h,
			Attempt:    i,
			ImageIndex: j,
			MIMEType:   mimeType,
			Metadata:   meta,
		})
	}
	log.Debug("generation: attempt succeeded", "images", len(images))
	return attempt, refs, false
}

func failed(i int, reason string) model.Attempt {
	return model.Attempt{Index: i, Outcome: model.OutcomeFailed, Error: reason}
}

func ctxReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonDeadlineExceeded
	}
	return ReasonCancelled
}

func allTrue(v []bool) bool {
	for _, b := range v {
		if !b {
			return false
		}
	}
	return len(v) > 0
}

func baseMetadata(req model.Request, tier model.Tier, adapter imagegen.Adapter, cfg imagegen.Config) map[string]any {
	resolution := req.Resolution
	if resolution == "" {
		resolution = model.ResolutionStandard
	}
	mode := req.Mode
	if mode == "" {
		mode = model.ModeGenerate
	}
	meta := map[string]any{
		"model":             adapter.Model(),
		"tier":              string(tier),
		"resolution":        string(resolution),
		"grounding_enabled": cfg.Grounding,
		"prompt":            truncate(req.Prompt, maxPromptMetadata),
		"mode":              string(mode),
		"synthid_watermark": imagegen.IsWatermarked(adapter),
	}
	if cfg.Reasoning != model.ReasoningUnset {
		meta["thinking_level"] = string(cfg.Reasoning)
	}
	if req.NegativePrompt != "" {
		meta["negative_prompt"] = req.NegativePrompt
	}
	if req.SystemInstruction != "" {
		meta["system_instruction"] = req.SystemInstruction
	}
	if req.AspectRatio != "" {
		meta["aspect_ratio"] = req.AspectRatio
	}
	return meta
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// reporter serialises progress callbacks and clamps them so a slow sibling
// finishing late can never move the bar backwards.
type reporter struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last int
}

func (r *reporter) report(percent int, message string) {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	percent = min(max(percent, r.last), 100)
	r.last = percent
	r.fn(percent, message)
}
