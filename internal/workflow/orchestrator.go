package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/logging"
	"github.com/mohammad-safakhou/autoposter/internal/telemetry"
	"github.com/mohammad-safakhou/autoposter/internal/trace"
)

// ErrMissingCredentials is returned before any work when no LinkedIn
// token is configured.
var ErrMissingCredentials = errors.New("workflow: linkedin access token required")

// Stage names.
const (
	StageCollect     = "collect"
	StageRecentPosts = "recent_posts"
	StageDecide      = "decide"
	StageRefine      = "refine"
	StagePublish     = "publish"
	StagePersist     = "persist"
)

// StageError reports the stage that aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Run triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
)

type RunRequest struct {
	RunID   string
	Topic   string
	Trigger string
}

// Result describes a finished run. A failed run still returns a Result
// carrying the trace gathered so far.
type Result struct {
	RunID      string           `json:"run_id"`
	Topic      string           `json:"topic"`
	PostURN    string           `json:"post_urn,omitempty"`
	Decision   *Decision        `json:"decision,omitempty"`
	Source     string           `json:"decision_source,omitempty"`
	Content    CollectedContent `json:"news_content"`
	ImageURL   string           `json:"image_url,omitempty"`
	Post       *PublishedPost   `json:"post,omitempty"`
	PersistErr string           `json:"persist_error,omitempty"`
	Summary    RunSummary       `json:"summary"`
	Trace      string           `json:"-"`
	Blocks     []trace.Block    `json:"trace"`
}

// Deps are the collaborators of an Orchestrator. Images and Topics may be nil.
type Deps struct {
	Model     Model
	Tools     ToolRunner
	Topics    TopicSource
	Poster    Poster
	Images    ImageStore
	Posts     PostStore
	Telemetry *telemetry.Telemetry
	Logger    logging.Logger
	// TrustedImageHost marks prior-post images served from our own storage.
	TrustedImageHost string
}

// Orchestrator runs the posting pipeline end to end.
type Orchestrator struct {
	cfg       config.WorkflowConfig
	collector *Collector
	decider   *Decider
	refiner   *Refiner
	publisher *Publisher
	persister *Persister
	posts     PostStore
	poster    Poster
	topics    TopicSource
	tele      *telemetry.Telemetry
	logger    logging.Logger
	tracer    oteltrace.Tracer
}

func NewOrchestrator(cfg config.WorkflowConfig, deps Deps) *Orchestrator {
	cfg = cfg.Normalize()
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		cfg:       cfg,
		collector: NewCollector(deps.Model, deps.Tools, deps.Telemetry, logger, cfg.MaxIterations, cfg.MinItems, cfg.MaxItems),
		decider:   NewDecider(deps.Model, logger, deps.TrustedImageHost),
		refiner:   NewRefiner(deps.Model, logger),
		publisher: NewPublisher(deps.Poster, deps.Model, deps.Images, cfg.ImageSpoolDir, deps.Telemetry, logger),
		persister: NewPersister(deps.Posts, deps.Poster, logger),
		posts:     deps.Posts,
		poster:    deps.Poster,
		topics:    deps.Topics,
		tele:      deps.Telemetry,
		logger:    logger,
		tracer:    otel.Tracer("autoposter/internal/workflow"),
	}
}

// stage wraps fn in a span, a duration observation and log fields.
func (o *Orchestrator) stage(ctx context.Context, runID, name string, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "workflow."+name, oteltrace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("stage", name),
	))
	defer span.End()
	start := time.Now()
	log := o.logger.WithFields(logging.Fields{"run_id": runID, "stage": name})
	log.Info("stage started")

	err := fn(ctx)
	o.tele.RecordStage(name, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Warn("stage failed")
		return err
	}
	log.WithField("duration", time.Since(start).String()).Info("stage finished")
	return nil
}

// Run executes one run with a fresh execution trace. The returned error is
// ErrMissingCredentials or a *StageError naming the stage that aborted;
// recent-post, decide, refine and persist problems never abort a run.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	rec := trace.NewRecorder(req.RunID)
	ctx = trace.WithRecorder(ctx, rec)
	res := &Result{RunID: req.RunID}
	finish := func(outcome string, err error) (*Result, error) {
		res.Trace = rec.String()
		res.Blocks = rec.Blocks()
		o.tele.RecordRun(req.Trigger, outcome)
		return res, err
	}

	if o.poster == nil || !o.poster.HasCredentials() {
		return finish("rejected", ErrMissingCredentials)
	}

	res.Topic = o.resolveTopic(ctx, req.Topic)
	summary := &RunSummary{}
	log := o.logger.WithFields(logging.Fields{"run_id": req.RunID, "trigger": req.Trigger})
	log.WithField("topic", topicDisplay(res.Topic)).Info("starting workflow")

	err := o.stage(ctx, req.RunID, StageCollect, func(ctx context.Context) error {
		content, err := o.collector.Collect(ctx, res.Topic, summary)
		res.Content = content
		return err
	})
	if err != nil {
		return finish("failed", &StageError{Stage: StageCollect, Err: err})
	}

	var recent []PublishedPost
	_ = o.stage(ctx, req.RunID, StageRecentPosts, func(ctx context.Context) error {
		posts, err := o.posts.RecentPosts(ctx, o.cfg.RecentPosts)
		if err != nil {
			return err
		}
		recent = posts
		return nil
	})

	var decision Decision
	_ = o.stage(ctx, req.RunID, StageDecide, func(ctx context.Context) error {
		decision, res.Source = o.decider.Decide(ctx, res.Content, recent)
		decided := decision
		summary.Decision = &decided
		summary.DecisionSource = res.Source
		return nil
	})

	_ = o.stage(ctx, req.RunID, StageRefine, func(ctx context.Context) error {
		decision = o.refiner.Refine(ctx, decision, res.Content, summary)
		return nil
	})
	res.Decision = &decision
	res.Summary = *summary

	var pub Publication
	err = o.stage(ctx, req.RunID, StagePublish, func(ctx context.Context) error {
		var err error
		pub, err = o.publisher.Publish(ctx, decision)
		return err
	})
	if err != nil {
		return finish("failed", &StageError{Stage: StagePublish, Err: err})
	}
	res.PostURN = pub.PostURN
	res.ImageURL = pub.ImageURL
	res.Decision = &pub.Decision

	_ = o.stage(ctx, req.RunID, StagePersist, func(ctx context.Context) error {
		post, err := o.persister.Save(ctx, req.RunID, pub)
		res.Post = &post
		if err != nil {
			res.PersistErr = err.Error()
		}
		return err
	})

	log.WithField("post_urn", res.PostURN).Info("workflow completed")
	return finish("succeeded", nil)
}

// resolveTopic prefers the request, then configuration, then trending
// topics, then a generic default.
func (o *Orchestrator) resolveTopic(ctx context.Context, requested string) string {
	if t := strings.TrimSpace(requested); t != "" {
		return t
	}
	if t := strings.TrimSpace(o.cfg.Topic); t != "" {
		return t
	}
	if o.topics != nil {
		topics, err := o.topics.TrendingTopics(ctx, 5)
		if err != nil {
			o.logger.WithError(err).Warn("trending topics unavailable")
		}
		if len(topics) > 0 {
			titles := make([]string, 0, len(topics))
			for _, t := range topics {
				titles = append(titles, t.Title)
			}
			return "trending topics: " + strings.Join(titles, "; ")
		}
	}
	return "technology"
}
