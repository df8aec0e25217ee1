package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/budget"
	"github.com/agenthands/genesis/internal/core/lifecycle"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/core/moderation"
	"github.com/agenthands/genesis/internal/core/script"
	"github.com/agenthands/genesis/internal/core/storylet"
	"github.com/agenthands/genesis/internal/llm"
	"github.com/agenthands/genesis/internal/logger"
	"github.com/agenthands/genesis/internal/store"
	"github.com/agenthands/genesis/internal/video"
)

// run is one pass of the pipeline over a freshly created episode.
type run struct {
	o   *Orchestrator
	ep  model.Episode
	hc  model.HeroContext
	log *logger.Logger

	sel    storylet.Selection
	script script.Script
}

func (r *run) execute(ctx context.Context) error {
	r.selectStorylet()

	if err := r.scriptStage(ctx); err != nil {
		return r.fail(ctx, err)
	}
	if err := r.panelStage(ctx); err != nil {
		return r.fail(ctx, err)
	}
	if err := r.videoStage(ctx); err != nil {
		return r.fail(ctx, err)
	}
	return r.commit(ctx)
}

func (r *run) selectStorylet() {
	sel, err := r.o.Storylets.Select(r.hc)
	if err != nil {
		r.log.Info("no eligible storylet, using default", "error", err)
		sel = storylet.Selection{Template: model.DefaultStorylet}
	}
	r.sel = sel
	r.log.Debug("storylet selected", "storylet_id", sel.Template.ID, "crossover", sel.Partner != nil)
}

// Stage transitions

// advance checks for cancellation, moves to stage and checkpoints.
func (r *run) advance(ctx context.Context, stage lifecycle.Stage) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.CodeCancelled, err, "before %s", stage)
	}
	st, err := r.ep.Status.To(stage)
	if err != nil {
		return err
	}
	r.ep.Status = st
	r.log.Debug("stage", "stage", stage)
	return r.save(ctx)
}

func (r *run) save(ctx context.Context) error {
	r.ep.UpdatedAt = r.o.Now()
	return r.o.Store.SaveEpisode(ctx, r.ep)
}

// fail records Failed(code) even when ctx is already cancelled and returns
// err for the caller.
func (r *run) fail(ctx context.Context, err error) error {
	if apperr.GetCode(err) == apperr.CodeUnknown {
		err = apperr.Wrap(apperr.CodeInternal, err, "generation")
	}
	st, ferr := r.ep.Status.Fail(apperr.GetCode(err), err.Error())
	if ferr != nil {
		return err
	}
	r.ep.Status = st
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if serr := r.save(saveCtx); serr != nil {
		r.log.Error("failed to record failure", "error", serr)
	}
	return err
}

// partial ends the run without video. It is persisted by the commit, so a
// failed commit never leaves a delivered-looking episode behind.
func (r *run) partial(cause error) error {
	code := apperr.GetCode(cause)
	if code == apperr.CodeUnknown {
		code = apperr.CodeExternalUnavailable
	}
	st, err := r.ep.Status.Partial(code, cause.Error())
	if err != nil {
		return err
	}
	r.ep.Status = st
	r.log.Info("video skipped", "reason", code, "detail", cause.Error())
	return nil
}

func (r *run) ticket(ctx context.Context, panel int, code apperr.Code, reasons []string) {
	t := model.ReviewTicket{
		ID:          r.o.NewID(),
		EpisodeID:   r.ep.ID,
		HeroID:      r.ep.HeroID,
		PanelNumber: panel,
		Code:        string(code),
		Reasons:     reasons,
		CreatedAt:   r.o.Now(),
	}
	if err := r.o.Store.CreateReviewTicket(ctx, t); err != nil {
		r.log.Error("failed to create review ticket", "panel", panel, "error", err)
		return
	}
	r.log.Info("review ticket created", "ticket_id", t.ID, "panel", panel, "code", code)
}

// Script

func (r *run) scriptStage(ctx context.Context) error {
	req := script.Request{Context: r.hc, Storylet: r.sel.Template, Partner: r.sel.Partner}
	policy := moderation.PolicyFor(r.o.textPolicy, r.hc.Hero.ContentSettings)
	failures, regenerations := 0, 0

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.CodeCancelled, err, "script stage")
		}
		if err := r.o.Budget.Acquire(ctx, r.ep.HeroID, budget.Text); err != nil {
			return err
		}

		s, err := call(ctx, r.o, "script", func(cctx context.Context) (script.Script, error) {
			return r.o.Writer.Draft(cctx, req)
		})
		if err != nil {
			code := apperr.GetCode(err)
			if code != apperr.CodeSchemaInvalid && code != apperr.CodeExternalTimeout {
				return err
			}
			failures++
			r.log.Warn("script rejected", "attempt", attempt, "code", code, "error", err)
			if failures > r.o.gen.ScriptSchemaRetries {
				return err
			}
			req.Constraints = append(req.Constraints, script.Tighten(err))
			continue
		}

		s.Apply(&r.ep)
		r.ep.StoryletID = r.sel.Template.ID
		if r.sel.Partner != nil {
			r.ep.CrossoverHeroID = r.sel.Partner.PartnerID
		}
		if err := r.advance(ctx, lifecycle.ScriptDrafted); err != nil {
			return err
		}

		verdict, err := call(ctx, r.o, "script moderation", func(cctx context.Context) (moderation.Result, error) {
			return r.o.Gate.EvaluateText(cctx, s.Text(), policy)
		})
		if err != nil {
			return err
		}
		switch verdict.Verdict {
		case moderation.Accept:
			r.script = s
			return r.advance(ctx, lifecycle.ScriptApproved)
		case moderation.Regenerate:
			regenerations++
			r.log.Info("script regenerating", "attempt", attempt, "score", verdict.Score, "reasons", verdict.Reasons)
			if regenerations > r.o.gen.ScriptRegenerations {
				r.ticket(ctx, 0, apperr.CodeModerationEscalate, verdict.Reasons)
				return apperr.New(apperr.CodeModerationEscalate, "script still unsafe after %d regenerations", r.o.gen.ScriptRegenerations)
			}
			req.Constraints = append(req.Constraints, script.Soften(verdict.Reasons))
		default:
			r.ticket(ctx, 0, apperr.CodeModerationEscalate, verdict.Reasons)
			return apperr.New(apperr.CodeModerationEscalate, "script escalated for review (score %.2f)", verdict.Score)
		}
	}
}

// Panels

func (r *run) panelStage(ctx context.Context) error {
	if err := r.advance(ctx, lifecycle.PanelsGenerating); err != nil {
		return err
	}
	policy := moderation.PolicyFor(r.o.imgPolicy, r.hc.Hero.ContentSettings)
	// strictly in panel order; later prompts may depend on earlier panels
	for i := range r.ep.Panels {
		if err := r.renderPanel(ctx, i, policy); err != nil {
			return err
		}
		if err := r.save(ctx); err != nil {
			return err
		}
	}
	return r.advance(ctx, lifecycle.PanelsApproved)
}

// renderPanel returns an error only for cancellation. Any other failure
// leaves the panel flagged for review.
func (r *run) renderPanel(ctx context.Context, i int, policy moderation.Policy) error {
	p := &r.ep.Panels[i]
	log := r.log.With("panel", p.Number)
	prompt := p.Prompt
	var reasons []string
	code := apperr.CodeModerationRegenerate

	for p.RetryCount < r.o.gen.PanelRetries {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.CodeCancelled, err, "panel %d", p.Number)
		}
		if err := r.o.Budget.Acquire(ctx, r.ep.HeroID, budget.Image); err != nil {
			if apperr.IsCode(err, apperr.CodeCancelled) {
				return err
			}
			code, reasons = apperr.GetCode(err), []string{err.Error()}
			break
		}

		img, err := call(ctx, r.o, "panel image", func(cctx context.Context) (llm.Image, error) {
			return r.o.Images.GenerateImage(cctx, llm.ImageRequest{
				Prompt:    prompt,
				Reference: r.hc.Hero.CharacterReference,
				Size:      r.o.imageSize,
			})
		})
		if err == nil {
			var verdict moderation.Result
			verdict, err = call(ctx, r.o, "panel moderation", func(cctx context.Context) (moderation.Result, error) {
				return r.o.Gate.EvaluateImage(cctx, moderation.Image{URI: img.URL, Prompt: prompt}, policy)
			})
			if err == nil {
				p.SafetyScore = verdict.Score
				switch verdict.Verdict {
				case moderation.Accept:
					p.ImageRef = img.URL
					log.Debug("panel accepted", "score", verdict.Score, "attempt", p.RetryCount+1)
					return nil
				case moderation.Escalate:
					p.RetryCount++
					p.NeedsReview = true
					log.Warn("panel escalated", "score", verdict.Score, "reasons", verdict.Reasons)
					r.ticket(ctx, p.Number, apperr.CodeModerationEscalate, verdict.Reasons)
					return nil
				}
				reasons = verdict.Reasons
				prompt = adjustPrompt(p.Prompt, verdict.Reasons)
				err = apperr.New(apperr.CodeModerationRegenerate, "score %.2f", verdict.Score)
			}
		}
		if apperr.IsCode(err, apperr.CodeCancelled) {
			return err
		}
		p.RetryCount++
		code = apperr.GetCode(err)
		if code != apperr.CodeModerationRegenerate {
			reasons = []string{err.Error()}
		}
		log.Info("panel attempt failed", "attempt", p.RetryCount, "code", code, "error", err)
	}

	p.NeedsReview = true
	log.Warn("panel needs review", "attempts", p.RetryCount, "code", code)
	r.ticket(ctx, p.Number, code, reasons)
	return nil
}

func adjustPrompt(prompt string, reasons []string) string {
	if len(reasons) == 0 {
		return prompt + " Keep the scene gentle and suitable for children."
	}
	return fmt.Sprintf("%s Keep the scene gentle and suitable for children; avoid anything showing %v.", prompt, reasons)
}

// Video

func (r *run) videoStage(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.CodeCancelled, err, "before video")
	}
	if _, off := r.o.Video.(video.Unavailable); off {
		return r.partial(apperr.New(apperr.CodeExternalUnavailable, "video composition is disabled"))
	}
	if err := r.o.Budget.Preflight(r.ep.HeroID, budget.Video); err != nil {
		return r.partial(err)
	}
	plan := video.Plan(r.ep, r.script.ClimaxPanels, r.o.video.ClimaxSegments, r.o.video.TargetSeconds)
	if len(plan.Segments) == 0 {
		return r.partial(apperr.New(apperr.CodeInvalidArgument, "no approved panels to compose"))
	}

	if err := r.advance(ctx, lifecycle.VideoComposing); err != nil {
		return err
	}
	if err := r.o.Budget.Acquire(ctx, r.ep.HeroID, budget.Video); err != nil {
		if apperr.IsCode(err, apperr.CodeCancelled) {
			return err
		}
		return r.partial(err)
	}
	v, err := call(ctx, r.o, "video", func(cctx context.Context) (model.Video, error) {
		return r.o.Video.Compose(cctx, plan)
	})
	if err != nil {
		if apperr.IsCode(err, apperr.CodeCancelled) {
			return err
		}
		return r.partial(err)
	}
	r.ep.Video = &v
	st, err := r.ep.Status.To(lifecycle.Complete)
	if err != nil {
		return err
	}
	r.ep.Status = st
	return nil
}

// Commit

func (r *run) commit(ctx context.Context) error {
	now := r.o.Now()
	r.ep.GeneratedAt = now
	r.ep.UpdatedAt = now
	if dest := r.script.Destination(r.hc); dest != "" {
		r.ep.LocationID = dest
	} else {
		r.ep.LocationID = r.hc.Hero.LocationID
	}
	if err := r.ep.CheckConsistency(); err != nil {
		return r.failTerminal(ctx, apperr.Wrap(apperr.CodeInternal, err, "inconsistent episode"))
	}

	c := store.Commit{
		Events:          r.script.EmergentEvents(r.ep, r.hc, now, r.o.NewID),
		CrossoverHeroID: r.ep.CrossoverHeroID,
		LocationID:      r.script.Destination(r.hc),
	}
	if r.sel.Template.ID != model.DefaultStorylet.ID {
		c.StoryletUse = &model.StoryletUse{StoryletID: r.sel.Template.ID, UsedAt: r.hc.Now}
	}
	if _, err := r.o.Store.CommitEpisode(ctx, r.ep, c); err != nil {
		return r.failTerminal(ctx, err)
	}
	return nil
}

// failTerminal handles a commit that could not happen after the episode
// reached a terminal stage in memory. The persisted checkpoint is still
// non-terminal, so it is failed from there.
func (r *run) failTerminal(ctx context.Context, err error) error {
	stored, gerr := r.o.Store.GetEpisode(context.WithoutCancel(ctx), r.ep.ID)
	if gerr == nil {
		r.ep = stored
	}
	return r.fail(ctx, err)
}

// call runs fn with a per-call timeout and retries rate-limited and
// unavailable collaborators with exponential backoff. Other failures are
// returned at once, classified.
func call[T any](ctx context.Context, o *Orchestrator, op string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if o.gen.BackoffInitialMillis > 0 {
		b.InitialInterval = time.Duration(o.gen.BackoffInitialMillis) * time.Millisecond
	}
	if o.gen.BackoffMaxMillis > 0 {
		b.MaxInterval = time.Duration(o.gen.BackoffMaxMillis) * time.Millisecond
	}

	v, err := backoff.Retry(ctx, func() (T, error) {
		cctx, cancel := o.callContext(ctx)
		defer cancel()
		v, err := fn(cctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = apperr.Wrap(apperr.CodeExternalTimeout, err, "%s", op)
		}
		err = llm.Classify(err, op)
		switch apperr.GetCode(err) {
		case apperr.CodeRateLimited, apperr.CodeExternalUnavailable:
			return v, err
		default:
			return v, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(max(o.gen.ExternalRetries, 0)+1)))

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, llm.Classify(err, op)
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := o.gen.CallTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
