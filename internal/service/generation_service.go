package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/digkill/imaginebot/internal/catalog"
	"github.com/digkill/imaginebot/internal/metrics"
	"github.com/digkill/imaginebot/internal/models"
	"github.com/digkill/imaginebot/internal/prompt"
	"github.com/digkill/imaginebot/internal/repository"
	"github.com/digkill/imaginebot/internal/session"
)

const (
	sourceImagine  = "imagine"
	sourceFollowUp = "follow_up"
)

// ImageArchive keeps a durable copy of generated images.
type ImageArchive interface {
	Store(ctx context.Context, ownerID string, data []byte, contentType string) (string, error)
}

type GenerationService struct {
	log         *slog.Logger
	users       *repository.UserRepository
	generations *repository.GenerationRepository
	dispatcher  *Dispatcher
	policy      *prompt.Policy
	sessions    *session.Manager
	limits      Limits
	archive     ImageArchive
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*GenerationService)

func WithArchive(a ImageArchive) Option {
	return func(s *GenerationService) { s.archive = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *GenerationService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *GenerationService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewGenerationService(
	log *slog.Logger,
	users *repository.UserRepository,
	generations *repository.GenerationRepository,
	dispatcher *Dispatcher,
	policy *prompt.Policy,
	sessions *session.Manager,
	limits Limits,
	opts ...Option,
) *GenerationService {
	s := &GenerationService{
		log:         log,
		users:       users,
		generations: generations,
		dispatcher:  dispatcher,
		policy:      policy,
		sessions:    sessions,
		limits:      limits,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ImagineRequest is a new generation. Empty Model, Style or Quality fall
// back to the user's stored preferences.
type ImagineRequest struct {
	UserID  string
	Prompt  string
	Model   string
	Style   string
	Quality string
}

type FollowUpRequest struct {
	SessionID string
	UserID    string
	Action    session.Action
}

// Result is a delivered generation and the session bound to it.
type Result struct {
	Session  *session.Session
	Account  *models.UserAccount
	Limit    int
	Action   session.Action
	Modifier string
	Elapsed  time.Duration
}

func (r *Result) Remaining() int {
	if left := r.Limit - r.Account.DailyGenerations; left > 0 {
		return left
	}
	return 0
}

type selection struct {
	model   catalog.Model
	style   catalog.Style
	quality catalog.Quality
}

type generated struct {
	dispatch *Dispatch
	account  *models.UserAccount
	limit    int
	imageURL string
}

// Imagine validates the prompt, checks the daily quota, generates the
// image and registers a session for it. Counters change only on success.
func (s *GenerationService) Imagine(ctx context.Context, req ImagineRequest) (*Result, error) {
	if err := s.policy.Validate(req.Prompt); err != nil {
		s.metrics.Generation(sourceImagine, metrics.OutcomeRejected)
		var rejected *prompt.RejectedError
		if errors.As(err, &rejected) {
			return nil, &ValidationError{Reason: rejected.Reason}
		}
		return nil, err
	}

	explicit, err := lookupExplicit(req)
	if err != nil {
		s.metrics.Generation(sourceImagine, metrics.OutcomeRejected)
		return nil, err
	}

	user, err := s.users.GetOrCreate(ctx, req.UserID, s.now())
	if err != nil {
		return nil, &StoreError{Op: "get user", Err: err}
	}
	sel := s.resolve(user, explicit)
	enriched := prompt.Enrich(req.Prompt, sel.style, sel.quality)

	gen, err := s.generate(ctx, sourceImagine, user, enriched, sel)
	if err != nil {
		return nil, err
	}

	sess := s.sessions.Register(&session.Session{
		OwnerID:        req.UserID,
		OriginalPrompt: req.Prompt,
		EnrichedPrompt: enriched,
		Model:          sel.model.Name,
		Style:          sel.style.Name,
		Quality:        sel.quality.Name,
		ZoomLevel:      1,
		Image:          gen.dispatch.Image.Bytes,
		ImageMime:      gen.dispatch.Image.Mime,
		ImageURL:       gen.imageURL,
		GenerationTime: gen.dispatch.Elapsed.Seconds(),
	})
	s.metrics.Generation(sourceImagine, metrics.OutcomeSuccess)

	return &Result{
		Session: sess,
		Account: gen.account,
		Limit:   gen.limit,
		Elapsed: gen.dispatch.Elapsed,
	}, nil
}

// PendingFollowUp is an accepted follow-up action that has not generated yet.
type PendingFollowUp struct {
	current *session.Session
	action  session.Action
	userID  string
}

func (p *PendingFollowUp) Action() session.Action {
	return p.action
}

// PrepareFollowUp accepts a variation or zoom on an existing session. Only
// the session owner may trigger it, and the session must be live and out of
// its cooldown. Nothing is generated or charged yet.
func (s *GenerationService) PrepareFollowUp(req FollowUpRequest) (*PendingFollowUp, error) {
	if !req.Action.Consumes() {
		return nil, &ValidationError{Reason: "Unknown action."}
	}

	current, err := s.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}
	if current.OwnerID != req.UserID {
		return nil, ErrNotSessionOwner
	}
	if _, err := s.sessions.Acquire(req.SessionID); err != nil {
		return nil, err
	}
	return &PendingFollowUp{current: current, action: req.Action, userID: req.UserID}, nil
}

// FollowUp prepares and completes a follow-up in one call.
func (s *GenerationService) FollowUp(ctx context.Context, req FollowUpRequest) (*Result, error) {
	pending, err := s.PrepareFollowUp(req)
	if err != nil {
		return nil, err
	}
	return s.CompleteFollowUp(ctx, pending)
}

// CompleteFollowUp derives the new prompt, checks the quota again and
// generates. On success the old session is retired in favor of the new one.
func (s *GenerationService) CompleteFollowUp(ctx context.Context, p *PendingFollowUp) (*Result, error) {
	current := p.current

	sel := s.resolve(nil, selectionOf(current))
	var (
		text     string
		modifier string
		zoom     = current.ZoomLevel
	)
	switch p.action {
	case session.ActionVariation:
		text, modifier = s.policy.Variation(current.EnrichedPrompt)
	case session.ActionZoomIn:
		text, modifier = s.policy.ZoomIn(current.EnrichedPrompt, sel.style)
		zoom++
	case session.ActionZoomOut:
		text, modifier = s.policy.ZoomOut(current.EnrichedPrompt, sel.style)
		zoom = max(1, zoom-1)
	}

	user, err := s.users.GetOrCreate(ctx, p.userID, s.now())
	if err != nil {
		s.metrics.FollowUp(string(p.action), metrics.OutcomeFailed)
		return nil, &StoreError{Op: "get user", Err: err}
	}

	gen, err := s.generate(ctx, sourceFollowUp, user, text, sel)
	if err != nil {
		var quota *QuotaExceededError
		if errors.As(err, &quota) {
			s.metrics.FollowUp(string(p.action), metrics.OutcomeQuota)
		} else {
			s.metrics.FollowUp(string(p.action), metrics.OutcomeFailed)
		}
		return nil, err
	}

	next := s.sessions.Replace(current.ID, &session.Session{
		OwnerID:        current.OwnerID,
		OriginalPrompt: current.OriginalPrompt,
		EnrichedPrompt: text,
		Model:          sel.model.Name,
		Style:          sel.style.Name,
		Quality:        sel.quality.Name,
		ZoomLevel:      zoom,
		Image:          gen.dispatch.Image.Bytes,
		ImageMime:      gen.dispatch.Image.Mime,
		ImageURL:       gen.imageURL,
		GenerationTime: gen.dispatch.Elapsed.Seconds(),
	})
	s.metrics.Generation(sourceFollowUp, metrics.OutcomeSuccess)
	s.metrics.FollowUp(string(p.action), metrics.OutcomeSuccess)

	return &Result{
		Session:  next,
		Account:  gen.account,
		Limit:    gen.limit,
		Action:   p.action,
		Modifier: modifier,
		Elapsed:  gen.dispatch.Elapsed,
	}, nil
}

// Session returns a live session for re-delivery. Anyone may read it.
func (s *GenerationService) Session(id string) (*session.Session, error) {
	return s.sessions.Get(id)
}

func (s *GenerationService) generate(ctx context.Context, source string, user *models.UserAccount, text string, sel selection) (*generated, error) {
	limit := s.limits.For(user)
	if user.DailyGenerations >= limit {
		s.metrics.QuotaRejected(user.IsPremium)
		s.metrics.Generation(source, metrics.OutcomeQuota)
		return nil, &QuotaExceededError{Limit: limit, Used: user.DailyGenerations, Premium: user.IsPremium}
	}

	dispatch, err := s.dispatcher.Generate(ctx, text, sel.model.ID)
	if err != nil {
		s.log.Error("generation failed", "user_id", user.UserID, "model", sel.model.Name, "prompt", text, "err", err)
		s.metrics.Generation(source, metrics.OutcomeFailed)
		return nil, err
	}
	s.metrics.GenerationTime(sel.model.Name, dispatch.Elapsed.Seconds())

	now := s.now()
	_, err = s.generations.Record(ctx, models.GenerationRecord{
		UserID:         user.UserID,
		Prompt:         text,
		Model:          sel.model.Name,
		Style:          sel.style.Name,
		Quality:        sel.quality.Name,
		GenerationTime: dispatch.Elapsed.Seconds(),
	}, limit, now)
	if err != nil {
		if errors.Is(err, repository.ErrDailyLimitReached) {
			// Another request took the last slot while this one was generating.
			s.log.Warn("discarding image, quota filled concurrently", "user_id", user.UserID)
			s.metrics.QuotaRejected(user.IsPremium)
			s.metrics.Generation(source, metrics.OutcomeQuota)
			return nil, &QuotaExceededError{Limit: limit, Used: limit, Premium: user.IsPremium}
		}
		s.metrics.Generation(source, metrics.OutcomeFailed)
		return nil, &StoreError{Op: "record generation", Err: err}
	}

	account := *user
	if today := models.Day(now); account.LastGenerationDate != today {
		account.LastGenerationDate = today
		account.DailyGenerations = 0
	}
	account.DailyGenerations++
	account.TotalGenerations++

	var imageURL string
	if s.archive != nil {
		imageURL, err = s.archive.Store(ctx, user.UserID, dispatch.Image.Bytes, dispatch.Image.Mime)
		if err != nil {
			s.log.Warn("archive upload failed", "user_id", user.UserID, "err", err)
		}
	}

	s.log.Info("image generated",
		"user_id", user.UserID,
		"source", source,
		"model", sel.model.Name,
		"style", sel.style.Name,
		"quality", sel.quality.Name,
		"elapsed", dispatch.Elapsed.String(),
	)

	return &generated{dispatch: dispatch, account: &account, limit: limit, imageURL: imageURL}, nil
}

// explicitChoice holds the names given on the request; zero values mean
// "use the preference".
type explicitChoice struct {
	model   *catalog.Model
	style   *catalog.Style
	quality *catalog.Quality
}

func lookupExplicit(req ImagineRequest) (explicitChoice, error) {
	var c explicitChoice
	if req.Model != "" {
		m, err := catalog.LookupModel(req.Model)
		if err != nil {
			return c, unknownChoice(err)
		}
		c.model = &m
	}
	if req.Style != "" {
		st, err := catalog.LookupStyle(req.Style)
		if err != nil {
			return c, unknownChoice(err)
		}
		c.style = &st
	}
	if req.Quality != "" {
		q, err := catalog.LookupQuality(req.Quality)
		if err != nil {
			return c, unknownChoice(err)
		}
		c.quality = &q
	}
	return c, nil
}

// selectionOf re-resolves a session's canonical names.
func selectionOf(sess *session.Session) explicitChoice {
	var c explicitChoice
	if m, err := catalog.LookupModel(sess.Model); err == nil {
		c.model = &m
	}
	if st, err := catalog.LookupStyle(sess.Style); err == nil {
		c.style = &st
	}
	if q, err := catalog.LookupQuality(sess.Quality); err == nil {
		c.quality = &q
	}
	return c
}

// resolve fills each unset choice from the user's preference, then from the
// catalog default when the stored preference no longer resolves.
func (s *GenerationService) resolve(user *models.UserAccount, c explicitChoice) selection {
	var prefModel, prefStyle, prefQuality string
	if user != nil {
		prefModel, prefStyle, prefQuality = user.PreferredModel, user.PreferredStyle, user.PreferredQuality
	}

	var sel selection
	if c.model != nil {
		sel.model = *c.model
	} else {
		sel.model = resolveOne(s.log, catalog.KindModel, prefModel, catalog.LookupModel, catalog.DefaultModel)
	}
	if c.style != nil {
		sel.style = *c.style
	} else {
		sel.style = resolveOne(s.log, catalog.KindStyle, prefStyle, catalog.LookupStyle, catalog.DefaultStyle)
	}
	if c.quality != nil {
		sel.quality = *c.quality
	} else {
		sel.quality = resolveOne(s.log, catalog.KindQuality, prefQuality, catalog.LookupQuality, catalog.DefaultQuality)
	}
	return sel
}

func resolveOne[T any](log *slog.Logger, kind catalog.Kind, name string, lookup func(string) (T, error), def string) T {
	if name != "" {
		if v, err := lookup(name); err == nil {
			return v
		}
		log.Warn("stored preference no longer resolves, using default", "kind", kind, "name", name)
	}
	// Defaults are catalog members, so this lookup only fails if the
	// catalog tables are edited inconsistently.
	v, err := lookup(def)
	if err != nil {
		log.Error("catalog default does not resolve", "kind", kind, "name", def, "error", err)
	}
	return v
}
