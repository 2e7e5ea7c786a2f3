package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/imaginebot/internal/catalog"
	"github.com/digkill/imaginebot/internal/models"
	"github.com/digkill/imaginebot/internal/repository"
)

// Limits are the daily generation ceilings.
type Limits struct {
	Free    int
	Premium int
}

func (l Limits) For(user *models.UserAccount) int {
	if user != nil && user.IsPremium {
		return l.Premium
	}
	return l.Free
}

type UserService struct {
	users       *repository.UserRepository
	generations *repository.GenerationRepository
	limits      Limits
	now         func() time.Time
}

func NewUserService(users *repository.UserRepository, generations *repository.GenerationRepository, limits Limits) *UserService {
	return &UserService{users: users, generations: generations, limits: limits, now: time.Now}
}

// Stats is the usage summary shown to a user.
type Stats struct {
	Account *models.UserAccount
	Limit   int
}

func (s Stats) Remaining() int {
	if left := s.Limit - s.Account.DailyGenerations; left > 0 {
		return left
	}
	return 0
}

func (s *UserService) Limits() Limits {
	return s.limits
}

// Account returns the user's record, creating it on first contact.
func (s *UserService) Account(ctx context.Context, userID string) (*models.UserAccount, error) {
	user, err := s.users.GetOrCreate(ctx, userID, s.now())
	if err != nil {
		return nil, &StoreError{Op: "get user", Err: err}
	}
	return user, nil
}

func (s *UserService) Stats(ctx context.Context, userID string) (*Stats, error) {
	user, err := s.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Stats{Account: user, Limit: s.limits.For(user)}, nil
}

// Find returns nil without error when the user has never interacted.
func (s *UserService) Find(ctx context.Context, userID string) (*models.UserAccount, error) {
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		return nil, &StoreError{Op: "find user", Err: err}
	}
	return user, nil
}

// PreferenceInput names the preferences to change; empty fields are kept.
type PreferenceInput struct {
	Model   string
	Style   string
	Quality string
}

// SetPreferences validates every given name against its catalog and stores
// the canonical names. Nothing is written if any name is unknown.
func (s *UserService) SetPreferences(ctx context.Context, userID string, in PreferenceInput) (*models.Preferences, error) {
	var prefs models.Preferences
	if in.Model != "" {
		m, err := catalog.LookupModel(in.Model)
		if err != nil {
			return nil, unknownChoice(err)
		}
		prefs.Model = &m.Name
	}
	if in.Style != "" {
		st, err := catalog.LookupStyle(in.Style)
		if err != nil {
			return nil, unknownChoice(err)
		}
		prefs.Style = &st.Name
	}
	if in.Quality != "" {
		q, err := catalog.LookupQuality(in.Quality)
		if err != nil {
			return nil, unknownChoice(err)
		}
		prefs.Quality = &q.Name
	}
	if prefs.Empty() {
		return nil, &ValidationError{Reason: "Nothing to update."}
	}

	if _, err := s.Account(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.users.SetPreferences(ctx, userID, prefs); err != nil {
		return nil, &StoreError{Op: "set preferences", Err: err}
	}
	return &prefs, nil
}

// SetPremium returns repository.ErrUserNotFound for users that never interacted.
func (s *UserService) SetPremium(ctx context.Context, userID string, premium bool) (*models.UserAccount, error) {
	user, err := s.Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, repository.ErrUserNotFound
	}
	if err := s.users.SetPremium(ctx, userID, premium); err != nil {
		return nil, &StoreError{Op: "set premium", Err: err}
	}
	user.IsPremium = premium
	return user, nil
}

func (s *UserService) History(ctx context.Context, userID string, limit int) ([]models.GenerationRecord, error) {
	list, err := s.generations.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, &StoreError{Op: "list generations", Err: err}
	}
	return list, nil
}

// unknownChoice turns a catalog miss into a ValidationError listing close
// matches, or the whole catalog when nothing matches.
func unknownChoice(err error) error {
	var unknown *catalog.UnknownError
	if !errors.As(err, &unknown) {
		return err
	}
	suggestions := catalog.Suggest(unknown.Kind, unknown.Name)
	if len(suggestions) == 0 {
		suggestions = catalog.Suggest(unknown.Kind, "")
	}
	return &ValidationError{
		Reason:      fmt.Sprintf("Unknown %s %q.", unknown.Kind, unknown.Name),
		Suggestions: suggestions,
	}
}
