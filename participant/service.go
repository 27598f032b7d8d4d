// Package participant manages accounts: registration, credentials,
// profiles, username search and account deletion.
package participant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/kasuganosora/moodring/server/social"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 50
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrUsernameTaken  = fmt.Errorf("%w: username already taken", social.ErrConflict)
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]{3,32}$`)

// ValidUsername reports whether s can be used as a username.
func ValidUsername(s string) bool { return usernamePattern.MatchString(s) }

// RegisterValidation adds the "username" tag to v.
func RegisterValidation(v *validator.Validate) error {
	return v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return ValidUsername(fl.Field().String())
	})
}

// Detacher removes an account's follow edges and requests.
type Detacher interface {
	Detach(ctx context.Context, username string) error
}

type Service struct {
	db         *gorm.DB
	graph      Detacher
	logger     *zap.Logger
	bcryptCost int
}

// NewService creates the account service. bcryptCost <= 0 selects
// bcrypt.DefaultCost.
func NewService(db *gorm.DB, graph Detacher, bcryptCost int, logger *zap.Logger) *Service {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{db: db, graph: graph, logger: logger, bcryptCost: bcryptCost}
}

// Registration is the data needed to open an account.
type Registration struct {
	Username  string
	Password  string
	Email     string
	FirstName string
	LastName  string
}

// Register creates an account. A taken username is a conflict.
func (s *Service) Register(ctx context.Context, r Registration) (*model.Participant, error) {
	if !ValidUsername(r.Username) {
		return nil, fmt.Errorf("%w: username must be 3-32 letters, digits, '_' or '.'", ErrInvalidInput)
	}
	if len(r.Password) < 6 || len(r.Password) > 72 {
		return nil, fmt.Errorf("%w: password must be 6-72 bytes", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}
	p := &model.Participant{
		Username:     r.Username,
		PasswordHash: string(hash),
		Email:        strings.TrimSpace(r.Email),
		FirstName:    strings.TrimSpace(r.FirstName),
		LastName:     strings.TrimSpace(r.LastName),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return nil, social.StoreErr("register", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrUsernameTaken
	}
	s.logger.Info("participant registered", zap.String("username", p.Username))
	return p, nil
}

// Authenticate checks a username/password pair.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.Participant, error) {
	p, err := s.Get(ctx, username)
	if errors.Is(err, social.ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, username string) (*model.Participant, error) {
	var p model.Participant
	if err := s.db.WithContext(ctx).Where("username = ?", username).Take(&p).Error; err != nil {
		return nil, social.StoreErr("get participant", err)
	}
	return &p, nil
}

// Profile holds the editable profile fields. Nil fields are left as is.
type Profile struct {
	Email          *string `json:"email"`
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	ProfilePicture *string `json:"profile_picture"`
}

// UpdateProfile applies the set fields of pr to username's profile.
func (s *Service) UpdateProfile(ctx context.Context, username string, pr Profile) (*model.Participant, error) {
	updates := map[string]any{}
	if pr.Email != nil {
		updates["email"] = strings.TrimSpace(*pr.Email)
	}
	if pr.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*pr.FirstName)
	}
	if pr.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*pr.LastName)
	}
	if pr.ProfilePicture != nil {
		updates["profile_picture"] = *pr.ProfilePicture
	}
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&model.Participant{}).
			Where("username = ?", username).
			Updates(updates)
		if res.Error != nil {
			return nil, social.StoreErr("update profile", res.Error)
		}
	}
	return s.Get(ctx, username)
}

// Search returns up to limit participants whose username starts with
// prefix, excluding exclude (normally the caller), ordered by username.
func (s *Service) Search(ctx context.Context, prefix, exclude string, limit int) ([]model.Participant, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, fmt.Errorf("%w: search prefix is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	var out []model.Participant
	err := s.db.WithContext(ctx).
		Where("username LIKE ? ESCAPE '!'", escapeLike(prefix)+"%").
		Where("username <> ?", exclude).
		Order("username").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, social.StoreErr("search participants", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// Delete removes an account. Its edges and requests go first so the other
// side's counters stay correct; then its comments, events and the
// participant row are removed together.
func (s *Service) Delete(ctx context.Context, username string) error {
	if _, err := s.Get(ctx, username); err != nil {
		return err
	}
	if err := s.graph.Detach(ctx, username); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events := tx.Model(&model.MoodEvent{}).Select("id").Where("author = ?", username)
		if err := tx.Where("author = ? OR event_id IN (?)", username, events).
			Delete(&model.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("author = ?", username).Delete(&model.MoodEvent{}).Error; err != nil {
			return err
		}
		return tx.Where("username = ?", username).Delete(&model.Participant{}).Error
	})
	if err != nil {
		return social.StoreErr("delete participant", err)
	}
	s.logger.Info("participant deleted", zap.String("username", username))
	return nil
}
