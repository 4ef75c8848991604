package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salesflow/internal/funnel"
	"salesflow/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionInterface interface {
	GetOrCreateForUpdate(ctx context.Context, userKey, brand string) (*model.Session, error)
	GetByUserKey(ctx context.Context, userKey string) (*model.Session, error)
	Save(ctx context.Context, s *model.Session) error
	WithTx(tx *gorm.DB) SessionInterface
}

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// GetOrCreateForUpdate returns the session for userKey, inserting a fresh
// one at ask_grade when missing. Inside a transaction the row stays locked
// until commit on dialects with row locks.
func (r *SessionRepository) GetOrCreateForUpdate(ctx context.Context, userKey, brand string) (*model.Session, error) {
	now := time.Now().UTC()
	fresh := model.Session{
		UserKey:     userKey,
		FunnelState: funnel.AskGrade.String(),
		Brand:       brand,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_key"}}, DoNothing: true}).
		Create(&fresh).Error
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	q := r.db.WithContext(ctx)
	if supportsRowLocks(q) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var s model.Session
	if err := q.Where("user_key = ?", userKey).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) GetByUserKey(ctx context.Context, userKey string) (*model.Session, error) {
	var s model.Session
	if err := r.db.WithContext(ctx).Where("user_key = ?", userKey).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) Save(ctx context.Context, s *model.Session) error {
	s.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *SessionRepository) WithTx(tx *gorm.DB) SessionInterface {
	return &SessionRepository{db: tx}
}

// ToFunnel validates a stored row and converts it to the typed session.
// Invalid fields are dropped and reported in the returned error; the
// session is still usable.
func ToFunnel(row *model.Session) (funnel.Session, error) {
	var errs []error

	state, err := funnel.ParseState(row.FunnelState)
	if err != nil {
		errs = append(errs, err)
	}

	c := funnel.Criteria{Brand: row.Brand}
	if row.Grade != nil {
		if *row.Grade >= 1 && *row.Grade <= 11 {
			c.Grade = *row.Grade
		} else {
			errs = append(errs, fmt.Errorf("grade %d out of range", *row.Grade))
		}
	}
	if row.Goal != nil {
		if g, ok := funnel.ParseGoal(*row.Goal); ok {
			c.Goal = g
		} else {
			errs = append(errs, fmt.Errorf("unknown goal %q", *row.Goal))
		}
	}
	if row.Subject != nil {
		if sub, ok := funnel.ParseSubject(*row.Subject); ok && sub != funnel.SubjectAny {
			c.Subject = sub
		} else {
			errs = append(errs, fmt.Errorf("unknown subject %q", *row.Subject))
		}
	}
	if row.Format != nil {
		if f, ok := funnel.ParseFormat(*row.Format); ok {
			c.Format = f
		} else {
			errs = append(errs, fmt.Errorf("unknown format %q", *row.Format))
		}
	}
	if row.Contact != nil {
		c.Contact = *row.Contact
	}

	s := funnel.Session{
		UserKey:  row.UserKey,
		State:    state,
		Criteria: c,
	}
	if row.LastSeenEventID != nil {
		s.LastSeenEventID = *row.LastSeenEventID
	}
	return s, errors.Join(errs...)
}

// ApplyFunnel writes the typed session back onto the row.
func ApplyFunnel(row *model.Session, s funnel.Session) {
	row.FunnelState = s.State.String()
	row.Brand = s.Criteria.Brand
	row.Grade = nil
	if s.Criteria.Grade != 0 {
		g := s.Criteria.Grade
		row.Grade = &g
	}
	row.Goal = optional(string(s.Criteria.Goal))
	row.Subject = optional(string(s.Criteria.Subject))
	row.Format = optional(string(s.Criteria.Format))
	row.Contact = optional(s.Criteria.Contact)
	row.LastSeenEventID = optional(s.LastSeenEventID)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
