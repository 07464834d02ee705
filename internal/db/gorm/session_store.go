package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/thebtf/momentum/pkg/models"
)

// SessionStore persists scored drill sessions.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a new drill session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

// GetSession returns the session with the given ID, or nil if none exists.
func (s *SessionStore) GetSession(ctx context.Context, tx *gorm.DB, sessionID string) (*models.DrillSession, error) {
	var row DrillSession
	err := s.store.conn(ctx, tx).Where("session_id = ?", sessionID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return toModelSession(&row), nil
}

// CountPlays returns how many sessions the user recorded for the artifact on day.
func (s *SessionStore) CountPlays(ctx context.Context, tx *gorm.DB, userID, artifactID, day string) (int, error) {
	var count int64
	err := s.store.conn(ctx, tx).
		Model(&DrillSession{}).
		Where("user_id = ? AND artifact_id = ? AND day = ?", userID, artifactID, day).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count plays: %w", err)
	}
	return int(count), nil
}

// SumAwarded returns the total momentum awarded to the user on day.
func (s *SessionStore) SumAwarded(ctx context.Context, tx *gorm.DB, userID, day string) (int, error) {
	var total sql.NullInt64
	err := s.store.conn(ctx, tx).
		Model(&DrillSession{}).
		Select("SUM(momentum_awarded)").
		Where("user_id = ? AND day = ?", userID, day).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum awarded: %w", err)
	}
	return int(total.Int64), nil
}

// HasPlayed reports whether the user has any session for the artifact.
func (s *SessionStore) HasPlayed(ctx context.Context, tx *gorm.DB, userID, artifactID string) (bool, error) {
	var count int64
	err := s.store.conn(ctx, tx).
		Model(&DrillSession{}).
		Where("user_id = ? AND artifact_id = ?", userID, artifactID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check plays: %w", err)
	}
	return count > 0, nil
}

// InsertSession writes a new session row. A clash on the session ID or on
// (user, artifact, day, play number) is returned as a duplicate-key error;
// see IsDuplicateKey.
func (s *SessionStore) InsertSession(ctx context.Context, tx *gorm.DB, sess *models.DrillSession) error {
	row := fromModelSession(sess)
	if err := s.store.conn(ctx, tx).Create(row).Error; err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	sess.CreatedAt = epochTime(row.CreatedAtEpoch)
	return nil
}

// ListSessions returns the user's sessions for day, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, userID, day string) ([]*models.DrillSession, error) {
	var rows []DrillSession
	err := s.store.DB.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		Order("created_at_epoch DESC, play_number DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]*models.DrillSession, 0, len(rows))
	for i := range rows {
		out = append(out, toModelSession(&rows[i]))
	}
	return out, nil
}

func fromModelSession(sess *models.DrillSession) *DrillSession {
	row := &DrillSession{
		SessionID:        sess.SessionID,
		UserID:           sess.UserID,
		ArtifactID:       sess.ArtifactID,
		Day:              sess.Day,
		PlayNumber:       sess.PlayNumber,
		SourceKind:       string(sess.Source.Kind),
		ScenarioIDs:      models.JSONStringArray(sess.ScenarioIDs),
		Answers:          models.JSONIntArray(sess.Answers),
		Score:            sess.Score,
		MomentumAwarded:  sess.MomentumAwarded,
		IsFirstPlay:      sess.IsFirstPlay,
		PreviousMomentum: sess.PreviousMomentum,
		NewMomentum:      sess.NewMomentum,
	}
	if row.SourceKind == "" {
		row.SourceKind = string(models.SourcePersisted)
	}
	if sess.Source.CatalogKey != "" {
		row.CatalogKey = sql.NullString{String: sess.Source.CatalogKey, Valid: true}
	}
	if sess.Milestone != nil {
		row.Milestone = sql.NullInt64{Int64: int64(*sess.Milestone), Valid: true}
	}
	if sess.NoMomentumReason != nil {
		row.NoMomentumReason = sql.NullString{String: string(*sess.NoMomentumReason), Valid: true}
	}
	if !sess.CreatedAt.IsZero() {
		row.CreatedAtEpoch = sess.CreatedAt.UnixMilli()
	}
	return row
}

func toModelSession(row *DrillSession) *models.DrillSession {
	sess := &models.DrillSession{
		SessionID:        row.SessionID,
		UserID:           row.UserID,
		ArtifactID:       row.ArtifactID,
		Day:              row.Day,
		PlayNumber:       row.PlayNumber,
		Source:           models.ScenarioSource{Kind: models.ScenarioSourceKind(row.SourceKind), CatalogKey: row.CatalogKey.String},
		ScenarioIDs:      []string(row.ScenarioIDs),
		Answers:          []int(row.Answers),
		Score:            row.Score,
		MomentumAwarded:  row.MomentumAwarded,
		IsFirstPlay:      row.IsFirstPlay,
		PreviousMomentum: row.PreviousMomentum,
		NewMomentum:      row.NewMomentum,
		CreatedAt:        epochTime(row.CreatedAtEpoch),
	}
	if sess.ScenarioIDs == nil {
		sess.ScenarioIDs = []string{}
	}
	if row.Milestone.Valid {
		m := int(row.Milestone.Int64)
		sess.Milestone = &m
	}
	if row.NoMomentumReason.Valid {
		sess.NoMomentumReason = models.ReasonPtr(models.NoMomentumReason(row.NoMomentumReason.String))
	}
	return sess
}
