package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leozinhoszg/zerion/internal/persistence"
)

// Defaults for characters created on first connect.
const (
	DefaultCharacterName  = "Adventurer"
	DefaultCharacterClass = "novice"
)

// Character is a persisted player character.
type Character struct {
	ID     int64
	UserID int64
	Name   string
	Class  string
	Level  int
	Map    string
	X      int
	Y      int
	HP     int
	MP     int
}

// CharacterRepository manages characters in the database.
type CharacterRepository struct {
	db *pgxpool.Pool
}

// NewCharacterRepository creates a CharacterRepository.
func NewCharacterRepository(db *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{db: db}
}

const selectCharacter = `
	SELECT id, user_id, name, class, level, map, x, y, hp, mp
	FROM characters
	WHERE user_id = $1
`

// GetByUser returns the user's character or ErrNotFound.
func (r *CharacterRepository) GetByUser(ctx context.Context, userID int64) (Character, error) {
	var c Character
	err := r.db.QueryRow(ctx, selectCharacter, userID).Scan(
		&c.ID, &c.UserID, &c.Name, &c.Class, &c.Level, &c.Map, &c.X, &c.Y, &c.HP, &c.MP,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Character{}, ErrNotFound
	}
	if err != nil {
		return Character{}, fmt.Errorf("querying character of user %d: %w", userID, err)
	}
	return c, nil
}

// LookupOrCreate returns the user's character, creating a default one at
// (spawnX, spawnY) on first use.
func (r *CharacterRepository) LookupOrCreate(ctx context.Context, userID int64, spawnX, spawnY int) (Character, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO characters (user_id, name, class, x, y)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, DefaultCharacterName, DefaultCharacterClass, spawnX, spawnY)
	if err != nil {
		return Character{}, fmt.Errorf("creating character for user %d: %w", userID, err)
	}
	if tag.RowsAffected() > 0 {
		slog.Info("created default character", "userID", userID, "x", spawnX, "y", spawnY)
	}

	c, err := r.GetByUser(ctx, userID)
	if err != nil {
		return Character{}, err
	}

	if _, err := r.db.Exec(ctx, `UPDATE characters SET last_login_at = now() WHERE id = $1`, c.ID); err != nil {
		slog.Warn("updating last login", "characterID", c.ID, "error", err)
	}
	return c, nil
}

const updateState = `
	UPDATE characters
	SET x = $2, y = $3, hp = $4, mp = $5, updated_at = now()
	WHERE id = $1
`

// UpdateStateByID writes one character's position and vitals.
func (r *CharacterRepository) UpdateStateByID(ctx context.Context, id int64, st persistence.State) error {
	if _, err := r.db.Exec(ctx, updateState, id, st.X, st.Y, st.HP, st.MP); err != nil {
		return fmt.Errorf("updating state of character %d: %w", id, err)
	}
	return nil
}

// UpdateStates writes a batch of character states in one transaction.
// Rows are updated in id order.
func (r *CharacterRepository) UpdateStates(ctx context.Context, states map[int64]persistence.State) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for %d character states: %w", len(states), err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("rollback failed", "error", err)
		}
	}()

	ids := make([]int64, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	batch := &pgx.Batch{}
	for _, id := range ids {
		st := states[id]
		batch.Queue(updateState, id, st.X, st.Y, st.HP, st.MP)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("updating %d character states: %w", len(states), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit character states: %w", err)
	}
	return nil
}
