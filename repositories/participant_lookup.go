package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Dosada05/palanteer/models"
)

var ErrParticipantNotFound = errors.New("participant not found")

// ParticipantRepository reads the users table owned by the surrounding platform.
type ParticipantRepository interface {
	GetByID(ctx context.Context, id int) (*models.Participant, error)
}

type postgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) ParticipantRepository {
	return &postgresParticipantRepository{db: db}
}

func (r *postgresParticipantRepository) GetByID(ctx context.Context, id int) (*models.Participant, error) {
	var p models.Participant
	err := r.db.QueryRowContext(ctx, `SELECT id, display_name FROM users WHERE id = $1`, id).Scan(&p.ID, &p.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}
