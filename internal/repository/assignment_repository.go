package repository

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/oscourse/repo-provisioner/internal/models"
)

type AssignmentRepository interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	GetByID(ctx context.Context, id int64) (*models.Assignment, error)
	GetAll(ctx context.Context) ([]models.Assignment, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

type assignmentRepository struct {
	*PostgresRepository
}

func NewAssignmentRepository(db *sql.DB, logger zerolog.Logger) AssignmentRepository {
	return &assignmentRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	query := `
		INSERT INTO assignments (owner, repo, name, ord, lock_after_accept)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, query,
		assignment.Owner,
		assignment.Repo,
		assignment.Name,
		assignment.Order,
		assignment.LockAfterAccept,
	).Scan(&assignment.ID)
}

func (r *assignmentRepository) GetByID(ctx context.Context, id int64) (*models.Assignment, error) {
	query := `
		SELECT id, owner, repo, name, ord, lock_after_accept
		FROM assignments
		WHERE id = $1
	`

	assignment := &models.Assignment{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&assignment.ID,
		&assignment.Owner,
		&assignment.Repo,
		&assignment.Name,
		&assignment.Order,
		&assignment.LockAfterAccept,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return assignment, err
}

func (r *assignmentRepository) GetAll(ctx context.Context) ([]models.Assignment, error) {
	query := `
		SELECT id, owner, repo, name, ord, lock_after_accept
		FROM assignments
		ORDER BY ord
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []models.Assignment
	for rows.Next() {
		var assignment models.Assignment
		err := rows.Scan(
			&assignment.ID,
			&assignment.Owner,
			&assignment.Repo,
			&assignment.Name,
			&assignment.Order,
			&assignment.LockAfterAccept,
		)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, assignment)
	}

	return assignments, rows.Err()
}

func (r *assignmentRepository) Exists(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM assignments WHERE id = $1)`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, id).Scan(&exists)
	return exists, err
}
