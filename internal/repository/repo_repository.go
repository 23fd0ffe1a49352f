package repository

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/oscourse/repo-provisioner/internal/models"
)

type RepoRepository interface {
	// Upsert создаёт строку репозитория или, если пара (user_id, assignment_id)
	// уже существует, сбрасывает её статус обратно в IN_PROGRESS.
	Upsert(ctx context.Context, userID, assignmentID int64, repoName string) (*models.Repository, error)
	UpdateStatus(ctx context.Context, id int64, status models.RepoStatus) error
	GetByID(ctx context.Context, id int64) (*models.Repository, error)
	GetByUser(ctx context.Context, userID int64) ([]models.Repository, error)
	// GetByNameAndOwner ищет репозиторий по натуральному ключу
	// (repo_name, assignment.owner) для обработки вебхуков.
	GetByNameAndOwner(ctx context.Context, repoName, owner string) (*models.RepositoryWithAssignment, error)
}

type repoRepository struct {
	*PostgresRepository
}

func NewRepoRepository(db *sql.DB, logger zerolog.Logger) RepoRepository {
	return &repoRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *repoRepository) Upsert(ctx context.Context, userID, assignmentID int64, repoName string) (*models.Repository, error) {
	query := `
		INSERT INTO repositories (user_id, assignment_id, repo_name, status)
		VALUES ($1, $2, $3, 'IN_PROGRESS')
		ON CONFLICT (user_id, assignment_id)
		DO UPDATE SET status = 'IN_PROGRESS'
		RETURNING id, user_id, assignment_id, repo_name, status
	`

	repo := &models.Repository{}
	err := r.db.QueryRowContext(ctx, query, userID, assignmentID, repoName).Scan(
		&repo.ID,
		&repo.UserID,
		&repo.AssignmentID,
		&repo.RepoName,
		&repo.Status,
	)

	return repo, err
}

func (r *repoRepository) UpdateStatus(ctx context.Context, id int64, status models.RepoStatus) error {
	query := `UPDATE repositories SET status = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status.String(), id)
	return err
}

func (r *repoRepository) GetByID(ctx context.Context, id int64) (*models.Repository, error) {
	query := `
		SELECT id, user_id, assignment_id, repo_name, status
		FROM repositories
		WHERE id = $1
	`

	repo := &models.Repository{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&repo.ID,
		&repo.UserID,
		&repo.AssignmentID,
		&repo.RepoName,
		&repo.Status,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return repo, err
}

func (r *repoRepository) GetByUser(ctx context.Context, userID int64) ([]models.Repository, error) {
	query := `
		SELECT id, user_id, assignment_id, repo_name, status
		FROM repositories
		WHERE user_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []models.Repository
	for rows.Next() {
		var repo models.Repository
		err := rows.Scan(
			&repo.ID,
			&repo.UserID,
			&repo.AssignmentID,
			&repo.RepoName,
			&repo.Status,
		)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}

	return repos, rows.Err()
}

func (r *repoRepository) GetByNameAndOwner(ctx context.Context, repoName, owner string) (*models.RepositoryWithAssignment, error) {
	query := `
		SELECT
			r.id, r.user_id, r.assignment_id, r.repo_name, r.status,
			a.id, a.owner, a.repo, a.name, a.ord, a.lock_after_accept
		FROM repositories r
		JOIN assignments a ON a.id = r.assignment_id
		WHERE r.repo_name = $1 AND a.owner = $2
	`

	row := &models.RepositoryWithAssignment{}
	err := r.db.QueryRowContext(ctx, query, repoName, owner).Scan(
		&row.ID,
		&row.UserID,
		&row.AssignmentID,
		&row.RepoName,
		&row.Status,
		&row.Assignment.ID,
		&row.Assignment.Owner,
		&row.Assignment.Repo,
		&row.Assignment.Name,
		&row.Assignment.Order,
		&row.Assignment.LockAfterAccept,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return row, err
}
