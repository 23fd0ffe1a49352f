package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/oscourse/repo-provisioner/internal/models"
	"github.com/oscourse/repo-provisioner/internal/repository"
)

type AssignmentService interface {
	CreateAssignment(ctx context.Context, req *models.CreateAssignmentRequest) (*models.Assignment, error)
	GetAssignmentByID(ctx context.Context, id int64) (*models.Assignment, error)
	// ListForUser возвращает все задания вместе с репозиторием
	// пользователя, если задание ему уже выдавалось.
	ListForUser(ctx context.Context, userID int64) ([]models.AssignmentWithRepo, error)
}

type assignmentService struct {
	assignmentRepo repository.AssignmentRepository
	repoRepo       repository.RepoRepository
	logger         zerolog.Logger
}

func NewAssignmentService(
	assignmentRepo repository.AssignmentRepository,
	repoRepo repository.RepoRepository,
	logger zerolog.Logger,
) AssignmentService {
	return &assignmentService{
		assignmentRepo: assignmentRepo,
		repoRepo:       repoRepo,
		logger:         logger,
	}
}

func (s *assignmentService) CreateAssignment(ctx context.Context, req *models.CreateAssignmentRequest) (*models.Assignment, error) {
	if req.Owner == "" || req.Repo == "" || req.Name == "" {
		return nil, errors.New("owner, repo and name are required")
	}

	assignment := &models.Assignment{
		Owner:           req.Owner,
		Repo:            req.Repo,
		Name:            req.Name,
		Order:           req.Order,
		LockAfterAccept: req.LockAfterAccept,
	}

	if err := s.assignmentRepo.Create(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	s.logger.Info().
		Int64("assignment_id", assignment.ID).
		Str("template", assignment.Owner+"/"+assignment.Repo).
		Msg("Assignment created")

	return assignment, nil
}

func (s *assignmentService) GetAssignmentByID(ctx context.Context, id int64) (*models.Assignment, error) {
	return s.assignmentRepo.GetByID(ctx, id)
}

func (s *assignmentService) ListForUser(ctx context.Context, userID int64) ([]models.AssignmentWithRepo, error) {
	assignments, err := s.assignmentRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	repos, err := s.repoRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	byAssignment := make(map[int64]*models.Repository, len(repos))
	for i := range repos {
		byAssignment[repos[i].AssignmentID] = &repos[i]
	}

	result := make([]models.AssignmentWithRepo, 0, len(assignments))
	for _, assignment := range assignments {
		result = append(result, models.AssignmentWithRepo{
			Assignment: assignment,
			Repository: byAssignment[assignment.ID],
		})
	}

	return result, nil
}
