package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oscourse/repo-provisioner/internal/config"
	"github.com/oscourse/repo-provisioner/internal/models"
	"github.com/oscourse/repo-provisioner/internal/repository"
	"github.com/oscourse/repo-provisioner/internal/service/integration"
)

var ErrAssignmentNotFound = errors.New("assignment not found")

// ProvisionService - оркестратор выдачи задания: синхронная часть
// (создание репозитория, права, приглашение, запись в БД) и фоновая
// достройка (ведомость, зеркалирование, защита ветки, итоговый статус).
type ProvisionService interface {
	IssueAssignment(ctx context.Context, assignmentID, userID int64, userToken string) (*models.Repository, error)
	// Wait дожидается всех запущенных фоновых достроек (graceful shutdown).
	Wait()
}

const finalizeTimeout = 5 * time.Minute

type provisionService struct {
	assignmentRepo repository.AssignmentRepository
	repoRepo       repository.RepoRepository
	github         integration.GitHubClient
	mirror         integration.GitMirror
	sheet          integration.GradeSheet
	team           string
	defaultBranch  string
	logger         zerolog.Logger
	wg             sync.WaitGroup
}

func NewProvisionService(
	cfg config.GitHubConfig,
	assignmentRepo repository.AssignmentRepository,
	repoRepo repository.RepoRepository,
	github integration.GitHubClient,
	mirror integration.GitMirror,
	sheet integration.GradeSheet,
	logger zerolog.Logger,
) ProvisionService {
	return &provisionService{
		assignmentRepo: assignmentRepo,
		repoRepo:       repoRepo,
		github:         github,
		mirror:         mirror,
		sheet:          sheet,
		team:           cfg.Team,
		defaultBranch:  cfg.DefaultBranch,
		logger:         logger,
	}
}

// RepoName детерминированно выводит имя репозитория студента из
// шаблона задания и идентификатора пользователя; стабильно при перевыдаче.
func RepoName(assignment *models.Assignment, userID int64) string {
	return fmt.Sprintf("%s-%d", assignment.Repo, userID)
}

func (s *provisionService) IssueAssignment(ctx context.Context, assignmentID, userID int64, userToken string) (*models.Repository, error) {
	assignment, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}

	login, err := s.github.GetLogin(ctx, userToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve github login: %w", err)
	}

	repoName := RepoName(assignment, userID)

	result, err := s.github.CreateRepository(ctx, assignment.Owner, repoName)
	if err != nil {
		return nil, err
	}
	if result == integration.RepoAlreadyExists {
		// Репозиторий остался с прошлой выдачи: переиспользуем,
		// содержимое перезапишет фоновый force push.
		s.logger.Info().
			Str("repo", assignment.Owner+"/"+repoName).
			Msg("Reusing existing repository")
	}

	if err := s.github.GrantTeamPermission(ctx, assignment.Owner, repoName, s.team, "maintain"); err != nil {
		return nil, err
	}

	// При ограниченном аккаунте прерываем весь процесс; репозиторий и
	// командные права намеренно не откатываются - они идемпотентны и
	// пригодятся при повторной попытке.
	invitation, err := s.github.AddCollaborator(ctx, assignment.Owner, repoName, login, "push")
	if err != nil {
		return nil, err
	}

	if invitation != nil {
		if err := s.github.AcceptInvitation(ctx, userToken, invitation.ID); err != nil {
			return nil, err
		}
	}

	repo, err := s.repoRepo.Upsert(ctx, userID, assignmentID, repoName)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert repository record: %w", err)
	}

	s.logger.Info().
		Int64("user_id", userID).
		Int64("assignment_id", assignmentID).
		Str("repo", repoName).
		Msg("Assignment issued, scheduling background finalization")

	// Достройка выполняется после ответа клиенту и получает только
	// идентификаторы и снимки сущностей, а не живые хэндлы запроса.
	s.wg.Add(1)
	go s.finalize(*assignment, *repo)

	return repo, nil
}

func (s *provisionService) Wait() {
	s.wg.Wait()
}

// finalize - фоновая часть выдачи. Ошибки отсюда никогда не доходят до
// вызывающего: они логируются и превращаются в статус FAILED.
func (s *provisionService) finalize(assignment models.Assignment, repo models.Repository) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := s.runFinalize(ctx, assignment, repo); err != nil {
		s.logger.Error().
			Err(err).
			Int64("repository_id", repo.ID).
			Str("repo", repo.RepoName).
			Msg("Failed to finalize repository")

		if err := s.repoRepo.UpdateStatus(ctx, repo.ID, models.RepoStatusFailed); err != nil {
			s.logger.Error().Err(err).Int64("repository_id", repo.ID).Msg("Failed to mark repository as failed")
		}
		return
	}

	if err := s.repoRepo.UpdateStatus(ctx, repo.ID, models.RepoStatusFinished); err != nil {
		s.logger.Error().Err(err).Int64("repository_id", repo.ID).Msg("Failed to mark repository as finished")
	}
}

func (s *provisionService) runFinalize(ctx context.Context, assignment models.Assignment, repo models.Repository) error {
	if err := s.sheet.RecordRepoLink(ctx, repo.UserID, assignment, repo.RepoName); err != nil {
		return err
	}

	if err := s.mirror.Mirror(ctx, assignment.Owner, assignment.Repo, repo.RepoName); err != nil {
		return err
	}

	// Ветка защищается после зеркалирования: иначе защита может
	// отклонить сам force push шаблона.
	return s.github.ProtectBranch(ctx, assignment.Owner, repo.RepoName, s.defaultBranch)
}
