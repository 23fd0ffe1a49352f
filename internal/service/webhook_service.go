package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/oscourse/repo-provisioner/internal/config"
	"github.com/oscourse/repo-provisioner/internal/models"
	"github.com/oscourse/repo-provisioner/internal/repository"
	"github.com/oscourse/repo-provisioner/internal/service/integration"
)

// Outcome - результат обработки вебхука. Любая ветка обработки
// завершается конкретным HTTP-ответом, наружу ничего не пробрасывается.
type Outcome struct {
	Status  int
	Message string
}

// WebhookService аутентифицирует и разбирает входящие события GitHub
// (ревью, завершение CI) и обновляет ведомость.
type WebhookService interface {
	Process(ctx context.Context, body []byte, signature, eventHeader string) Outcome
}

type webhookService struct {
	repoRepo repository.RepoRepository
	github   integration.GitHubClient
	sheet    integration.GradeSheet
	team     string
	logger   zerolog.Logger
}

func NewWebhookService(
	cfg config.GitHubConfig,
	repoRepo repository.RepoRepository,
	github integration.GitHubClient,
	sheet integration.GradeSheet,
	logger zerolog.Logger,
) WebhookService {
	return &webhookService{
		repoRepo: repoRepo,
		github:   github,
		sheet:    sheet,
		team:     cfg.Team,
		logger:   logger,
	}
}

func (s *webhookService) Process(ctx context.Context, body []byte, signature, eventHeader string) Outcome {
	// Подпись проверяется до любого разбора полезной нагрузки.
	if !s.github.VerifySignature(body, signature) {
		return Outcome{Status: http.StatusForbidden, Message: "invalid signature"}
	}

	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Repository.Name == "" || envelope.Repository.Owner.Login == "" {
		return Outcome{Status: http.StatusBadRequest, Message: "malformed payload"}
	}

	row, err := s.repoRepo.GetByNameAndOwner(ctx, envelope.Repository.Name, envelope.Repository.Owner.Login)
	if err != nil {
		s.logger.Error().Err(err).Str("repo", envelope.Repository.Name).Msg("Failed to look up repository")
		return Outcome{Status: http.StatusInternalServerError, Message: "internal error"}
	}
	if row == nil {
		// В организации живут и посторонние репозитории,
		// их события - не ошибка.
		return Outcome{Status: http.StatusOK, Message: "unknown repository"}
	}

	switch models.ParseEventKind(eventHeader) {
	case models.EventReview:
		return s.handleReview(ctx, body, row)
	case models.EventWorkflowRun:
		return s.handleWorkflowRun(ctx, body, row)
	default:
		return Outcome{Status: http.StatusOK, Message: "unknown event"}
	}
}

func (s *webhookService) handleReview(ctx context.Context, body []byte, row *models.RepositoryWithAssignment) Outcome {
	var event models.ReviewEvent
	if err := json.Unmarshal(body, &event); err != nil || !event.Valid() {
		return Outcome{Status: http.StatusBadRequest, Message: "malformed payload"}
	}

	reviewer := event.Review.User.Login

	inTeam, err := s.github.UserInTeam(ctx, row.Assignment.Owner, s.team, reviewer)
	if err != nil {
		s.logger.Error().Err(err).Str("reviewer", reviewer).Msg("Failed to check reviewer team membership")
		return Outcome{Status: http.StatusInternalServerError, Message: "internal error"}
	}
	if !inTeam {
		return Outcome{Status: http.StatusOK, Message: "unknown reviewer"}
	}

	if event.Review.State != "approved" {
		return Outcome{Status: http.StatusOK, Message: "no approval"}
	}

	// Комментарий ревью - бонусные баллы; нечисловой текст это ноль,
	// а не ошибка.
	bonus, err := strconv.Atoi(strings.TrimSpace(event.Review.Body))
	if err != nil {
		bonus = 0
	}

	if err := s.sheet.RecordBonus(ctx, row.UserID, row.Assignment, bonus); err != nil {
		s.logger.Error().Err(err).Int64("user_id", row.UserID).Msg("Failed to record bonus")
		return Outcome{Status: http.StatusInternalServerError, Message: "internal error"}
	}

	s.logger.Info().
		Str("repo", row.RepoName).
		Str("reviewer", reviewer).
		Int("bonus", bonus).
		Msg("Review approval recorded")

	if row.Assignment.LockAfterAccept {
		// Повторная доставка безопасна: закрытие уже закрытого PR и
		// повторная защита ветки ничего не ломают.
		if err := s.github.ClosePullRequest(ctx, row.Assignment.Owner, row.RepoName, event.PullRequest.Number); err != nil {
			s.logger.Error().Err(err).Int("pr", event.PullRequest.Number).Msg("Failed to close pull request")
			return Outcome{Status: http.StatusInternalServerError, Message: "internal error"}
		}
		if err := s.github.ProtectBranch(ctx, row.Assignment.Owner, row.RepoName, event.PullRequest.Head.Ref); err != nil {
			s.logger.Error().Err(err).Str("branch", event.PullRequest.Head.Ref).Msg("Failed to protect head branch")
			return Outcome{Status: http.StatusInternalServerError, Message: "internal error"}
		}
	}

	return Outcome{Status: http.StatusOK, Message: "OK"}
}

func (s *webhookService) handleWorkflowRun(ctx context.Context, body []byte, row *models.RepositoryWithAssignment) Outcome {
	var event models.WorkflowRunEvent
	if err := json.Unmarshal(body, &event); err != nil || !event.Valid() {
		return Outcome{Status: http.StatusBadRequest, Message: "malformed payload"}
	}

	if event.Action != "completed" || event.WorkflowRun.Event != "pull_request" {
		return Outcome{Status: http.StatusOK, Message: "not completed"}
	}

	prNumber := event.WorkflowRun.PullRequests[0].Number
	success := event.WorkflowRun.Conclusion == "success"

	if err := s.sheet.RecordWorkflowResult(ctx, row.UserID, row.Assignment, row.RepoName, prNumber, success); err != nil {
		s.logger.Error().Err(err).Int("pr", prNumber).Msg("Failed to record workflow result")
		return Outcome{Status: http.StatusInternalServerError, Message: "internal error"}
	}

	s.logger.Info().
		Str("repo", row.RepoName).
		Int("pr", prNumber).
		Str("conclusion", event.WorkflowRun.Conclusion).
		Msg("Workflow result recorded")

	return Outcome{Status: http.StatusOK, Message: "OK"}
}
