package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/oscourse/repo-provisioner/internal/config"
)

// GitHubClient - типизированная обёртка над REST API GitHub.
// Все вызовы идут с ботовским токеном, кроме тех, куда явно
// передаётся пользовательский.
type GitHubClient interface {
	GetLogin(ctx context.Context, userToken string) (string, error)
	CreateRepository(ctx context.Context, owner, name string) (CreateRepoResult, error)
	GrantTeamPermission(ctx context.Context, owner, repo, team, role string) error
	AddCollaborator(ctx context.Context, owner, repo, login, permission string) (*Invitation, error)
	AcceptInvitation(ctx context.Context, userToken string, invitationID int64) error
	ProtectBranch(ctx context.Context, owner, repo, branch string) error
	UserInTeam(ctx context.Context, org, team, username string) (bool, error)
	ClosePullRequest(ctx context.Context, owner, repo string, number int) error
	VerifySignature(body []byte, signatureHeader string) bool
}

// CreateRepoResult - исход создания репозитория. "Уже существует" -
// полноценный вариант, а не ошибка: оркестратор просто переиспользует
// репозиторий и позже перезапишет его force push-ем.
type CreateRepoResult int

const (
	RepoCreated CreateRepoResult = iota
	RepoAlreadyExists
)

// Invitation - приглашение коллаборатора; nil означает, что доступ
// уже был и приглашение не создавалось.
type Invitation struct {
	ID int64
}

const (
	repoExistsMessage        = "name already exists on this account"
	accountRestrictedMessage = "User could not be added"
	signaturePrefix          = "sha256="

	defaultMaxRetries = 3
	defaultRetryDelay = 300 * time.Millisecond
)

type gitHubClient struct {
	api           *github.Client
	baseURL       *url.URL
	webhookSecret string
	team          string
	maxRetries    int
	retryDelay    time.Duration
	logger        zerolog.Logger
}

type GitHubOption func(*gitHubClient)

// WithRetryDelay переопределяет единицу линейной паузы между повторами
// AddCollaborator (в тестах).
func WithRetryDelay(d time.Duration) GitHubOption {
	return func(c *gitHubClient) {
		c.retryDelay = d
	}
}

func NewGitHubClient(cfg config.GitHubConfig, logger zerolog.Logger, opts ...GitHubOption) (GitHubClient, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid github base url: %w", err)
	}
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BotToken})
	tc := oauth2.NewClient(context.Background(), ts)

	api := github.NewClient(tc)
	api.BaseURL = baseURL

	client := &gitHubClient{
		api:           api,
		baseURL:       baseURL,
		webhookSecret: cfg.WebhookSecret,
		team:          cfg.Team,
		maxRetries:    defaultMaxRetries,
		retryDelay:    defaultRetryDelay,
		logger:        logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// userClient строит клиент с пользовательским токеном поверх того же базового URL.
func (c *gitHubClient) userClient(token string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)

	api := github.NewClient(tc)
	api.BaseURL = c.baseURL

	return api
}

func (c *gitHubClient) GetLogin(ctx context.Context, userToken string) (string, error) {
	user, _, err := c.userClient(userToken).Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("failed to get user login: %w", err)
	}
	return user.GetLogin(), nil
}

func (c *gitHubClient) CreateRepository(ctx context.Context, owner, name string) (CreateRepoResult, error) {
	repo := &github.Repository{
		Name:         github.String(name),
		Private:      github.Bool(true),
		HasIssues:    github.Bool(false),
		HasWiki:      github.Bool(false),
		HasDownloads: github.Bool(false),
	}

	_, _, err := c.api.Repositories.Create(ctx, owner, repo)
	if err != nil {
		if hasErrorMessage(err, http.StatusUnprocessableEntity, repoExistsMessage) {
			c.logger.Debug().
				Str("owner", owner).
				Str("repo", name).
				Msg("Repository already exists, will be reused")
			return RepoAlreadyExists, nil
		}
		return 0, fmt.Errorf("failed to create repository %s/%s: %w", owner, name, err)
	}

	return RepoCreated, nil
}

func (c *gitHubClient) GrantTeamPermission(ctx context.Context, owner, repo, team, role string) error {
	opts := &github.TeamAddTeamRepoOptions{Permission: role}

	_, err := c.api.Teams.AddTeamRepoBySlug(ctx, owner, team, owner, repo, opts)
	if err != nil {
		return fmt.Errorf("failed to grant team %s permission on %s/%s: %w", team, owner, repo, err)
	}

	return nil
}

func (c *gitHubClient) AddCollaborator(ctx context.Context, owner, repo, login, permission string) (*Invitation, error) {
	opts := &github.RepositoryAddCollaboratorOptions{Permission: permission}

	var (
		invitation *github.CollaboratorInvitation
		err        error
	)

	// Сразу после создания репозитория GitHub может отдавать 404, пока
	// внутреннее состояние не разъедется. Повторяем с линейной паузой
	// 0s, 0.3s, 0.6s, затем отдаём исходную ошибку.
	for attempt := 0; ; attempt++ {
		invitation, _, err = c.api.Repositories.AddCollaborator(ctx, owner, repo, login, opts)
		if !hasStatus(err, http.StatusNotFound) {
			break
		}
		if attempt == c.maxRetries {
			break
		}

		c.logger.Warn().
			Str("repo", owner+"/"+repo).
			Str("login", login).
			Int("attempt", attempt+1).
			Msg("Collaborator add returned 404, retrying")

		if err := sleepCtx(ctx, time.Duration(attempt)*c.retryDelay); err != nil {
			return nil, err
		}
	}

	if err != nil {
		if hasErrorMessage(err, http.StatusUnprocessableEntity, accountRestrictedMessage) {
			return nil, &AccountRestrictedError{Login: login, Err: err}
		}
		return nil, fmt.Errorf("failed to add collaborator %s to %s/%s: %w", login, owner, repo, err)
	}

	if invitation == nil {
		// 204: доступ уже есть, приглашение не создавалось
		return nil, nil
	}

	return &Invitation{ID: invitation.GetID()}, nil
}

func (c *gitHubClient) AcceptInvitation(ctx context.Context, userToken string, invitationID int64) error {
	_, err := c.userClient(userToken).Users.AcceptInvitation(ctx, invitationID)
	if err != nil {
		return fmt.Errorf("failed to accept invitation %d: %w", invitationID, err)
	}
	return nil
}

func (c *gitHubClient) ProtectBranch(ctx context.Context, owner, repo, branch string) error {
	preq := &github.ProtectionRequest{
		RequiredPullRequestReviews: &github.PullRequestReviewsEnforcementRequest{
			RequiredApprovingReviewCount: 1,
		},
		RequiredStatusChecks: nil,
		EnforceAdmins:        false,
		Restrictions: &github.BranchRestrictionsRequest{
			Users: []string{},
			Teams: []string{c.team},
		},
	}

	_, _, err := c.api.Repositories.UpdateBranchProtection(ctx, owner, repo, branch, preq)
	if err != nil {
		return fmt.Errorf("failed to protect branch %s on %s/%s: %w", branch, owner, repo, err)
	}

	return nil
}

func (c *gitHubClient) UserInTeam(ctx context.Context, org, team, username string) (bool, error) {
	membership, _, err := c.api.Teams.GetTeamMembershipBySlug(ctx, org, team, username)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check team membership of %s: %w", username, err)
	}

	return membership.GetState() == "active", nil
}

func (c *gitHubClient) ClosePullRequest(ctx context.Context, owner, repo string, number int) error {
	pull := &github.PullRequest{State: github.String("closed")}

	_, _, err := c.api.PullRequests.Edit(ctx, owner, repo, number, pull)
	if err != nil {
		return fmt.Errorf("failed to close pull request %s/%s#%d: %w", owner, repo, number, err)
	}

	return nil
}

// VerifySignature сверяет HMAC-SHA256 от тела запроса с заголовком
// X-Hub-Signature-256. Отсутствующий или кривой заголовок - просто false.
func (c *gitHubClient) VerifySignature(body []byte, signatureHeader string) bool {
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signatureHeader[len(signaturePrefix):]))
}

// sleepCtx - пауза, прерываемая отменой контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
