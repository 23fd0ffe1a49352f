package service

import (
	"context"
	"sync"

	"github.com/oscourse/repo-provisioner/internal/models"
	"github.com/oscourse/repo-provisioner/internal/service/integration"
)

type fakeAssignmentRepo struct {
	assignment *models.Assignment
	err        error
}

func (f *fakeAssignmentRepo) Create(_ context.Context, assignment *models.Assignment) error {
	assignment.ID = 1
	return f.err
}

func (f *fakeAssignmentRepo) GetByID(_ context.Context, _ int64) (*models.Assignment, error) {
	return f.assignment, f.err
}

func (f *fakeAssignmentRepo) GetAll(_ context.Context) ([]models.Assignment, error) {
	if f.assignment == nil {
		return nil, f.err
	}
	return []models.Assignment{*f.assignment}, f.err
}

func (f *fakeAssignmentRepo) Exists(_ context.Context, _ int64) (bool, error) {
	return f.assignment != nil, f.err
}

type fakeRepoRepo struct {
	mu        sync.Mutex
	upserts   []string
	statuses  []models.RepoStatus
	upsertErr error
	statusErr error

	row       *models.RepositoryWithAssignment
	rowErr    error
	userRepos []models.Repository
}

func (f *fakeRepoRepo) Upsert(_ context.Context, userID, assignmentID int64, repoName string) (*models.Repository, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}

	f.mu.Lock()
	f.upserts = append(f.upserts, repoName)
	f.mu.Unlock()

	return &models.Repository{
		ID:           1,
		UserID:       userID,
		AssignmentID: assignmentID,
		RepoName:     repoName,
		Status:       models.RepoStatusInProgress.String(),
	}, nil
}

func (f *fakeRepoRepo) UpdateStatus(_ context.Context, _ int64, status models.RepoStatus) error {
	f.mu.Lock()
	f.statuses = append(f.statuses, status)
	f.mu.Unlock()
	return f.statusErr
}

func (f *fakeRepoRepo) GetByID(_ context.Context, _ int64) (*models.Repository, error) {
	return nil, nil
}

func (f *fakeRepoRepo) GetByUser(_ context.Context, _ int64) ([]models.Repository, error) {
	return f.userRepos, nil
}

func (f *fakeRepoRepo) GetByNameAndOwner(_ context.Context, _, _ string) (*models.RepositoryWithAssignment, error) {
	return f.row, f.rowErr
}

type fakeGitHub struct {
	login        string
	loginErr     error
	createResult integration.CreateRepoResult
	createErr    error
	grantErr     error
	invitation   *integration.Invitation
	addErr       error
	acceptErr    error
	protectErr   error
	inTeam       bool
	inTeamErr    error
	closeErr     error
	signatureOK  bool

	mu        sync.Mutex
	accepted  []int64
	protected []string
	closed    []int
}

func (f *fakeGitHub) GetLogin(_ context.Context, _ string) (string, error) {
	return f.login, f.loginErr
}

func (f *fakeGitHub) CreateRepository(_ context.Context, _, _ string) (integration.CreateRepoResult, error) {
	return f.createResult, f.createErr
}

func (f *fakeGitHub) GrantTeamPermission(_ context.Context, _, _, _, _ string) error {
	return f.grantErr
}

func (f *fakeGitHub) AddCollaborator(_ context.Context, _, _, _, _ string) (*integration.Invitation, error) {
	return f.invitation, f.addErr
}

func (f *fakeGitHub) AcceptInvitation(_ context.Context, _ string, invitationID int64) error {
	f.mu.Lock()
	f.accepted = append(f.accepted, invitationID)
	f.mu.Unlock()
	return f.acceptErr
}

func (f *fakeGitHub) ProtectBranch(_ context.Context, owner, repo, branch string) error {
	if f.protectErr != nil {
		return f.protectErr
	}
	f.mu.Lock()
	f.protected = append(f.protected, owner+"/"+repo+"@"+branch)
	f.mu.Unlock()
	return nil
}

func (f *fakeGitHub) UserInTeam(_ context.Context, _, _, _ string) (bool, error) {
	return f.inTeam, f.inTeamErr
}

func (f *fakeGitHub) ClosePullRequest(_ context.Context, _, _ string, number int) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.mu.Lock()
	f.closed = append(f.closed, number)
	f.mu.Unlock()
	return nil
}

func (f *fakeGitHub) VerifySignature(_ []byte, _ string) bool {
	return f.signatureOK
}

type mirrorCall struct {
	owner, source, target string
}

type fakeMirror struct {
	err error

	mu    sync.Mutex
	calls []mirrorCall
}

func (f *fakeMirror) Mirror(_ context.Context, owner, sourceRepo, targetRepo string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.calls = append(f.calls, mirrorCall{owner: owner, source: sourceRepo, target: targetRepo})
	f.mu.Unlock()
	return nil
}

type fakeSheet struct {
	linkErr     error
	bonusErr    error
	workflowErr error

	mu        sync.Mutex
	links     []string
	bonuses   []int
	workflows []string
}

func (f *fakeSheet) RecordRepoLink(_ context.Context, _ int64, _ models.Assignment, repoName string) error {
	if f.linkErr != nil {
		return f.linkErr
	}
	f.mu.Lock()
	f.links = append(f.links, repoName)
	f.mu.Unlock()
	return nil
}

func (f *fakeSheet) RecordBonus(_ context.Context, _ int64, _ models.Assignment, bonus int) error {
	if f.bonusErr != nil {
		return f.bonusErr
	}
	f.mu.Lock()
	f.bonuses = append(f.bonuses, bonus)
	f.mu.Unlock()
	return nil
}

func (f *fakeSheet) RecordWorkflowResult(_ context.Context, _ int64, _ models.Assignment, repoName string, prNumber int, success bool) error {
	if f.workflowErr != nil {
		return f.workflowErr
	}

	glyph := "fail"
	if success {
		glyph = "success"
	}

	f.mu.Lock()
	f.workflows = append(f.workflows, repoName, glyph)
	f.mu.Unlock()
	return nil
}
