package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/oscourse/repo-provisioner/internal/config"
)

// GitMirror клонирует репозиторий-шаблон и заливает его содержимое
// force push-ем в свежесозданный репозиторий студента.
type GitMirror interface {
	Mirror(ctx context.Context, owner, sourceRepo, targetRepo string) error
}

// CloneError - ошибка любого из шагов зеркалирования (таймаут или
// ненулевой код выхода). Всегда терминальна для фоновой достройки.
type CloneError struct {
	Step     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CloneError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("git %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("git %s failed with code %d", e.Step, e.ExitCode)
}

func (e *CloneError) Unwrap() error {
	return e.Err
}

const defaultStepTimeout = 30 * time.Second

type gitMirror struct {
	token         string
	defaultBranch string
	stepTimeout   time.Duration
	gitPath       string
	tempRoot      string
	logger        zerolog.Logger
}

type MirrorOption func(*gitMirror)

// WithStepTimeout переопределяет предел ожидания clone/push (в тестах).
func WithStepTimeout(d time.Duration) MirrorOption {
	return func(m *gitMirror) {
		m.stepTimeout = d
	}
}

// WithTempRoot задаёт каталог для временных рабочих директорий.
func WithTempRoot(dir string) MirrorOption {
	return func(m *gitMirror) {
		m.tempRoot = dir
	}
}

func NewGitMirror(cfg config.GitHubConfig, logger zerolog.Logger, opts ...MirrorOption) GitMirror {
	gitPath, _ := exec.LookPath("git")

	m := &gitMirror{
		token:         cfg.BotToken,
		defaultBranch: cfg.DefaultBranch,
		stepTimeout:   cfg.CloneTimeout,
		gitPath:       gitPath,
		logger:        logger,
	}

	if m.stepTimeout <= 0 {
		m.stepTimeout = defaultStepTimeout
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *gitMirror) remoteURL(owner, repo string) string {
	return fmt.Sprintf("https://%s@github.com/%s/%s.git", m.token, owner, repo)
}

// Mirror выполняет clone -> remote set-url -> push -f в выделенной
// временной директории. Директория удаляется на любом исходе.
func (m *gitMirror) Mirror(ctx context.Context, owner, sourceRepo, targetRepo string) error {
	tempDir, err := os.MkdirTemp(m.tempRoot, "mirror-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	workDir := filepath.Join(tempDir, "repo")

	if err := m.runStep(ctx, "clone", tempDir, m.stepTimeout,
		"clone", m.remoteURL(owner, sourceRepo), "repo"); err != nil {
		return err
	}

	if err := m.runStep(ctx, "remote set-url", workDir, m.stepTimeout,
		"remote", "set-url", "origin", m.remoteURL(owner, targetRepo)); err != nil {
		return err
	}

	if err := m.runStep(ctx, "push", workDir, m.stepTimeout,
		"push", "-f", "origin", m.defaultBranch); err != nil {
		return err
	}

	m.logger.Info().
		Str("source", owner+"/"+sourceRepo).
		Str("target", owner+"/"+targetRepo).
		Msg("Template mirrored")

	return nil
}

// runStep запускает один git-подпроцесс с жёстким таймаутом: по
// истечении дедлайна процесс убивается, а не просто бросается ожидание.
func (m *gitMirror) runStep(ctx context.Context, step, dir string, timeout time.Duration, args ...string) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(stepCtx, m.gitPath, args...)
	cmd.Dir = dir
	cmd.Stdin = nil

	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if stepCtx.Err() == context.DeadlineExceeded {
		m.logger.Error().Str("step", step).Msg("Git step timed out, subprocess killed")
		return &CloneError{Step: step, Stderr: string(output), Err: context.DeadlineExceeded}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CloneError{Step: step, ExitCode: exitErr.ExitCode(), Stderr: string(output)}
	}

	return &CloneError{Step: step, Stderr: string(output), Err: err}
}
