package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/oscourse/repo-provisioner/internal/config"
	"github.com/oscourse/repo-provisioner/internal/delivery/httpd"
	"github.com/oscourse/repo-provisioner/internal/repository"
	"github.com/oscourse/repo-provisioner/internal/service"
	"github.com/oscourse/repo-provisioner/internal/service/integration"
)

type App struct {
	server           *http.Server
	logger           zerolog.Logger
	config           *config.Config
	db               *sql.DB
	provisionService service.ProvisionService
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	// Интеграционные клиенты создаются один раз на процесс и дальше
	// передаются явно - никаких глобальных сессий.
	githubClient, err := integration.NewGitHubClient(cfg.GitHub, log)
	if err != nil {
		return nil, err
	}

	gitMirror := integration.NewGitMirror(cfg.GitHub, log)

	gradeSheet, err := integration.NewGradeSheetClient(cfg.GradeSheet, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create grade sheet client")
		// Продолжаем без ведомости, это допустимо для разработки
		gradeSheet = integration.NewNoopGradeSheet(log)
	}

	// Репозитории
	assignmentRepo := repository.NewAssignmentRepository(db, log)
	repoRepo := repository.NewRepoRepository(db, log)

	// Сервисы
	assignmentService := service.NewAssignmentService(assignmentRepo, repoRepo, log)
	provisionService := service.NewProvisionService(
		cfg.GitHub,
		assignmentRepo,
		repoRepo,
		githubClient,
		gitMirror,
		gradeSheet,
		log,
	)
	webhookService := service.NewWebhookService(
		cfg.GitHub,
		repoRepo,
		githubClient,
		gradeSheet,
		log,
	)

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		Endpoint:     githuboauth.Endpoint,
		Scopes:       []string{"repo:invite"},
	}

	handler := httpd.NewHandler(
		assignmentService,
		provisionService,
		webhookService,
		oauthConfig,
		cfg.GitHub.RedirectBase,
		log,
	)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:           server,
		logger:           log,
		config:           cfg,
		db:               db,
		provisionService: provisionService,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info().Msgf("Starting repo provisioner on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down repo provisioner...")

	// Дожидаемся фоновых достроек: иначе статусы останутся IN_PROGRESS
	a.provisionService.Wait()

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	return a.server.Shutdown(ctx)
}
