package httpd

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/oscourse/repo-provisioner/internal/service"
)

type Handler struct {
	assignmentService service.AssignmentService
	provisionService  service.ProvisionService
	webhookService    service.WebhookService
	oauth             *oauth2.Config
	redirectBase      string
	logger            zerolog.Logger
}

func NewHandler(
	assignmentService service.AssignmentService,
	provisionService service.ProvisionService,
	webhookService service.WebhookService,
	oauth *oauth2.Config,
	redirectBase string,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		assignmentService: assignmentService,
		provisionService:  provisionService,
		webhookService:    webhookService,
		oauth:             oauth,
		redirectBase:      redirectBase,
		logger:            logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)

	router.Post("/webhook/github", h.GitHubWebhook)

	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/assignments", func(r chi.Router) {
			r.Get("/", h.ListAssignments)
			r.Post("/", h.CreateAssignment)
			r.Post("/{id}/issue", h.IssueAssignment)
			r.Get("/{id}/process", h.ProcessAssignment)
		})
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "repo-provisioner",
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, response)
}

// userID извлекает идентификатор пользователя, проставленный внешним
// слоем аутентификации.
func userID(r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-Id")
	if raw == "" {
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

func getInt64URLParam(r *http.Request, key string) (int64, bool) {
	raw := chi.URLParam(r, key)
	if raw == "" {
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"success": true,
		"data":    data,
	}
	writeJSON(w, http.StatusOK, response)
}
