package httpd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/oscourse/repo-provisioner/internal/service"
	"github.com/oscourse/repo-provisioner/internal/service/integration"
)

const stateCookie = "oauth_state"

// IssueAssignment начинает выдачу задания: уводит пользователя на
// страницу авторизации GitHub со scope repo:invite.
func (h *Handler) IssueAssignment(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(r); !ok {
		writeError(w, http.StatusUnauthorized, "Требуется вход")
		return
	}

	assignmentID, ok := getInt64URLParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Некорректный идентификатор задания")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	conf := h.callbackConfig(assignmentID)
	http.Redirect(w, r, conf.AuthCodeURL(state), http.StatusSeeOther)
}

// ProcessAssignment - callback авторизации: обмен кода на токен и
// запуск оркестрации. Ответ уходит сразу после синхронной части,
// достройка продолжается в фоне.
func (h *Handler) ProcessAssignment(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Требуется вход")
		return
	}

	assignmentID, ok := getInt64URLParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Некорректный идентификатор задания")
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		writeError(w, http.StatusForbidden, "Не удалось войти в GitHub")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusForbidden, "Не удалось войти в GitHub")
		return
	}

	conf := h.callbackConfig(assignmentID)
	token, err := conf.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Info().Err(err).Msg("OAuth code exchange failed")
		writeError(w, http.StatusForbidden, "Не удалось войти в GitHub")
		return
	}

	if _, err := h.provisionService.IssueAssignment(r.Context(), assignmentID, uid, token.AccessToken); err != nil {
		h.handleIssueError(w, err)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) callbackConfig(assignmentID int64) *oauth2.Config {
	conf := *h.oauth
	conf.RedirectURL = fmt.Sprintf("%s/api/v1/assignments/%d/process", h.redirectBase, assignmentID)
	return &conf
}

func (h *Handler) handleIssueError(w http.ResponseWriter, err error) {
	var restricted *integration.AccountRestrictedError

	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		writeError(w, http.StatusNotFound, "Задание не найдено")
	case errors.As(err, &restricted):
		writeError(w, http.StatusForbidden, "Ваш аккаунт ограничен на GitHub. Смените аккаунт и повторите попытку.")
	default:
		h.logger.Error().Err(err).Msg("GitHub request failed")
		writeError(w, http.StatusInternalServerError, "Произошла ошибка на стороне GitHub")
	}
}
