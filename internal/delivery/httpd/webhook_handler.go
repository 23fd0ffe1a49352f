package httpd

import (
	"io"
	"net/http"
)

const maxWebhookBody = 1 << 20

// GitHubWebhook принимает события GitHub: сырое тело, подпись и тип
// события уходят в WebhookService, ответ всегда plain text.
func (h *Handler) GitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writePlain(w, http.StatusBadRequest, "malformed payload")
		return
	}

	outcome := h.webhookService.Process(
		r.Context(),
		body,
		r.Header.Get("X-Hub-Signature-256"),
		r.Header.Get("X-GitHub-Event"),
	)

	writePlain(w, outcome.Status, outcome.Message)
}

func writePlain(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}
