package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/oscourse/repo-provisioner/internal/models"
)

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Требуется вход")
		return
	}

	ctx := r.Context()
	assignments, err := h.assignmentService.ListForUser(ctx, uid)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list assignments")
		writeError(w, http.StatusInternalServerError, "Не удалось получить список заданий")
		return
	}

	writeSuccess(w, models.AssignmentsResponse{
		Assignments: assignments,
		Total:       len(assignments),
	})
}

func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	assignment, err := h.assignmentService.CreateAssignment(ctx, &req)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create assignment")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeSuccess(w, assignment)
}
