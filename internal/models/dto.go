package models

type CreateAssignmentRequest struct {
	Owner           string `json:"owner"`
	Repo            string `json:"repo"`
	Name            string `json:"name"`
	Order           int64  `json:"order"`
	LockAfterAccept bool   `json:"lock_after_accept"`
}

type AssignmentsResponse struct {
	Assignments []AssignmentWithRepo `json:"assignments"`
	Total       int                  `json:"total"`
}
