package models

type Repository struct {
	ID           int64  `json:"id" db:"id"`
	UserID       int64  `json:"user_id" db:"user_id"`
	AssignmentID int64  `json:"assignment_id" db:"assignment_id"`
	RepoName     string `json:"repo_name" db:"repo_name"`
	Status       string `json:"status" db:"status"` // IN_PROGRESS, FINISHED, FAILED
}

// RepositoryWithAssignment - строка репозитория вместе с заданием,
// используется при обработке вебхуков.
type RepositoryWithAssignment struct {
	Repository
	Assignment Assignment `json:"assignment"`
}

type RepoStatus string

const (
	RepoStatusInProgress RepoStatus = "IN_PROGRESS"
	RepoStatusFinished   RepoStatus = "FINISHED"
	RepoStatusFailed     RepoStatus = "FAILED"
)

func (rs RepoStatus) String() string {
	return string(rs)
}

func IsValidRepoStatus(status string) bool {
	switch status {
	case "IN_PROGRESS", "FINISHED", "FAILED":
		return true
	default:
		return false
	}
}
