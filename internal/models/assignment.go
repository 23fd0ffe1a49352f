package models

type Assignment struct {
	ID              int64  `json:"id" db:"id"`
	Owner           string `json:"owner" db:"owner"`
	Repo            string `json:"repo" db:"repo"`
	Name            string `json:"name" db:"name"`
	Order           int64  `json:"order" db:"ord"`
	LockAfterAccept bool   `json:"lock_after_accept" db:"lock_after_accept"`
}

// AssignmentWithRepo - задание вместе с репозиторием текущего пользователя
// (если он уже выдан).
type AssignmentWithRepo struct {
	Assignment
	Repository *Repository `json:"repository,omitempty"`
}
