package integration

import (
	"errors"
	"fmt"

	"github.com/google/go-github/v66/github"
)

// AccountRestrictedError - аккаунт пользователя ограничен на GitHub.
// Терминальная ошибка: повторять бессмысленно, пользователю нужно
// сменить аккаунт. Никогда не схлопывается в общую ошибку API.
type AccountRestrictedError struct {
	Login string
	Err   error
}

func (e *AccountRestrictedError) Error() string {
	return fmt.Sprintf("github account %q is restricted: %v", e.Login, e.Err)
}

func (e *AccountRestrictedError) Unwrap() error {
	return e.Err
}

// hasStatus проверяет, что ошибка go-github несёт данный HTTP-статус.
func hasStatus(err error, status int) bool {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) {
		return false
	}
	return ghErr.Response != nil && ghErr.Response.StatusCode == status
}

// hasErrorMessage проверяет статус и конкретное сообщение в списке
// ошибок ответа GitHub (так различаются семантически разные 422).
func hasErrorMessage(err error, status int, message string) bool {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) {
		return false
	}
	if ghErr.Response == nil || ghErr.Response.StatusCode != status {
		return false
	}
	for _, e := range ghErr.Errors {
		if e.Message == message {
			return true
		}
	}
	return false
}
