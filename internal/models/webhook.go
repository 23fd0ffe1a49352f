package models

// EventKind - закрытое перечисление поддерживаемых типов вебхуков.
// Строковый заголовок X-GitHub-Event разбирается ровно один раз.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventReview
	EventWorkflowRun
)

func ParseEventKind(header string) EventKind {
	switch header {
	case "pull_request_review":
		return EventReview
	case "workflow_run":
		return EventWorkflowRun
	default:
		return EventUnknown
	}
}

// WebhookRepository - общая для всех событий часть полезной нагрузки,
// по ней ищется строка Repository по натуральному ключу.
type WebhookRepository struct {
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// WebhookEnvelope разбирается до диспетчеризации, чтобы определить репозиторий.
type WebhookEnvelope struct {
	Repository WebhookRepository `json:"repository"`
}

type ReviewEvent struct {
	Action string `json:"action"`
	Review struct {
		State string `json:"state"`
		Body  string `json:"body"`
		User  struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"review"`
	PullRequest struct {
		Number int `json:"number"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository WebhookRepository `json:"repository"`
}

// Valid проверяет наличие обязательных полей события ревью.
func (e *ReviewEvent) Valid() bool {
	return e.Review.State != "" &&
		e.Review.User.Login != "" &&
		e.PullRequest.Number != 0 &&
		e.PullRequest.Head.Ref != ""
}

type WorkflowRunEvent struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		Event        string `json:"event"`
		Conclusion   string `json:"conclusion"`
		PullRequests []struct {
			Number int `json:"number"`
		} `json:"pull_requests"`
	} `json:"workflow_run"`
	Repository WebhookRepository `json:"repository"`
}

// Valid проверяет наличие обязательных полей события workflow_run.
// Номер PR обязателен только для завершённых прогонов по pull_request.
func (e *WorkflowRunEvent) Valid() bool {
	if e.Action == "" || e.WorkflowRun.Event == "" {
		return false
	}
	if e.Action == "completed" && e.WorkflowRun.Event == "pull_request" {
		return e.WorkflowRun.Conclusion != "" && len(e.WorkflowRun.PullRequests) > 0
	}
	return true
}
