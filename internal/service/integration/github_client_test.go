package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscourse/repo-provisioner/internal/config"
)

func newTestGitHubClient(t *testing.T, handler http.Handler) GitHubClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.GitHubConfig{
		BotToken:      "bot-token",
		WebhookSecret: "s",
		Team:          "os",
		BaseURL:       srv.URL + "/",
	}

	client, err := NewGitHubClient(cfg, zerolog.Nop(), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	return client
}

func TestCreateRepository(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantResult CreateRepoResult
		wantErr    bool
	}{
		{
			name:       "created",
			status:     http.StatusCreated,
			body:       `{"name": "lab1-42"}`,
			wantResult: RepoCreated,
		},
		{
			name:       "already exists is reuse, not error",
			status:     http.StatusUnprocessableEntity,
			body:       `{"message": "Validation Failed", "errors": [{"message": "name already exists on this account"}]}`,
			wantResult: RepoAlreadyExists,
		},
		{
			name:    "other validation error propagates",
			status:  http.StatusUnprocessableEntity,
			body:    `{"message": "Validation Failed", "errors": [{"message": "name is too long"}]}`,
			wantErr: true,
		},
		{
			name:    "server error propagates",
			status:  http.StatusInternalServerError,
			body:    `{"message": "oops"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/orgs/course/repos", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)

				var repo struct {
					Name    string `json:"name"`
					Private bool   `json:"private"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&repo))
				assert.Equal(t, "lab1-42", repo.Name)
				assert.True(t, repo.Private)

				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			client := newTestGitHubClient(t, mux)

			result, err := client.CreateRepository(context.Background(), "course", "lab1-42")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantResult, result)
		})
	}
}

func TestAddCollaborator_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/course/lab1-42/collaborators/student", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "Not Found"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 7}`)
	})

	client := newTestGitHubClient(t, mux)

	invitation, err := client.AddCollaborator(context.Background(), "course", "lab1-42", "student", "push")
	require.NoError(t, err)
	require.NotNil(t, invitation)
	assert.Equal(t, int64(7), invitation.ID)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestAddCollaborator_ExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/course/lab1-42/collaborators/student", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	client := newTestGitHubClient(t, mux)

	_, err := client.AddCollaborator(context.Background(), "course", "lab1-42", "student", "push")
	require.Error(t, err)
	assert.True(t, hasStatus(err, http.StatusNotFound))
	// 3 повтора после первой попытки
	assert.Equal(t, int32(4), attempts.Load())
}

func TestAddCollaborator_AccountRestricted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/course/lab1-42/collaborators/student", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Validation Failed", "errors": [{"message": "User could not be added"}]}`)
	})

	client := newTestGitHubClient(t, mux)

	_, err := client.AddCollaborator(context.Background(), "course", "lab1-42", "student", "push")
	require.Error(t, err)

	var restricted *AccountRestrictedError
	require.ErrorAs(t, err, &restricted)
	assert.Equal(t, "student", restricted.Login)
}

func TestAddCollaborator_NoInvitationWhenAlreadyCollaborator(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/course/lab1-42/collaborators/student", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	client := newTestGitHubClient(t, mux)

	invitation, err := client.AddCollaborator(context.Background(), "course", "lab1-42", "student", "push")
	require.NoError(t, err)
	assert.Nil(t, invitation)
}

func TestUserInTeam(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{
			name:   "active member",
			status: http.StatusOK,
			body:   `{"state": "active", "role": "member"}`,
			want:   true,
		},
		{
			name:   "pending member is not in team",
			status: http.StatusOK,
			body:   `{"state": "pending", "role": "member"}`,
			want:   false,
		},
		{
			name:   "not found is false, not error",
			status: http.StatusNotFound,
			body:   `{"message": "Not Found"}`,
			want:   false,
		},
		{
			name:    "server error propagates",
			status:  http.StatusInternalServerError,
			body:    `{"message": "oops"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/orgs/course/teams/os/memberships/reviewer", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			client := newTestGitHubClient(t, mux)

			got, err := client.UserInTeam(context.Background(), "course", "os", "reviewer")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetLogin_UsesUserToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"login": "student"}`)
	})

	client := newTestGitHubClient(t, mux)

	login, err := client.GetLogin(context.Background(), "user-token")
	require.NoError(t, err)
	assert.Equal(t, "student", login)
}

func TestProtectBranch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/course/lab1-42/branches/master/protection", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)

		var preq struct {
			RequiredPullRequestReviews struct {
				RequiredApprovingReviewCount int `json:"required_approving_review_count"`
			} `json:"required_pull_request_reviews"`
			Restrictions struct {
				Teams []string `json:"teams"`
			} `json:"restrictions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&preq))
		assert.Equal(t, 1, preq.RequiredPullRequestReviews.RequiredApprovingReviewCount)
		assert.Equal(t, []string{"os"}, preq.Restrictions.Teams)

		fmt.Fprint(w, `{}`)
	})

	client := newTestGitHubClient(t, mux)

	err := client.ProtectBranch(context.Background(), "course", "lab1-42", "master")
	require.NoError(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte("hello")

	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write(body)
	digest := hex.EncodeToString(mac.Sum(nil))

	client := newTestGitHubClient(t, http.NewServeMux())

	tests := []struct {
		name      string
		body      []byte
		signature string
		want      bool
	}{
		{
			name:      "valid signature",
			body:      body,
			signature: "sha256=" + digest,
			want:      true,
		},
		{
			name:      "mutated body",
			body:      []byte("hellp"),
			signature: "sha256=" + digest,
			want:      false,
		},
		{
			name:      "mutated digest",
			body:      body,
			signature: "sha256=" + flipLastHexDigit(digest),
			want:      false,
		},
		{
			name:      "wrong prefix",
			body:      body,
			signature: "sha1=" + digest,
			want:      false,
		},
		{
			name:      "missing header",
			body:      body,
			signature: "",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, client.VerifySignature(tt.body, tt.signature))
		})
	}
}

func flipLastHexDigit(digest string) string {
	last := digest[len(digest)-1]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	return digest[:len(digest)-1] + string(replacement)
}
