package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"

	"github.com/oscourse/repo-provisioner/internal/config"
	"github.com/oscourse/repo-provisioner/internal/models"
)

// GradeSheet - ведомость курса в Google Sheets. Все операции
// идемпотентны (запись в ячейку); неизвестный пользователь - no-op.
type GradeSheet interface {
	RecordRepoLink(ctx context.Context, userID int64, assignment models.Assignment, repoName string) error
	RecordBonus(ctx context.Context, userID int64, assignment models.Assignment, bonus int) error
	RecordWorkflowResult(ctx context.Context, userID int64, assignment models.Assignment, repoName string, prNumber int, success bool) error
}

const (
	sheetsBaseURL = "https://sheets.googleapis.com"
	sheetsScope   = "https://www.googleapis.com/auth/spreadsheets"

	// Первое задание занимает колонки H..J, второе K..M и так далее:
	// ссылка на PR, бонусные баллы, результат CI.
	firstColumn    = 5
	columnsPerTask = 3
)

type gradeSheetClient struct {
	client        *http.Client
	baseURL       string
	spreadsheetID string
	worksheet     string
	logger        zerolog.Logger
}

type GradeSheetOption func(*gradeSheetClient)

// WithSheetsEndpoint подменяет API и HTTP-клиент (в тестах).
func WithSheetsEndpoint(baseURL string, client *http.Client) GradeSheetOption {
	return func(c *gradeSheetClient) {
		c.baseURL = baseURL
		c.client = client
	}
}

func NewGradeSheetClient(cfg config.GradeSheetConfig, logger zerolog.Logger, opts ...GradeSheetOption) (GradeSheet, error) {
	client := &gradeSheetClient{
		baseURL:       sheetsBaseURL,
		spreadsheetID: cfg.SpreadsheetID,
		worksheet:     cfg.Worksheet,
		logger:        logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.client == nil {
		creds, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read service account credentials: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(creds, sheetsScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
		}

		client.client = jwtConfig.Client(context.Background())
		client.client.Timeout = 30 * time.Second
	}

	return client, nil
}

func (c *gradeSheetClient) RecordRepoLink(ctx context.Context, userID int64, assignment models.Assignment, repoName string) error {
	value := fmt.Sprintf(
		`=HYPERLINK("https://github.com/%s/%s/pulls"; "PR")`,
		assignment.Owner, repoName,
	)
	return c.updateCell(ctx, userID, taskColumn(assignment.Order), value)
}

func (c *gradeSheetClient) RecordBonus(ctx context.Context, userID int64, assignment models.Assignment, bonus int) error {
	return c.updateCell(ctx, userID, taskColumn(assignment.Order)+1, strconv.Itoa(bonus))
}

func (c *gradeSheetClient) RecordWorkflowResult(ctx context.Context, userID int64, assignment models.Assignment, repoName string, prNumber int, success bool) error {
	glyph := "✗"
	if success {
		glyph = "✓"
	}

	value := fmt.Sprintf(
		`=HYPERLINK("https://github.com/%s/%s/pull/%d"; "%s #%d")`,
		assignment.Owner, repoName, prNumber, glyph, prNumber,
	)
	return c.updateCell(ctx, userID, taskColumn(assignment.Order)+2, value)
}

func taskColumn(order int64) int {
	return firstColumn + int(order)*columnsPerTask
}

// updateCell находит строку пользователя по колонке A и пишет значение.
// Пользователь, которого нет в ведомости, молча пропускается.
func (c *gradeSheetClient) updateCell(ctx context.Context, userID int64, column int, value string) error {
	row, found, err := c.findUserRow(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		c.logger.Info().Int64("user_id", userID).Msg("User not found in spreadsheet")
		return nil
	}

	cell := fmt.Sprintf("%s%d", columnName(column), row)
	rangeRef := fmt.Sprintf("%s!%s", c.worksheet, cell)

	body, err := json.Marshal(map[string]interface{}{
		"range":  rangeRef,
		"values": [][]string{{value}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cell update: %w", err)
	}

	endpoint := fmt.Sprintf(
		"%s/v4/spreadsheets/%s/values/%s?valueInputOption=USER_ENTERED",
		c.baseURL, c.spreadsheetID, url.PathEscape(rangeRef),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update cell %s: %w", cell, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sheets api returned status %d: %s", resp.StatusCode, string(data))
	}

	c.logger.Debug().
		Int64("user_id", userID).
		Str("cell", cell).
		Msg("Spreadsheet cell updated")

	return nil
}

func (c *gradeSheetClient) findUserRow(ctx context.Context, userID int64) (int, bool, error) {
	endpoint := fmt.Sprintf(
		"%s/v4/spreadsheets/%s/values/%s?majorDimension=COLUMNS",
		c.baseURL, c.spreadsheetID, url.PathEscape(c.worksheet+"!A:A"),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read user column: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return 0, false, fmt.Errorf("sheets api returned status %d: %s", resp.StatusCode, string(data))
	}

	var values struct {
		Values [][]string `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
		return 0, false, fmt.Errorf("failed to decode user column: %w", err)
	}

	if len(values.Values) == 0 {
		return 0, false, nil
	}

	target := strconv.FormatInt(userID, 10)
	for i, cell := range values.Values[0] {
		if cell == target {
			return i + 1, true, nil
		}
	}

	return 0, false, nil
}

// columnName переводит 1-базовый номер колонки в буквенную нотацию A1.
func columnName(n int) string {
	name := ""
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}

// noopGradeSheet используется, когда ведомость не настроена:
// сервис продолжает работать, записи только логируются.
type noopGradeSheet struct {
	logger zerolog.Logger
}

func NewNoopGradeSheet(logger zerolog.Logger) GradeSheet {
	return &noopGradeSheet{logger: logger}
}

func (n *noopGradeSheet) RecordRepoLink(_ context.Context, userID int64, _ models.Assignment, repoName string) error {
	n.logger.Debug().Int64("user_id", userID).Str("repo", repoName).Msg("Grade sheet disabled, skipping repo link")
	return nil
}

func (n *noopGradeSheet) RecordBonus(_ context.Context, userID int64, _ models.Assignment, bonus int) error {
	n.logger.Debug().Int64("user_id", userID).Int("bonus", bonus).Msg("Grade sheet disabled, skipping bonus")
	return nil
}

func (n *noopGradeSheet) RecordWorkflowResult(_ context.Context, userID int64, _ models.Assignment, _ string, prNumber int, success bool) error {
	n.logger.Debug().Int64("user_id", userID).Int("pr", prNumber).Bool("success", success).Msg("Grade sheet disabled, skipping workflow result")
	return nil
}
