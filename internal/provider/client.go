// Package provider предоставляет клиент для внешней системы генерации.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/videobot-system/internal/model"
)

// JobState описывает состояние задачи генерации во внешней системе.
type JobState string

const (
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateRunning   JobState = "running"
)

// JobStatus описывает ответ внешней системы по одной задаче генерации.
type JobStatus struct {
	State     JobState
	ResultRef string
	Error     string
}

// Client инкапсулирует HTTP-взаимодействие с системами генерации.
// Для каждого типа заказа используется собственный базовый адрес.
type Client struct {
	baseURLs   map[model.OrderType]string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент систем генерации по указанным адресам.
func NewClient(imageURL, videoURL, storyboardURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURLs: map[model.OrderType]string{
			model.OrderTypePreview:      strings.TrimRight(imageURL, "/"),
			model.OrderTypeTextToVideo:  strings.TrimRight(videoURL, "/"),
			model.OrderTypeImageToVideo: strings.TrimRight(videoURL, "/"),
			model.OrderTypeStoryboard:   strings.TrimRight(storyboardURL, "/"),
		},
		httpClient: rc.StandardClient(),
	}
}

func (c *Client) baseURL(orderType model.OrderType) (string, error) {
	base, ok := c.baseURLs[orderType]
	if !ok || base == "" {
		return "", fmt.Errorf("no generation endpoint for order type %q", orderType)
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base, nil
}

type submitRequest struct {
	OrderID  int64    `json:"order_id"`
	Prompt   string   `json:"prompt,omitempty"`
	ImageRef string   `json:"image_ref,omitempty"`
	Duration int      `json:"duration,omitempty"`
	Quality  string   `json:"quality,omitempty"`
	Scenes   []string `json:"scenes,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

// SubmitJob отправляет заказ во внешнюю систему генерации и возвращает
// идентификатор задачи.
func (c *Client) SubmitJob(ctx context.Context, o *model.Order) (string, error) {
	base, err := c.baseURL(o.Type)
	if err != nil {
		return "", err
	}

	payload := submitRequest{
		OrderID:  o.ID,
		Prompt:   o.Prompt,
		ImageRef: o.ImageRef,
		Duration: o.Duration,
		Quality:  string(o.Quality),
		Scenes:   o.Scenes,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if result.TaskID == "" {
		return "", fmt.Errorf("empty task id in response")
	}

	return result.TaskID, nil
}

type statusResponse struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PollStatus запрашивает состояние задачи генерации для указанного типа заказа.
func (c *Client) PollStatus(ctx context.Context, orderType model.OrderType, jobID string) (*JobStatus, error) {
	base, err := c.baseURL(orderType)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/status/%s", base, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	switch result.Status {
	case "completed":
		return &JobStatus{State: JobStateCompleted, ResultRef: result.ResultURL}, nil
	case "failed":
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		return &JobStatus{State: JobStateFailed, Error: msg}, nil
	default:
		// Всё, что не completed и не failed, трактуем как "ещё выполняется".
		return &JobStatus{State: JobStateRunning}, nil
	}
}
