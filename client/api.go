package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

type APIConfig struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
}

// API talks to the REST surface of the relay. Idempotent calls are retried
// with exponential backoff on network errors and 5xx answers.
type API struct {
	conf APIConfig
	http *http.Client
}

type apiError struct {
	Message string `json:"message"`
}

type historyResponse struct {
	Success  bool             `json:"success"`
	Messages []domain.Message `json:"messages"`
}

type presenceResponse struct {
	ProjectID domain.ProjectID `json:"projectId"`
	Members   []string         `json:"members"`
}

type messageResponse struct {
	Success   bool           `json:"success"`
	Message   domain.Message `json:"message"`
	ClientKey string         `json:"clientKey"`
}

func NewAPI(conf APIConfig) *API {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}
	conf.BaseURL = strings.TrimRight(conf.BaseURL, "/")
	if conf.RetryMaxElapsed <= 0 {
		conf.RetryMaxElapsed = 10 * time.Second
	}
	return &API{conf: conf, http: &http.Client{Transport: tr, Timeout: conf.Timeout}}
}

func (a *API) Join(ctx context.Context, projectID domain.ProjectID) error {
	return a.retry(ctx, func() error {
		return a.do(ctx, http.MethodPost, a.projectPath(projectID, "join"), nil, nil)
	})
}

func (a *API) History(ctx context.Context, projectID domain.ProjectID) ([]domain.Message, error) {
	var resp historyResponse
	err := a.retry(ctx, func() error {
		return a.do(ctx, http.MethodGet, a.projectPath(projectID, "messages"), nil, &resp)
	})
	return resp.Messages, err
}

// Presence lists the display names currently in the room.
func (a *API) Presence(ctx context.Context, projectID domain.ProjectID) ([]string, error) {
	var resp presenceResponse
	err := a.retry(ctx, func() error {
		return a.do(ctx, http.MethodGet, a.projectPath(projectID, "presence"), nil, &resp)
	})
	return resp.Members, err
}

// Post is never retried: a lost answer could otherwise store the message twice.
func (a *API) Post(ctx context.Context, projectID domain.ProjectID, text, image, clientKey string) (domain.Message, error) {
	var resp messageResponse
	body := map[string]string{"text": text, "image": image, "clientKey": clientKey}
	if err := a.do(ctx, http.MethodPost, a.projectPath(projectID, "messages"), body, &resp); err != nil {
		return domain.Message{}, err
	}
	return resp.Message, nil
}

func (a *API) Delete(ctx context.Context, projectID domain.ProjectID, messageID uuid.UUID) (domain.Message, error) {
	var resp messageResponse
	err := a.retry(ctx, func() error {
		return a.do(ctx, http.MethodDelete, a.projectPath(projectID, "messages", messageID.String()), nil, &resp)
	})
	return resp.Message, err
}

func (a *API) projectPath(projectID domain.ProjectID, parts ...string) string {
	segments := append([]string{"projects", url.PathEscape(string(projectID))}, parts...)
	return a.conf.BaseURL + "/" + strings.Join(segments, "/")
}

func (a *API) retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = a.conf.RetryMaxElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// do runs one request. Answers the caller cannot fix by retrying are permanent.
func (a *API) do(ctx context.Context, method, target string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+a.conf.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		err := fmt.Errorf("%s %s: %s: %w", method, target, apiErr.Message, errors.FromHTTPStatus(resp.StatusCode))
		if resp.StatusCode >= 500 {
			return err
		}
		return backoff.Permanent(err)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s %s: %w", method, target, err))
	}
	return nil
}
