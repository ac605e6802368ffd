// Package httpx — общий HTTP-клиент для внешних API: генераторов
// изображений и платформ публикации.
//
// Ответы сводятся к таксономии ошибок domain:
//   - сетевая ошибка, 408, 429, 5xx — domain.ErrTransient
//   - 401, 403 — domain.ErrConfiguration (токен неверен или отозван)
//   - остальные 4xx — domain.ErrValidation
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shaiso/postmill/internal/domain"
)

const (
	// DefaultTimeout — таймаут запроса к внешнему API.
	DefaultTimeout = 30 * time.Second

	// maxResponseBody — предел тела JSON-ответа.
	maxResponseBody = 4 << 20

	maxErrorBody = 200
)

// StatusError — ответ с HTTP-кодом >= 400.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Unwrap возвращает sentinel из domain по коду ответа.
func (e *StatusError) Unwrap() error {
	return ClassifyStatus(e.StatusCode)
}

// ClassifyStatus сопоставляет HTTP-код ошибки с domain sentinel.
func ClassifyStatus(code int) error {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return domain.ErrTransient
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return domain.ErrConfiguration
	default:
		return domain.ErrValidation
	}
}

// Request — параметры запроса.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string

	// Body сериализуется в JSON. Form — в application/x-www-form-urlencoded.
	// Задаётся не более одного.
	Body any
	Form url.Values
}

// DoJSON выполняет запрос и декодирует JSON-ответ в out (если out != nil).
func DoJSON(ctx context.Context, client *http.Client, r Request, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", domain.ErrConfiguration, err)
	}
	if len(r.Query) > 0 {
		q := target.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.Body != nil:
		raw, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("%w: marshal body: %v", domain.ErrValidation, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	case r.Form != nil:
		body = bytes.NewBufferString(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", domain.ErrConfiguration, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return transportError(method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", domain.ErrTransient, err)
	}

	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), maxErrorBody)}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response from %s: %v", domain.ErrTransient, endpoint(target), err)
	}
	return nil
}

// transportError оборачивает сетевую ошибку без query-строки:
// в ней бывают токены доступа.
func transportError(method string, target *url.URL, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return fmt.Errorf("%w: %s %s: %w", domain.ErrTransient, method, endpoint(target), err)
}

func endpoint(u *url.URL) string {
	return u.Scheme + "://" + u.Host + u.Path
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
