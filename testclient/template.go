package testclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"vault-test-support/requestfactory"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Template is an HTTP helper for tests. Any response with a 4xx or 5xx
// status is returned as a *StatusError rather than as a result.
type Template struct {
	factory requestfactory.RequestFactory
	client  *resty.Client
}

// NewWithFactory returns a Template that sends requests through f.
func NewWithFactory(f requestfactory.RequestFactory) (*Template, error) {
	if f == nil {
		return nil, ErrNilFactory
	}

	// resty installs its redirect policy on the client it is given, so the
	// factory's client is copied; the transport stays shared.
	hc := *f.HTTPClient()

	c := resty.NewWithClient(&hc).
		SetLogger(log().Sugar()).
		SetError(&vaultErrors{}).
		OnAfterResponse(raiseForStatus)

	return &Template{factory: f, client: c}, nil
}

func (t *Template) RequestFactory() requestfactory.RequestFactory { return t.factory }

func (t *Template) SetBaseURL(u string) *Template {
	t.client.SetBaseURL(strings.TrimRight(u, "/"))
	return t
}

func (t *Template) SetHeader(k, v string) *Template {
	t.client.SetHeader(k, v)
	return t
}

func (t *Template) SetVaultToken(token string) *Template {
	return t.SetHeader("X-Vault-Token", token)
}

func (t *Template) SetNamespace(ns string) *Template {
	return t.SetHeader("X-Vault-Namespace", ns)
}

// R starts a request bound to ctx.
func (t *Template) R(ctx context.Context) *resty.Request {
	return t.client.R().SetContext(ctx)
}

// GetForObject decodes the JSON body of a successful GET into out.
func (t *Template) GetForObject(ctx context.Context, url string, out any) error {
	_, err := t.Exchange(ctx, http.MethodGet, url, nil, out)
	return err
}

func (t *Template) GetForEntity(ctx context.Context, url string) (*resty.Response, error) {
	return t.Exchange(ctx, http.MethodGet, url, nil, nil)
}

func (t *Template) PostForObject(ctx context.Context, url string, body, out any) error {
	_, err := t.Exchange(ctx, http.MethodPost, url, body, out)
	return err
}

func (t *Template) Put(ctx context.Context, url string, body any) error {
	_, err := t.Exchange(ctx, http.MethodPut, url, body, nil)
	return err
}

func (t *Template) Delete(ctx context.Context, url string) error {
	_, err := t.Exchange(ctx, http.MethodDelete, url, nil, nil)
	return err
}

// Exchange performs method on url. The response is returned even when err is
// a *StatusError.
func (t *Template) Exchange(ctx context.Context, method, url string, body, out any) (*resty.Response, error) {
	req := t.R(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	return req.Execute(method, url)
}

// vaultErrors is the error document Vault returns.
type vaultErrors struct {
	Errors []string `json:"errors"`
}

// StatusError reports an HTTP response with a 4xx or 5xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       []byte
	// Errors holds Vault's "errors" array when the body carried one.
	Errors []string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	msg := fmt.Sprintf("%s %s: %s", e.Method, e.URL, status)
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	return msg
}

func (e *StatusError) IsClientError() bool { return e.StatusCode >= 400 && e.StatusCode < 500 }
func (e *StatusError) IsServerError() bool { return e.StatusCode >= 500 }

// AsStatusError unwraps err to a *StatusError.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func raiseForStatus(_ *resty.Client, resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	se := &StatusError{
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       resp.Body(),
	}
	if resp.Request != nil {
		se.Method = resp.Request.Method
		se.URL = resp.Request.URL
	}
	if ve, ok := resp.Error().(*vaultErrors); ok && ve != nil {
		se.Errors = ve.Errors
	}
	return se
}
