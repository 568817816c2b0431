package response

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *ErrorBody     `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// ErrorBody describes a failed request. Retryable tells clients whether
// sending the same request again may succeed.
type ErrorBody struct {
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// Builder assembles an Envelope for one request.
type Builder struct {
	ctx    echo.Context
	status int
	data   any
	err    error
	meta   map[string]any
}

// New instantiates a Builder for the provided request context.
func New(ctx echo.Context) *Builder {
	return &Builder{ctx: ctx, status: http.StatusOK}
}

// WithStatus overrides the response status code.
func (b *Builder) WithStatus(status int) *Builder {
	if status > 0 {
		b.status = status
	}
	return b
}

func (b *Builder) WithData(data any) *Builder {
	b.data = data
	return b
}

func (b *Builder) WithError(err error) *Builder {
	b.err = err
	return b
}

// WithMeta adds key to the meta object. Empty keys are ignored.
func (b *Builder) WithMeta(key string, value any) *Builder {
	if key == "" {
		return b
	}
	if b.meta == nil {
		b.meta = make(map[string]any)
	}
	b.meta[key] = value
	return b
}

// Build writes the response. The request id assigned by the router
// middleware is echoed in meta. Errors take their status from the error
// kind unless an explicit error status was set.
func (b *Builder) Build() error {
	if rid := b.ctx.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
		b.WithMeta("request_id", rid)
	}

	env := Envelope{Success: b.err == nil, Data: b.data, Meta: b.meta}
	status := b.status
	if b.err != nil {
		appErr := errorbank.From(b.err)
		env.Data = nil
		env.Error = &ErrorBody{
			Kind:      string(appErr.Kind()),
			Message:   appErr.Message(),
			Retryable: errorbank.Retryable(appErr),
			Details:   appErr.Details(),
		}
		if status < http.StatusBadRequest {
			status = appErr.StatusCode()
		}
	}
	return b.ctx.JSON(status, env)
}
