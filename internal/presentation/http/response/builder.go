package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/tally/pkg/errorbank"
)

// RetryAfterSeconds is sent with every retryable error response.
const RetryAfterSeconds = "1"

type successEnvelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type errorBody struct {
	Kind      string         `json:"kind"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool           `json:"success"`
	Error   errorBody      `json:"error"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Builder assembles the JSON envelope shared by every tab endpoint.
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

// WithData attaches a success payload.
func (b *Builder) WithData(data any) *Builder {
	b.data = data
	return b
}

// WithError records an error to be rendered.
func (b *Builder) WithError(err error) *Builder {
	b.err = err
	return b
}

// WithMeta appends auxiliary metadata to the response.
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

// Build finalises and emits the HTTP response. Requests served under an
// active trace carry its id in meta.trace_id.
func (b *Builder) Build() error {
	if sc := trace.SpanContextFromContext(b.ctx.Request().Context()); sc.HasTraceID() {
		b.WithMeta("trace_id", sc.TraceID().String())
	}
	if b.err != nil {
		return b.buildError()
	}
	return b.ctx.JSON(b.status, successEnvelope{Success: true, Data: b.data, Meta: b.meta})
}

func (b *Builder) buildError() error {
	appErr := errorbank.From(b.err)
	status := b.status
	if status < http.StatusBadRequest {
		status = appErr.StatusCode()
	}
	if appErr.Retryable() {
		b.ctx.Response().Header().Set("Retry-After", RetryAfterSeconds)
	}
	return b.ctx.JSON(status, errorEnvelope{
		Error: errorBody{
			Kind:      string(appErr.Kind()),
			Code:      appErr.Code(),
			Message:   appErr.Message(),
			Retryable: appErr.Retryable(),
			Details:   appErr.Details(),
		},
		Meta: b.meta,
	})
}
