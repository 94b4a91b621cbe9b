package otelhelper

import (
	"errors"

	"github.com/dukex/triggerhub/pkg/errs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ErrorProviderKey = "triggerhub.error.provider"
	ErrorKindKey     = "triggerhub.error.kind"
	ErrorStatusKey   = "triggerhub.error.http_status"
)

// SetError marks the span failed. Provider API failures also carry the
// provider, kind and upstream status.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if apiErr, ok := errs.AsExternalAPI(err); ok {
		attrs = append(attrs,
			attribute.String(ErrorProviderKey, apiErr.Provider),
			attribute.String(ErrorKindKey, string(apiErr.Kind)),
			attribute.Int(ErrorStatusKey, apiErr.Status))
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// SetFailure marks the span failed with a message from a node result.
func SetFailure(span trace.Span, message string) {
	if message == "" {
		message = "failed"
	}

	SetError(span, errors.New(message))
}
