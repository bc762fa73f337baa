package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
)

// Converter applies the migration transform to a batch of objects. A batch
// either converts completely or fails as a whole.
type Converter struct {
	log      logr.Logger
	recorder Recorder
	tracer   trace.Tracer
	group    string
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger for conversion events.
func WithLogger(log logr.Logger) Option {
	return func(c *Converter) { c.log = log }
}

// WithRecorder sets the sink for per-request metrics.
func WithRecorder(r Recorder) Option {
	return func(c *Converter) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithTracer sets the tracer used for the per-request span.
func WithTracer(t trace.Tracer) Option {
	return func(c *Converter) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithGroup restricts desired versions to a single API group. An empty group
// accepts any.
func WithGroup(group string) Option {
	return func(c *Converter) { c.group = group }
}

// NewConverter returns a Converter. Without options it logs nothing, records
// nothing and uses a noop tracer.
func NewConverter(opts ...Option) *Converter {
	c := &Converter{
		log:      logr.Discard(),
		recorder: noopRecorder{},
		tracer:   noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert converts every object in req to req.DesiredAPIVersion, preserving order.
func (c *Converter) Convert(ctx context.Context, req *apiextensionsv1.ConversionRequest) *apiextensionsv1.ConversionResponse {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "convert", trace.WithAttributes(
		attribute.String("conversion.uid", string(req.UID)),
		attribute.String("conversion.desired_api_version", req.DesiredAPIVersion),
		attribute.Int("conversion.objects", len(req.Objects)),
	))
	defer span.End()

	log := c.log.WithValues("uid", req.UID, "desiredAPIVersion", req.DesiredAPIVersion, "objects", len(req.Objects))
	log.V(1).Info("Conversion request received")

	resp := c.convert(ctx, log, req)

	if resp.Result.Status == metav1.StatusFailure {
		span.SetStatus(codes.Error, resp.Result.Message)
	}
	c.recorder.ObserveConversion(resp.Result.Status, resp.Result.Reason, len(req.Objects), time.Since(start))
	return resp
}

func (c *Converter) convert(ctx context.Context, log logr.Logger, req *apiextensionsv1.ConversionRequest) *apiextensionsv1.ConversionResponse {
	target, err := c.targetVersion(req.DesiredAPIVersion)
	if err != nil {
		log.Info("Rejected conversion request", "reason", ReasonUnsupportedTarget, "error", err.Error())
		return Failure(req.UID, ReasonUnsupportedTarget, err.Error(), nil)
	}

	converted := make([]runtime.RawExtension, 0, len(req.Objects))
	for i, obj := range req.Objects {
		if err := ctx.Err(); err != nil {
			log.Info("Conversion abandoned", "index", i, "error", err.Error())
			return Failure(req.UID, ReasonConversionFailed,
				fmt.Sprintf("conversion abandoned at object %d: %v", i, err), nil)
		}

		out, err := migrate(obj.Raw, target)
		if err != nil {
			cause := &metav1.StatusCause{
				Type:    metav1.CauseType(ReasonFor(err)),
				Message: err.Error(),
				Field:   fmt.Sprintf("request.objects[%d]", i),
			}
			log.Info("Conversion failed", "index", i, "reason", cause.Type, "error", err.Error())
			return Failure(req.UID, ReasonConversionFailed,
				fmt.Sprintf("failed to convert object %d: %v", i, err), cause)
		}
		converted = append(converted, runtime.RawExtension{Raw: out})
	}

	log.V(1).Info("Conversion succeeded")
	return &apiextensionsv1.ConversionResponse{
		UID:              req.UID,
		ConvertedObjects: converted,
		Result:           metav1.Status{Status: metav1.StatusSuccess},
	}
}

func (c *Converter) targetVersion(desiredAPIVersion string) (schema.GroupVersion, error) {
	gv, err := ParseTargetVersion(desiredAPIVersion)
	if err != nil {
		return schema.GroupVersion{}, err
	}
	if c.group != "" && gv.Group != c.group {
		return schema.GroupVersion{}, fmt.Errorf("%w %q: only group %q is served",
			ErrUnsupportedTarget, desiredAPIVersion, c.group)
	}
	return gv, nil
}

// Failure builds a failed ConversionResponse. cause, when set, names the
// object that voided the batch.
func Failure(uid types.UID, reason metav1.StatusReason, message string, cause *metav1.StatusCause) *apiextensionsv1.ConversionResponse {
	status := metav1.Status{
		Status:  metav1.StatusFailure,
		Reason:  reason,
		Message: message,
	}
	if cause != nil {
		status.Details = &metav1.StatusDetails{Causes: []metav1.StatusCause{*cause}}
	}
	return &apiextensionsv1.ConversionResponse{
		UID:    uid,
		Result: status,
	}
}
