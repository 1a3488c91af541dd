package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for the identifiers that flow through the system. Spans from
// the API surface and the plugin host tag these so one trace can follow a job
// across components.
const (
	attrJobID    = attribute.Key("modelbench.job.id")
	attrTaskID   = attribute.Key("modelbench.task.id")
	attrWorkerID = attribute.Key("modelbench.worker.id")
	attrPluginID = attribute.Key("modelbench.plugin.id")
)

// JobID tags a span with the job identifier.
func JobID(id string) attribute.KeyValue { return attrJobID.String(id) }

// TaskID tags a span with the task identifier.
func TaskID(id string) attribute.KeyValue { return attrTaskID.String(id) }

// WorkerID tags a span with the worker identifier.
func WorkerID(id string) attribute.KeyValue { return attrWorkerID.String(id) }

// PluginID tags a span with the plugin instance identifier.
func PluginID(id string) attribute.KeyValue { return attrPluginID.String(id) }

type Telemetry struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

type Config struct {
	Enabled      bool
	JaegerURL    string
	ServiceName  string
	Version      string
	Environment  string
	SamplingRate float64
}

func New(cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{tracer: otel.Tracer("noop")}, nil
	}

	exporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampling := cfg.SamplingRate
	if sampling <= 0 || sampling > 1 {
		sampling = 1
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampling)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Telemetry{
		tracer:   otel.Tracer(cfg.ServiceName),
		provider: provider,
	}, nil
}

func (t *Telemetry) Close() error {
	if t.provider != nil {
		return t.provider.Shutdown(context.Background())
	}
	return nil
}

func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// HTTPMiddleware opens a span per request, propagates incoming context and
// tags the span with the job/worker/plugin/task id the route addresses.
func (t *Telemetry) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := t.tracer.Start(ctx, c.Request.Method+" "+c.FullPath(),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
			),
		)
		defer span.End()

		if kv, ok := routeSubject(c.FullPath(), c.Param("id")); ok {
			span.SetAttributes(kv)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

// routeSubject maps a /v1 route's :id parameter onto the matching domain
// attribute.
func routeSubject(route, id string) (attribute.KeyValue, bool) {
	if id == "" {
		return attribute.KeyValue{}, false
	}
	switch {
	case strings.HasPrefix(route, "/v1/jobs/"):
		return JobID(id), true
	case strings.HasPrefix(route, "/v1/workers/"):
		return WorkerID(id), true
	case strings.HasPrefix(route, "/v1/plugins/"):
		return PluginID(id), true
	case strings.HasPrefix(route, "/v1/tasks/"):
		return TaskID(id), true
	}
	return attribute.KeyValue{}, false
}
