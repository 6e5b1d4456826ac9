package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names, one per span-producing component.
const (
	TracerHTTP    = "chatmerge/server"
	TracerYouTube = "chatmerge/youtube-poller"
	TracerOAuth   = "chatmerge/oauth"
)

// TracingOptions describe the running instance on the exported resource.
type TracingOptions struct {
	ServiceVersion string
	// SessionStore is "memory" or "postgres".
	SessionStore string
	// YouTubeIncremental mirrors YT_INCREMENTAL.
	YouTubeIncremental bool
}

var tracerProvider *sdktrace.TracerProvider

// InitTracing exports spans over OTLP/gRPC to OTEL_EXPORTER_OTLP_ENDPOINT.
// Without that variable tracing stays a no-op. OTEL_TRACES_SAMPLER_ARG sets
// the sampled ratio (default 1) and OTEL_EXPORTER_OTLP_INSECURE=0 turns on TLS.
func InitTracing(opts TracingOptions) (func(), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func() {}, nil
	}
	ratio, err := samplerRatio(os.Getenv("OTEL_TRACES_SAMPLER_ARG"))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "0" {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttrs(opts)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tracerProvider)

	slog.Info("tracing initialized", slog.String("endpoint", endpoint), slog.Float64("sample_ratio", ratio))

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown tracer provider", slog.Any("err", err))
		}
	}, nil
}

func resourceAttrs(opts TracingOptions) []attribute.KeyValue {
	version := opts.ServiceVersion
	if version == "" {
		version = "dev"
	}
	store := opts.SessionStore
	if store == "" {
		store = "memory"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName("chatmerge"),
		semconv.ServiceVersion(version),
		attribute.String("chatmerge.session_store", store),
		attribute.Bool("chatmerge.youtube_incremental", opts.YouTubeIncremental),
	}
	if env := os.Getenv("ENV"); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	return attrs
}

// samplerRatio parses a ratio in [0,1]; empty means sample everything.
func samplerRatio(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 1, nil
	}
	r, err := strconv.ParseFloat(v, 64)
	if err != nil || r < 0 || r > 1 {
		return 0, fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG %q (ratio 0..1)", v)
	}
	return r, nil
}

// StartSpan starts a span on tracerName, tagged with the correlation id.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets error status.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SetSpanHTTPStatus records the response status code; 4xx and 5xx mark the
// span as failed.
func SetSpanHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
	}
}

func HTTPMethodAttr(method string) attribute.KeyValue { return attribute.String("http.method", method) }

func HTTPRouteAttr(route string) attribute.KeyValue { return attribute.String("http.route", route) }

func PlatformAttr(platform string) attribute.KeyValue {
	return attribute.String("chat.platform", platform)
}

// OAuthResultAttr tags an OAuth callback span with its outcome.
func OAuthResultAttr(result string) attribute.KeyValue {
	return attribute.String("oauth.result", result)
}
