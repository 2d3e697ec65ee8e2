package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Compile-time interface check.
var _ Hook = (*OTelHook)(nil)

// OTelHook exports mining telemetry to an OpenTelemetry collector. One
// root span covers the whole observation session; discoveries, profile
// extractions and rate-limit hits become span events.
type OTelHook struct {
	opts           OTelOptions
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer

	mu          sync.Mutex
	sessionSpan trace.Span
	closed      bool

	profiles   int
	identities int
	rateLimits int
}

// OTelOptions configures the OpenTelemetry hook behavior.
type OTelOptions struct {
	// Endpoint is the OTLP endpoint (e.g., "localhost:4317").
	Endpoint string

	// ServiceName is the service name for traces (default: "tapminer").
	ServiceName string

	// Insecure uses insecure connection (no TLS).
	Insecure bool

	// Headers contains additional headers for the OTLP exporter.
	Headers map[string]string

	// ShutdownTimeout is the timeout for graceful shutdown (default: 5s).
	ShutdownTimeout time.Duration

	// ConnectionTimeout is the timeout for establishing connection (default: 10s).
	ConnectionTimeout time.Duration
}

// NewOTelHook creates a hook exporting telemetry to the configured
// endpoint. The exporter connects immediately but handles connection
// failures gracefully without blocking observation.
func NewOTelHook(opts OTelOptions) (*OTelHook, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "tapminer"
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "localhost:4317"
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.ConnectionTimeout == 0 {
		opts.ConnectionTimeout = 10 * time.Second
	}

	grpcOpts := []grpc.DialOption{}
	if opts.Insecure {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithDialOption(grpcOpts...),
	}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	if len(opts.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(opts.Headers))
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectionTimeout)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		attribute.String("service.component", "miner"),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)

	return &OTelHook{
		opts:           opts,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer("tapminer/dispatch"),
	}, nil
}

// OnEvent records the event on the session span.
func (h *OTelHook) OnEvent(ctx context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	if h.sessionSpan == nil {
		// Lazy root span: the session starts with the first observation
		// worth telling anyone about.
		_, h.sessionSpan = h.tracer.Start(ctx, "tapminer.session",
			trace.WithSpanKind(trace.SpanKindInternal))
	}

	switch e := event.(type) {
	case *ProfileEvent:
		h.profiles++
		h.sessionSpan.AddEvent("profile_extracted", trace.WithAttributes(
			attribute.String("source", e.Source),
			attribute.String("username", e.Profile.Username),
			attribute.Bool("id_only", e.Profile.IDOnly),
		))
	case *IdentitiesEvent:
		h.identities += len(e.Pairs)
		h.sessionSpan.AddEvent("identities_discovered", trace.WithAttributes(
			attribute.Int("count", len(e.Pairs)),
		))
	case *RateLimitEvent:
		h.rateLimits++
		h.sessionSpan.AddEvent("rate_limited", trace.WithAttributes(
			attribute.String("url", e.URL),
			attribute.String("target_id", e.TargetID),
		))
		h.sessionSpan.SetStatus(codes.Error, "host rate limit hit")
	}
	return nil
}

// EventTypes returns the event types this hook handles.
func (h *OTelHook) EventTypes() []EventType {
	return []EventType{
		EventProfileExtracted,
		EventIdentitiesDiscovered,
		EventRateLimited,
	}
}

// Close ends the session span and flushes pending telemetry.
func (h *OTelHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if h.sessionSpan != nil {
		h.sessionSpan.SetAttributes(
			attribute.Int("totals.profiles", h.profiles),
			attribute.Int("totals.identities", h.identities),
			attribute.Int("totals.rate_limits", h.rateLimits),
		)
		h.sessionSpan.End()
		h.sessionSpan = nil
	}

	if h.tracerProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.ShutdownTimeout)
		defer cancel()
		if err := h.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("otel: shutdown tracer provider: %w", err)
		}
	}
	return nil
}

// Endpoint returns the OTLP endpoint being used.
func (h *OTelHook) Endpoint() string { return h.opts.Endpoint }
