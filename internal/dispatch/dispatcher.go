// Package dispatch turns logical messages into gateway sends.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/physio-messaging/internal/analytics"
	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/internal/messaging/templates"
	"github.com/wolfman30/physio-messaging/internal/observability/metrics"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

var tracer = otel.Tracer("physio.internal.dispatch")

// DefaultTimeout bounds a single gateway call.
const DefaultTimeout = 15 * time.Second

// Recorder receives dispatch outcomes for today's analytics.
type Recorder interface {
	IncrementNow(tenantID string, kind analytics.Kind) error
}

// Options tune a Dispatcher.
type Options struct {
	Timeout       time.Duration
	DefaultLocale string
	Metrics       *metrics.MessagingMetrics
}

// Dispatcher validates, renders and sends one message at a time. It never retries.
type Dispatcher struct {
	gateway  messaging.Gateway
	catalog  *templates.Catalog
	recorder Recorder
	timeout  time.Duration
	locale   string
	metrics  *metrics.MessagingMetrics
	logger   *logging.Logger
}

func New(gateway messaging.Gateway, catalog *templates.Catalog, recorder Recorder, opts Options, logger *logging.Logger) *Dispatcher {
	if gateway == nil {
		panic("dispatch: gateway required")
	}
	if catalog == nil {
		catalog = templates.DefaultCatalog()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = "pt_BR"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		gateway:  gateway,
		catalog:  catalog,
		recorder: recorder,
		timeout:  opts.Timeout,
		locale:   opts.DefaultLocale,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Dispatch sends msg on behalf of tenantID and returns the gateway's delivery id.
// Gateway failures are returned as *messaging.GatewayError.
func (d *Dispatcher) Dispatch(ctx context.Context, msg messaging.LogicalMessage, tenantID string) (string, error) {
	ctx, span := tracer.Start(ctx, "messaging.dispatch", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("physio.tenant_id", tenantID),
		attribute.String("physio.message_kind", string(msg.Kind)),
	)

	req, err := d.build(msg, tenantID)
	if err != nil {
		d.fail(span, tenantID, msg.Kind, err)
		return "", err
	}

	start := time.Now()
	deliveryID, err := d.send(ctx, req)
	d.metrics.ObserveDispatchLatency(string(req.Kind), time.Since(start).Seconds())
	if err != nil {
		var gwErr *messaging.GatewayError
		if !errors.As(err, &gwErr) {
			gwErr = &messaging.GatewayError{Err: err}
		}
		d.fail(span, tenantID, msg.Kind, gwErr)
		return "", gwErr
	}

	d.record(tenantID, analytics.KindSent)
	d.metrics.ObserveOutbound(string(req.Kind), "sent")
	span.SetAttributes(attribute.String("physio.delivery_id", deliveryID))
	d.logger.Debug("message dispatched", "tenant_id", tenantID, "kind", string(req.Kind), "delivery_id", deliveryID)
	return deliveryID, nil
}

// send bounds the gateway call by the configured timeout even if the gateway
// ignores its context.
func (d *Dispatcher) send(ctx context.Context, req messaging.OutboundRequest) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		id  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := d.gateway.Send(sendCtx, req)
		done <- result{id: id, err: err}
	}()

	select {
	case res := <-done:
		return res.id, res.err
	case <-sendCtx.Done():
		return "", fmt.Errorf("gateway send aborted after %s: %w", d.timeout, sendCtx.Err())
	}
}

func (d *Dispatcher) build(msg messaging.LogicalMessage, tenantID string) (messaging.OutboundRequest, error) {
	to, ok := messaging.NormalizeBR(msg.To)
	if !ok {
		return messaging.OutboundRequest{}, fmt.Errorf("dispatch: %q: %w", messaging.MaskPhone(msg.To), messaging.ErrInvalidPhone)
	}
	req := messaging.OutboundRequest{TenantID: tenantID, To: to, Kind: msg.Kind}

	switch msg.Kind {
	case messaging.KindText:
		req.Text = msg.Text
	case messaging.KindTemplate:
		if msg.Template == nil {
			return messaging.OutboundRequest{}, fmt.Errorf("dispatch: template reference missing: %w", messaging.ErrTemplateNotFound)
		}
		locale := msg.Template.Language
		if locale == "" {
			locale = d.locale
		}
		body, err := d.catalog.Render(msg.Template.Name, locale, msg.Template.Params)
		if err != nil {
			return messaging.OutboundRequest{}, fmt.Errorf("dispatch: %w", err)
		}
		tmpl, _ := d.catalog.Lookup(msg.Template.Name, locale)
		req.Template = &messaging.TemplatePayload{
			Name:         tmpl.Name,
			Language:     tmpl.Language,
			Params:       append([]string(nil), msg.Template.Params...),
			RenderedBody: body,
		}
	case messaging.KindMedia:
		if msg.Media == nil || msg.Media.URL == "" {
			return messaging.OutboundRequest{}, fmt.Errorf("dispatch: %w", messaging.ErrMissingMedia)
		}
		media := *msg.Media
		switch media.Type {
		case messaging.MediaImage, messaging.MediaVideo, messaging.MediaDocument, messaging.MediaAudio:
		default:
			return messaging.OutboundRequest{}, fmt.Errorf("dispatch: media type %q: %w", media.Type, messaging.ErrUnsupportedKind)
		}
		if !media.Type.SupportsCaption() {
			media.Caption = ""
		}
		req.Media = &media
	case messaging.KindInteractive:
		req.Interactive = msg.Interactive
	default:
		return messaging.OutboundRequest{}, fmt.Errorf("dispatch: kind %q: %w", msg.Kind, messaging.ErrUnsupportedKind)
	}
	return req, nil
}

func (d *Dispatcher) fail(span trace.Span, tenantID string, kind messaging.Kind, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "dispatch failed")
	d.record(tenantID, analytics.KindFailed)
	d.metrics.ObserveOutbound(string(kind), "failed")
	d.logger.Warn("message dispatch failed", "tenant_id", tenantID, "kind", string(kind), "error", err)
}

func (d *Dispatcher) record(tenantID string, kind analytics.Kind) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.IncrementNow(tenantID, kind); err != nil {
		d.logger.Error("analytics increment failed", "tenant_id", tenantID, "kind", string(kind), "error", err)
	}
}
