package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/resilience"
)

const (
	DefaultRequestSubject = "evassist.ingest"
	DefaultReportSubject  = "evassist.ingest.report"
	DefaultQueueGroup     = "ingest-workers"
)

// Queue carries ingestion triggers to workers and their reports back out.
type Queue struct {
	conn           *nats.Conn
	requestSubject string
	reportSubject  string
	queueGroup     string
	executor       *resilience.Executor
	logger         *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor

	RequestSubject string
	ReportSubject  string
	QueueGroup     string
	Logger         *slog.Logger
}

func NewWithOptions(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("evassist"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		requestSubject: valueOr(options.RequestSubject, DefaultRequestSubject),
		reportSubject:  valueOr(options.ReportSubject, DefaultReportSubject),
		queueGroup:     valueOr(options.QueueGroup, DefaultQueueGroup),
		executor:       options.ResilienceExecutor,
		logger:         logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishIngestRequest(ctx context.Context, req domain.IngestRequest) error {
	msg, err := newMessage(ctx, q.requestSubject, req)
	if err != nil {
		return err
	}
	return q.publish(ctx, "nats.publish_ingest", msg)
}

func (q *Queue) PublishIngestReport(ctx context.Context, report domain.IngestionReport) error {
	msg, err := newMessage(ctx, q.reportSubject, report)
	if err != nil {
		return err
	}
	return q.publish(ctx, "nats.publish_report", msg)
}

func (q *Queue) publish(ctx context.Context, operation string, msg *nats.Msg) error {
	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, operation, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(operation, err)
	}
	return nil
}

// SubscribeIngestRequests blocks until ctx is done, then drains the subscription.
func (q *Queue) SubscribeIngestRequests(ctx context.Context, handler func(context.Context, domain.IngestRequest) error) error {
	sub, err := q.conn.QueueSubscribe(q.requestSubject, q.queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		msgCtx, req, err := decodeIngestRequest(ctx, msg)
		if err != nil {
			q.logger.Warn("ingest_request_dropped", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(msgCtx)
		defer cancel()
		if err := handler(handlerCtx, req); err != nil {
			q.logger.Error("ingest_request_failed", "request_id", req.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// newMessage encodes payload as JSON and injects the trace context into headers.
func newMessage(ctx context.Context, subject string, payload any) (*nats.Msg, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

func decodeIngestRequest(parent context.Context, msg *nats.Msg) (context.Context, domain.IngestRequest, error) {
	ctx := otel.GetTextMapPropagator().Extract(parent, (*headerCarrier)(msg))

	var req domain.IngestRequest
	if len(msg.Data) == 0 {
		return ctx, req, nil
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return ctx, domain.IngestRequest{}, fmt.Errorf("decode ingest request: %w", err)
	}
	return ctx, req, nil
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// headerCarrier adapts nats.Msg headers to the OpenTelemetry TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
