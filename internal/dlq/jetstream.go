package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/gradersync/internal/logging"
	"github.com/telhawk-systems/gradersync/internal/model"
)

// Stream layout for the JetStream backend.
const (
	StreamName    = "GRADERSYNC_DLQ"
	SubjectPrefix = "gradersync.dlq"
)

// JetStreamQueue publishes rejected attempts to a NATS JetStream stream.
// Safe to share across concurrent job runs on different hosts.
type JetStreamQueue struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	stream  jetstream.Stream
	logger  *logging.Logger
	written uint64
}

// NewJetStreamQueue connects to NATS and creates or updates the DLQ stream.
func NewJetStreamQueue(ctx context.Context, url string, logger *logging.Logger) (*JetStreamQueue, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	conn, err := nats.Connect(url,
		nats.Name("gradersync"),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger.InfoContext(ctx, "DLQ JetStream stream ready", "stream", StreamName)

	return &JetStreamQueue{conn: conn, js: js, stream: stream, logger: logger}, nil
}

// Subject returns the publish subject for a rejection reason.
func Subject(reason string) string {
	if reason == "" {
		reason = "unknown"
	}
	// Subject tokens cannot contain separators or wildcards.
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, reason)
	return SubjectPrefix + "." + token
}

// Write publishes a rejected attempt and waits for the stream ack.
func (q *JetStreamQueue) Write(ctx context.Context, rej model.Rejection) error {
	if q == nil {
		return nil
	}

	data, err := json.Marshal(rej)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	if _, err := q.js.Publish(ctx, Subject(rej.Reason), data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	atomic.AddUint64(&q.written, 1)
	return nil
}

// List reads up to limit entries through an ephemeral consumer.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]model.Rejection, error) {
	if q == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var out []model.Rejection
	for msg := range msgs.Messages() {
		var rej model.Rejection
		if err := json.Unmarshal(msg.Data(), &rej); err != nil {
			q.logger.WarnContext(ctx, "failed to parse dlq message", logging.Error(err))
			continue
		}
		out = append(out, rej)
	}
	if err := msgs.Error(); err != nil {
		q.logger.WarnContext(ctx, "dlq fetch completed with error", logging.Error(err))
	}

	return out, nil
}

// Purge removes every message from the stream.
func (q *JetStreamQueue) Purge(ctx context.Context) (int, error) {
	if q == nil {
		return 0, ErrDisabled
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("read dlq stream info: %w", err)
	}
	if err := q.stream.Purge(ctx); err != nil {
		return 0, fmt.Errorf("purge dlq stream: %w", err)
	}

	n := int(info.State.Msgs)
	q.logger.InfoContext(ctx, "dlq purged", logging.Count(n))
	return n, nil
}

func (q *JetStreamQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	return q.conn.Drain()
}
