// Package kafka implements domain.Feed on a Kafka topic.
package kafka

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
)

// Config identifies the feed topic.
type Config struct {
	Brokers []string
	Topic   string
	// Limit caps how many of the newest messages per partition Query reads.
	Limit int
}

// Feed publishes observations to a topic and reads them back by scanning
// each partition from its oldest retained offset to its high watermark.
type Feed struct {
	cfg    Config
	writer *kafkago.Writer
	logger *slog.Logger
}

var _ domain.Feed = (*Feed)(nil)

// NewFeed creates a Kafka-backed feed.
func NewFeed(cfg Config, logger *slog.Logger) *Feed {
	if cfg.Limit <= 0 {
		cfg.Limit = 200
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Feed{cfg: cfg, writer: w, logger: logger}
}

// Publish writes one observation and waits for all in-sync replicas.
func (f *Feed) Publish(ctx context.Context, obs domain.NetworkObservation) error {
	msg, err := serializeToMessage(obs)
	if err != nil {
		return err
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Query reads the retained observations, oldest first.
func (f *Feed) Query(ctx context.Context) ([]domain.NetworkObservation, error) {
	if len(f.cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	conn, err := kafkago.DialContext(ctx, "tcp", f.cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	partitions, err := conn.ReadPartitions(f.cfg.Topic)
	_ = conn.Close()
	if err != nil {
		return nil, fmt.Errorf("read partitions: %w", err)
	}

	var msgs []kafkago.Message
	for _, p := range partitions {
		part, err := f.scanPartition(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("scan partition %d: %w", p.ID, err)
		}
		msgs = append(msgs, part...)
	}
	slices.SortStableFunc(msgs, func(a, b kafkago.Message) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Partition, b.Partition); c != 0 {
			return c
		}
		return cmp.Compare(a.Offset, b.Offset)
	})

	out := make([]domain.NetworkObservation, 0, len(msgs))
	for _, m := range msgs {
		obs, err := decodeMessage(m)
		if err != nil {
			f.logger.Debug("skipping invalid feed message",
				"partition", m.Partition, "offset", m.Offset, "error", err)
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (f *Feed) scanPartition(ctx context.Context, partition int) ([]kafkago.Message, error) {
	leader, err := kafkago.DialLeader(ctx, "tcp", f.cfg.Brokers[0], f.cfg.Topic, partition)
	if err != nil {
		return nil, fmt.Errorf("dial leader: %w", err)
	}
	first, last, err := leader.ReadOffsets()
	_ = leader.Close()
	if err != nil {
		return nil, fmt.Errorf("read offsets: %w", err)
	}
	if last <= first {
		return nil, nil
	}
	start := max(first, last-int64(f.cfg.Limit))

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   f.cfg.Brokers,
		Topic:     f.cfg.Topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer r.Close()
	if err := r.SetOffset(start); err != nil {
		return nil, fmt.Errorf("seek to %d: %w", start, err)
	}

	msgs := make([]kafkago.Message, 0, last-start)
	for off := start; off < last; {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("read message at %d: %w", off, err)
		}
		msgs = append(msgs, m)
		off = m.Offset + 1
	}
	return msgs, nil
}

// Close flushes and closes the producer.
func (f *Feed) Close() error {
	return f.writer.Close()
}

// serializeToMessage marshals an observation into a Kafka message keyed by
// its identity so a network's sightings share a partition.
func serializeToMessage(obs domain.NetworkObservation) (kafkago.Message, error) {
	data, err := json.Marshal(obs)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(obs.IdentityKey()),
		Value: data,
		Time:  obs.ObservedAt,
		Headers: []kafkago.Header{
			{Key: "security", Value: []byte(obs.Security)},
			{Key: "observed_at", Value: []byte(obs.ObservedAt.Format(time.RFC3339))},
		},
	}, nil
}

func decodeMessage(m kafkago.Message) (domain.NetworkObservation, error) {
	return domain.ParseSampleAt(m.Value, m.Time)
}
