// Package events publishes recorded diffs to Kafka for downstream
// consumers. Publishing is best-effort and off by default; change
// detection never blocks on the broker.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/cespare/xxhash/v2"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/model"
)

// DiffEvent is the wire shape of one recorded diff. The fingerprint is
// stable across retries so consumers can dedupe.
type DiffEvent struct {
	Fingerprint string  `json:"fingerprint"`
	DatasetID   string  `json:"dataset_id"`
	DatasetName string  `json:"dataset_name"`
	DiffID      string  `json:"diff_id"`
	DiffType    string  `json:"diff_type"`
	Confidence  float64 `json:"confidence"`
	CreatedAt   string  `json:"created_at"`
}

type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *slog.Logger

	// optional outcome counter, labels: ok / error
	OnPublish func(outcome string)
}

func New(cfg config.EventsCfg, log *slog.Logger) (*Publisher, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = 3
	sc.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return &Publisher{producer: producer, topic: cfg.Topic, log: log}, nil
}

// NewWithProducer wires an existing producer; tests use sarama's mocks.
func NewWithProducer(p sarama.SyncProducer, topic string, log *slog.Logger) *Publisher {
	return &Publisher{producer: p, topic: topic, log: log}
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}

// PublishDiff sends one diff. Errors are logged, counted and swallowed.
func (p *Publisher) PublishDiff(ctx context.Context, ds *model.Dataset, d *model.Diff) {
	ev := DiffEvent{
		Fingerprint: Fingerprint(ds.ID.String(), d),
		DatasetID:   ds.ID.String(),
		DatasetName: ds.Name,
		DiffID:      d.ID.String(),
		DiffType:    string(d.Type),
		Confidence:  d.ConfidenceScore,
		CreatedAt:   d.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		p.report(ctx, "error", err)
		return
	}

	// keyed by dataset so one dataset's diffs stay ordered
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ds.ID.String()),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		p.report(ctx, "error", err)
		return
	}
	p.report(ctx, "ok", nil)
}

func (p *Publisher) report(ctx context.Context, outcome string, err error) {
	if p.OnPublish != nil {
		p.OnPublish(outcome)
	}
	if err != nil && p.log != nil {
		p.log.WarnContext(ctx, "diff event not published", slog.String("error", err.Error()))
	}
}

// Fingerprint hashes the identity of a logical change, not the diff row:
// re-detecting the same transition yields the same fingerprint.
func Fingerprint(datasetID string, d *model.Diff) string {
	h := xxhash.New()
	_, _ = h.WriteString(datasetID)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(string(d.Type))
	_, _ = h.WriteString("|")
	if d.OldSnapshotID != nil {
		_, _ = h.WriteString(d.OldSnapshotID.String())
	}
	_, _ = h.WriteString("|")
	if d.NewSnapshotID != nil {
		_, _ = h.WriteString(d.NewSnapshotID.String())
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
