// Package feed is a push source that consumes chat events from a kafka
// topic. Headless deployments (bots, bridges) use it instead of, or next to,
// the websocket transport.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	kafka "github.com/segmentio/kafka-go"

	"github.com/mqy/minichat/backoff"
	"github.com/mqy/minichat/event"
)

const (
	DefaultValueMaxBytes = 64 * 1024

	// kafka header carrying the sender of a command record.
	UidHeader = "x-uid"

	writeTimeout = 3 * time.Second
)

var records = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "minichat",
	Subsystem: "feed",
	Name:      "records_total",
	Help:      "Number of kafka records consumed, by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(records)
}

type Config struct {
	// UserID is the local user; only records addressed to it are delivered.
	UserID string

	// Records with a larger value are dropped.
	ValueMaxBytes int

	// MaxAge drops records older than this when positive.
	MaxAge time.Duration

	OnEvent func(event.Event)
}

// Feed consumes events from a reader and writes client commands to an
// optional writer.
type Feed struct {
	cfg    Config
	reader IKafkaReader
	writer IKafkaWriter
	wg     sync.WaitGroup
}

func New(cfg Config, reader IKafkaReader, writer IKafkaWriter) *Feed {
	if cfg.ValueMaxBytes <= 0 {
		cfg.ValueMaxBytes = DefaultValueMaxBytes
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(event.Event) {}
	}
	return &Feed{cfg: cfg, reader: reader, writer: writer}
}

type KafkaConfig struct {
	Brokers      []string
	EventTopic   string
	CommandTopic string // optional
	GroupID      string
}

// NewKafka builds a Feed on kafka-go readers and writers.
func NewKafka(kc KafkaConfig, cfg Config) *Feed {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kc.Brokers,
		Topic:    kc.EventTopic,
		GroupID:  kc.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	var writer IKafkaWriter
	if kc.CommandTopic != "" {
		writer = kafka.NewWriter(kafka.WriterConfig{
			Brokers:  kc.Brokers,
			Topic:    kc.CommandTopic,
			Balancer: &kafka.Hash{},
			Dialer: &kafka.Dialer{
				Timeout:   10 * time.Second,
				DualStack: true,
			},
		})
	}
	return New(cfg, reader, writer)
}

// Run consumes until ctx is done, then closes the reader and writer.
func (f *Feed) Run(ctx context.Context) {
	glog.Info("feed: run")

	f.wg.Add(1)
	go f.consumeLoop(ctx)

	<-ctx.Done()

	glog.Info("feed: stopping")
	_ = f.reader.Close()
	if f.writer != nil {
		_ = f.writer.Close()
	}
	f.wg.Wait()
	glog.Info("feed: stopped")
}

func (f *Feed) consumeLoop(ctx context.Context) {
	glog.Info("feed: consume loop enter")
	defer func() {
		glog.Info("feed: consume loop exited")
		f.wg.Done()
	}()

	var sleep time.Duration

	for {
		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				glog.V(5).Info("feed: fetch was cancelled")
				return
			}
			glog.Errorf("feed: fetch from kafka err: %v", err)
			if !backoff.Sleep(ctx, &sleep) {
				return
			}
			continue
		}
		sleep = 0

		if e := f.decode(&msg); e != nil {
			f.cfg.OnEvent(e)
		}

		// The record is committed whether delivered or skipped. If the commit
		// fails the record is fetched again; handlers are idempotent.
		for {
			err := f.reader.CommitMessages(ctx, msg)
			if err == nil {
				sleep = 0
				break
			}
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				glog.V(5).Info("feed: commit was cancelled")
				return
			}
			glog.Errorf("feed: commit to kafka err: %v", err)
			if !backoff.Sleep(ctx, &sleep) {
				return
			}
		}
	}
}

// decode returns the event of msg, or nil when the record is malformed, too
// old, too large or not addressed to the local user.
func (f *Feed) decode(msg *kafka.Message) event.Event {
	if len(msg.Value) > f.cfg.ValueMaxBytes {
		glog.Errorf("feed: kafka value out of limit, offset: %d, size: %d", msg.Offset, len(msg.Value))
		records.WithLabelValues("oversize").Inc()
		return nil
	}
	if f.cfg.MaxAge > 0 && !msg.Time.IsZero() && time.Since(msg.Time) > f.cfg.MaxAge {
		glog.Errorf("feed: ignore incoming message because too old, offset: %d, time: %s", msg.Offset, msg.Time)
		records.WithLabelValues("expired").Inc()
		return nil
	}

	var env event.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		glog.Errorf("feed: failed to unmarshal kafka msg value: `%s`, error: %v", msg.Value, err)
		records.WithLabelValues("malformed").Inc()
		return nil
	}
	if !addressedTo(env.To, f.cfg.UserID) {
		glog.V(5).Infof("feed: skip offset %d, not addressed to %s", msg.Offset, f.cfg.UserID)
		records.WithLabelValues("skipped").Inc()
		return nil
	}
	e, err := event.DecodeEnvelope(&env)
	if err != nil {
		glog.Errorf("feed: drop offset %d: %v", msg.Offset, err)
		records.WithLabelValues("malformed").Inc()
		return nil
	}
	records.WithLabelValues("delivered").Inc()
	return e
}

func addressedTo(to []string, uid string) bool {
	for _, v := range to {
		if v == uid {
			return true
		}
	}
	return false
}

// Send writes a client command to the command topic, keyed by conversation.
// Without a command topic commands are dropped.
func (f *Feed) Send(cmd event.Command) error {
	if f.writer == nil {
		glog.V(5).Infof("feed: drop command %s, no command topic", cmd.Kind())
		return nil
	}
	value, err := event.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if len(value) > f.cfg.ValueMaxBytes {
		return fmt.Errorf("feed: command exceeds max limit: %d bytes", f.cfg.ValueMaxBytes)
	}

	km := kafka.Message{
		Key:     []byte(event.Room(cmd)),
		Value:   value,
		Headers: []kafka.Header{{Key: UidHeader, Value: []byte(f.cfg.UserID)}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := f.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("error write to kafka: %w", err)
	}
	return nil
}
