package feed

import (
	"context"

	"github.com/segmentio/kafka-go"
)

//go:generate mockgen -destination=mock/mock_feed.go -package=mock github.com/mqy/minichat/feed IKafkaReader,IKafkaWriter

type IKafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}
