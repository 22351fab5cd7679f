package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/event"
)

// The demo mocks a chat backend that pushes events to kafka for the minichat
// feed: a bot posts into a conversation and types before every message.

// kafka-topics.sh --bootstrap-server localhost:9092 --topic minichat-events --create
// kafka-topics.sh --bootstrap-server localhost:9092 --topic minichat-events --delete

var (
	kafkaBrokers   = flag.String("kafka-brokers", "127.0.0.1:9092", "kafka brokers, ',' delimited")
	kafkaTopic     = flag.String("kafka-topic", "minichat-events", "event topic")
	conversationID = flag.String("conversation", "c1", "conversation id to post into")
	botID          = flag.String("bot", "bot", "sender user id")
	recipients     = flag.String("to", "u1,u2", "comma separated recipient user ids")
	tickerDuration = flag.Duration("ticker-duration", 30*time.Second, "ticker duration")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if len(*kafkaBrokers) == 0 {
		glog.Fatal("--kafka-brokers is required")
	}
	to := strings.Split(*recipients, ",")

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  strings.Split(*kafkaBrokers, ","),
		Topic:    *kafkaTopic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})
	defer w.Close()

	ticker := time.NewTicker(*tickerDuration)
	defer ticker.Stop()

	var id int64
	for range ticker.C {
		id++
		events := []event.Event{
			event.UserOnline{UserID: *botID, LastActive: time.Now()},
			event.Typing{ConversationID: *conversationID, UserID: *botID, UserName: "Demo Bot"},
			event.NewMessage{
				ConversationID: *conversationID,
				Message: chatstore.Message{
					ID:             id,
					ConversationID: *conversationID,
					SenderID:       *botID,
					Content:        fmt.Sprintf("hello #%d", id),
					Kind:           chatstore.KindText,
					CreatedAt:      time.Now(),
				},
			},
		}

		msgs := make([]kafka.Message, 0, len(events))
		for _, ev := range events {
			value, err := event.Encode(ev, to...)
			if err != nil {
				glog.Fatalf("encode %s: %v", ev.Kind(), err)
			}
			msgs = append(msgs, kafka.Message{
				Key:   []byte(*conversationID),
				Value: value,
			})
		}
		if err := w.WriteMessages(context.Background(), msgs...); err != nil {
			glog.Errorf("write: %v", err)
			continue
		}
		glog.Infof("pushed message %d to %v", id, to)
	}
}
