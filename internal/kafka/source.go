package kafka

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Source consumes push envelopes from Kafka topics and exposes them as raw
// frames, so a consumer colocated with the backend can feed the dispatcher
// without a websocket hop. The envelope format on the topic is identical to
// the push channel wire format.
type Source struct {
	readers []*kafka.Reader
	frames  chan []byte
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewSource(brokers []string, groupID string, topics []string, logger zerolog.Logger) *Source {
	ctx, cancel := context.WithCancel(context.Background())

	readers := make([]*kafka.Reader, 0, len(topics))
	for _, topic := range topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        groupID,
			Topic:          topic,
			MinBytes:       10e3,
			MaxBytes:       10e6,
			MaxWait:        1 * time.Second,
			CommitInterval: 1 * time.Second,
			StartOffset:    kafka.LastOffset,
		})
		readers = append(readers, reader)
	}

	return &Source{
		readers: readers,
		frames:  make(chan []byte, 256),
		logger:  logger.With().Str("component", "kafka-source").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Frames implements the dispatcher's Source interface.
func (s *Source) Frames() <-chan []byte { return s.frames }

func (s *Source) Start() {
	for _, reader := range s.readers {
		go s.consumeFromReader(reader)
	}
	s.logger.Info().Int("topics", len(s.readers)).Msg("Kafka source started")
}

func (s *Source) consumeFromReader(reader *kafka.Reader) {
	topic := reader.Config().Topic
	s.logger.Info().Str("topic", topic).Msg("Consuming topic")

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			msg, err := reader.FetchMessage(s.ctx)
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to fetch message")
				time.Sleep(1 * time.Second)
				continue
			}

			select {
			case s.frames <- msg.Value:
			case <-s.ctx.Done():
				return
			}

			if err := reader.CommitMessages(s.ctx, msg); err != nil && s.ctx.Err() == nil {
				s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to commit message")
			}
		}
	}
}

func (s *Source) Stop() error {
	s.cancel()

	var lastErr error
	for _, reader := range s.readers {
		if err := reader.Close(); err != nil {
			lastErr = err
			s.logger.Error().Err(err).Msg("Failed to close reader")
		}
	}

	s.logger.Info().Msg("Kafka source stopped")
	return lastErr
}
