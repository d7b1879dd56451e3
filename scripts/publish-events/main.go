package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
)

// Dev helper: publishes a burst of synthetic contest envelopes to the
// realtime topic so a Kafka-sourced mirror can be exercised locally.
func main() {
	godotenv.Load("../../.env")

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := os.Getenv("KAFKA_TOPICS")
	if topic == "" {
		topic = "realtime.events"
	}
	contestID := "contest-demo"
	if len(os.Args) > 1 {
		contestID = os.Args[1]
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer writer.Close()

	now := time.Now().UTC()
	frames := []map[string]interface{}{
		{
			"type":      "contest_started",
			"contestId": contestID,
			"data":      map[string]interface{}{"title": "Demo Contest", "startTime": now},
			"timestamp": now,
		},
		{
			"type":      "participant_joined",
			"contestId": contestID,
			"data":      map[string]interface{}{"userId": uuid.New().String(), "username": "alice"},
			"timestamp": now.Add(time.Second),
		},
		{
			"type":      "timer_updated",
			"contestId": contestID,
			"data":      map[string]interface{}{"timeRemainingSeconds": 600, "isPaused": false},
			"timestamp": now.Add(2 * time.Second),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, frame := range frames {
		value, err := json.Marshal(frame)
		if err != nil {
			fmt.Printf("Error marshaling frame: %v\n", err)
			os.Exit(1)
		}
		if err := writer.WriteMessages(ctx, kafka.Message{Key: []byte(contestID), Value: value}); err != nil {
			fmt.Printf("Error writing message: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("published %s\n", frame["type"])
	}
}
