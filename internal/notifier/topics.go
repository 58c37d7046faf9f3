package notifier

import (
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// EnsureTopicExists creates the notifications topic if it doesn't
// already exist.
func EnsureTopicExists(brokers []string, topic string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", controller.Host)
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		if err.Error() == "kafka server: topic already exists" {
			log.Printf("Topic %s already exists", topic)
			return nil
		}
		return err
	}

	log.Printf("Created topic: %s", topic)
	time.Sleep(1 * time.Second)
	return nil
}
