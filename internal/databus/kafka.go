package databus

import (
	"fmt"
	"strings"

	"github.com/Shopify/sarama"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

type Event interface {
	Serialize() []byte
	Topic() string
}

type DataBus struct {
	producer sarama.SyncProducer
}

var producer *DataBus

func InitDataBus(host string) {
	hosts := strings.Split(host, ",")
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	if p, err := sarama.NewSyncProducer(hosts, conf); err != nil {
		log.Fatalf("Failed to create producer: %s", err)
	} else {
		producer = NewDataBus(p)
	}
	log.Info("Kafka producer initialized...")
}

func NewDataBus(p sarama.SyncProducer) *DataBus {
	return &DataBus{producer: p}
}

// GetDataBus returns nil until InitDataBus ran.
func GetDataBus() *DataBus {
	return producer
}

func (db *DataBus) PublishRaw(topic string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	_, _, err := db.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(raw)})
	if err != nil {
		return errors.WrapAndReport(err, "produce message")
	}
	return nil
}

func (db *DataBus) Publish(e Event) (err error) {
	return db.PublishRaw(e.Topic(), e.Serialize())
}

func (db *DataBus) PublishLocal(e Event) (err error) {
	fmt.Printf(" topic: %s\n message: %s\n", e.Topic(), string(e.Serialize()))
	return
}

func (db *DataBus) Close() error {
	return db.producer.Close()
}
