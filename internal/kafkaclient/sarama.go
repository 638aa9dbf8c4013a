package kafkaclient

import (
	"crypto/tls"
	"fmt"

	"github.com/IBM/sarama"

	"streamworker/internal/config"
)

// NewSaramaConfig returns a sarama config with version, client id, TLS and
// SASL set from b. Callers fill in the consumer or producer sections.
func NewSaramaConfig(b config.Broker) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(b.Version)
	if err != nil {
		return nil, fmt.Errorf("kafka: broker.version: %w", err)
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = b.ClientID
	if b.TLS() {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if b.SASL() {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User, sc.Net.SASL.Password = b.SASLUser, b.SASLPass
	}
	return sc, nil
}

// SaramaAcks maps producer.acks onto sarama's RequiredAcks.
func SaramaAcks(acks string) sarama.RequiredAcks {
	switch acks {
	case "none":
		return sarama.NoResponse
	case "leader":
		return sarama.WaitForLocal
	default:
		return sarama.WaitForAll
	}
}

func SaramaCompression(name string) sarama.CompressionCodec {
	switch name {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	default:
		return sarama.CompressionNone
	}
}
