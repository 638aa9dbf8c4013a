package kafkaclient

import (
	"crypto/tls"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"streamworker/internal/config"
)

// KgoOpts returns the franz-go client options shared by consumers and
// producers: seed brokers, client id, TLS and SASL.
func KgoOpts(b config.Broker) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(b.BrokerList()...),
		kgo.ClientID(b.ClientID),
	}
	if b.TLS() {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if b.SASL() {
		opts = append(opts, kgo.SASL(plain.Auth{User: b.SASLUser, Pass: b.SASLPass}.AsMechanism()))
	}
	return opts
}

func KgoAcks(acks string) kgo.Acks {
	switch acks {
	case "none":
		return kgo.NoAck()
	case "leader":
		return kgo.LeaderAck()
	default:
		return kgo.AllISRAcks()
	}
}

func KgoCompression(name string) kgo.CompressionCodec {
	switch name {
	case "gzip":
		return kgo.GzipCompression()
	case "snappy":
		return kgo.SnappyCompression()
	case "lz4":
		return kgo.Lz4Compression()
	case "zstd":
		return kgo.ZstdCompression()
	default:
		return kgo.NoCompression()
	}
}
