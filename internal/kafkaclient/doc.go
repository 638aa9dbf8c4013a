// Package kafkaclient holds what the sarama and franz-go drivers on both the
// source and the sink side share: client options built from config.Broker
// and classification of broker errors into retriable and permanent.
package kafkaclient
