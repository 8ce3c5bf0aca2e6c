// Package replicator is a minimal example bus-replication consumer:
// it drives an SDTL channel through internal/upstream's driver
// contract, republishing inbound payloads into Redis and draining a
// Redis list for outbound commands. It exists to exercise the
// upstream contract end-to-end against a real media link and to give
// the pack's Redis/CBOR dependencies a concrete, exercised home; it
// is not part of the SDTL transport core.
package replicator

import (
	"log"
	"time"

	"github.com/librescoot/sdtl/internal/upstream"
)

// Replicator wires one upstream.Driver to one Redis connection.
// Grounded on pkg/service/Service's redis+usock field pair and its
// WatchRedisCommands/SubscribeToRedisChannels goroutines.
type Replicator struct {
	drv   *upstream.Driver
	redis *RedisClient
	log   *log.Logger

	stopCh chan struct{}
}

// New creates a Replicator over an already-connected upstream driver
// and Redis client.
func New(drv *upstream.Driver, redisClient *RedisClient, logger *log.Logger) *Replicator {
	if logger == nil {
		logger = log.Default()
	}
	return &Replicator{
		drv:    drv,
		redis:  redisClient,
		log:    logger,
		stopCh: make(chan struct{}),
	}
}

// Stop signals both loops to exit at their next opportunity.
func (r *Replicator) Stop() {
	close(r.stopCh)
}

// WatchCommands drains commandListKey with BRPOP, CBOR-decodes each
// value as an Envelope, and forwards it to the upstream channel.
// Mirrors WatchRedisCommands's for-select-default-BRPOP shape, generalized
// from a fixed command-name switch to a self-describing CBOR envelope.
func (r *Replicator) WatchCommands(commandListKey string) {
	r.log.Printf("replicator: watching redis list %q", commandListKey)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		result, err := r.redis.BRPop(0, commandListKey)
		if err != nil {
			time.Sleep(time.Second)
			continue
		}
		if result == nil {
			continue
		}

		env, err := DecodeEnvelope([]byte(result[1]))
		if err != nil {
			r.log.Printf("replicator: bad envelope on %s: %v", commandListKey, err)
			continue
		}

		payload, err := env.Encode()
		if err != nil {
			r.log.Printf("replicator: re-encode envelope: %v", err)
			continue
		}

		if _, res := r.drv.Send(payload); res != upstream.Ok {
			r.log.Printf("replicator: send to upstream failed: %v", res)
		}
	}
}

// Run reads inbound SDTL payloads and republishes each as a Redis
// hash write + pub/sub notification, mirroring the BLE service's
// Update*/WriteAndPublishString idiom but generic over any Envelope
// rather than one fixed per vehicle-state field.
func (r *Replicator) Run(recvBufSize int) {
	buf := make([]byte, recvBufSize)

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		n, res := r.drv.Recv(buf, time.Second)
		switch res {
		case upstream.Ok:
		case upstream.Timedout:
			continue
		case upstream.ResetCmd:
			r.log.Printf("replicator: upstream channel reset, clearing local state")
			r.drv.Command(upstream.CmdResetLocalState)
			continue
		default:
			r.log.Printf("replicator: recv error: %v", res)
			continue
		}

		env, err := DecodeEnvelope(buf[:n])
		if err != nil {
			r.log.Printf("replicator: bad inbound payload: %v", err)
			continue
		}

		if err := r.redis.WriteAndPublish(env.Key, env.Field, buf[:n]); err != nil {
			r.log.Printf("replicator: redis write failed: %v", err)
		}
	}
}
