// Command sdtlbridge is an example SDTL consumer: it opens a serial
// link, runs one SDTL service with one reliable channel over it, and
// replicates that channel's traffic to/from Redis. It demonstrates
// spec §6.2's upstream driver contract end to end; it is not part of
// the transport core.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/librescoot/sdtl/internal/channel"
	"github.com/librescoot/sdtl/internal/media"
	"github.com/librescoot/sdtl/internal/replicator"
	"github.com/librescoot/sdtl/internal/service"
	"github.com/librescoot/sdtl/internal/upstream"
)

var (
	serialDevice   = flag.String("serial", "/dev/ttymxc1", "Serial device path")
	baudRate       = flag.Int("baud", 57600, "Serial baud rate")
	mtu            = flag.Int("mtu", service.DefaultMTU, "SDTL service MTU")
	serviceName    = flag.String("service-name", "sdtlbridge", "SDTL service registry name")
	channelName    = flag.String("channel-name", "data", "SDTL reliable channel name")
	redisAddr      = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass      = flag.String("redis-pass", "", "Redis password")
	redisDB        = flag.Int("redis-db", 0, "Redis database number")
	commandListKey = flag.String("command-list-key", "sdtlbridge:commands", "Redis list key for outbound commands")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting sdtlbridge")
	log.Printf("Serial device: %s, baud: %d, mtu: %d", *serialDevice, *baudRate, *mtu)
	log.Printf("Redis address: %s", *redisAddr)

	redisClient, err := replicator.NewRedisClient(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("Connected to Redis")

	svc := service.New(*serviceName, *mtu, &media.SerialDriver{}, nil)
	if _, err := svc.CreateChannel(channel.Config{
		ID:       1,
		Name:     *channelName,
		Type:     channel.Reliable,
		BaudRate: *baudRate,
	}); err != nil {
		log.Fatalf("Failed to create channel: %v", err)
	}

	if err := svc.Start(*serialDevice, media.SerialParams{BaudRate: *baudRate}); err != nil {
		log.Fatalf("Failed to start SDTL service: %v", err)
	}
	defer svc.Stop()
	log.Printf("SDTL service %q started on %s", *serviceName, *serialDevice)

	drv, err := upstream.Connect(*serviceName, *channelName)
	if err != nil {
		log.Fatalf("Failed to connect upstream driver: %v", err)
	}

	rep := replicator.New(drv, redisClient, nil)
	go rep.WatchCommands(*commandListKey)
	go rep.Run(*mtu)

	log.Printf("Replicating channel %q <-> redis list %q", *channelName, *commandListKey)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Shutting down...")
	rep.Stop()
	time.Sleep(100 * time.Millisecond)
}
