// Package framebus carries outbound frames for event-stream clients over watermill,
// either in memory or through Redis Streams.
package framebus

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Settings holds the Redis Streams transport configuration.
type Settings struct {
	RedisEnabled bool   `glazed:"redis-enabled"`
	RedisAddr    string `glazed:"redis-addr"`
	Group        string `glazed:"redis-group"`
	Consumer     string `glazed:"redis-consumer"`
}

const SectionSlug = "redis"

func DefaultSettings() Settings {
	return Settings{RedisAddr: "localhost:6379", Group: "livecoord", Consumer: "frames-1"}
}

// NewSection returns the section describing Settings.
func NewSection() (schema.Section, error) {
	d := DefaultSettings()
	return schema.NewSection(
		SectionSlug,
		"Redis Streams transport for event-stream frames",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Carry event-stream frames over Redis Streams instead of memory")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault(d.RedisAddr),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault(d.Group),
				fields.WithHelp("Redis consumer group")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault(d.Consumer),
				fields.WithHelp("Redis consumer name")),
		),
	)
}

const metaConnID = "conn_id"

func Topic(connID string) string { return "live:" + connID }

// Bus publishes frames per connection and hands out subscribers for them.
type Bus struct {
	settings Settings
	logger   watermill.LoggerAdapter

	pub    message.Publisher
	memory *gochannel.GoChannel
	client *redis.Client
}

func New(s Settings, logger watermill.LoggerAdapter) (*Bus, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	b := &Bus{settings: s, logger: logger}
	if !s.RedisEnabled {
		// publish blocks until the subscriber acked, which keeps frames in order
		b.memory = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		b.pub = b.memory
		return b, nil
	}

	def := DefaultSettings()
	if b.settings.RedisAddr == "" {
		b.settings.RedisAddr = def.RedisAddr
	}
	if b.settings.Group == "" {
		b.settings.Group = def.Group
	}
	if b.settings.Consumer == "" {
		b.settings.Consumer = def.Consumer
	}
	b.client = redis.NewClient(&redis.Options{Addr: b.settings.RedisAddr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     b.client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		_ = b.client.Close()
		return nil, errors.Wrap(err, "create redis stream publisher")
	}
	b.pub = pub
	return b, nil
}

func (b *Bus) Publish(ctx context.Context, connID string, frame string) error {
	msg := message.NewMessage(watermill.NewUUID(), []byte(frame))
	msg.Metadata.Set(metaConnID, connID)
	msg.SetContext(ctx)
	if err := b.pub.Publish(Topic(connID), msg); err != nil {
		return errors.Wrapf(err, "publish frame for %s", connID)
	}
	return nil
}

// Subscriber returns a subscriber for one connection's frames. The in-memory subscriber is
// shared, so closing the returned value only ends that caller's subscriptions.
func (b *Bus) Subscriber(ctx context.Context, connID string) (message.Subscriber, error) {
	if b.memory != nil {
		return sharedSubscriber{b.memory}, nil
	}
	if err := EnsureGroupAtTail(ctx, b.client, Topic(connID), b.settings.Group); err != nil {
		return nil, err
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        b.client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: b.settings.Group,
		Consumer:      b.settings.Consumer + "-" + connID,
	}, b.logger)
	if err != nil {
		return nil, errors.Wrap(err, "create redis stream subscriber")
	}
	return sub, nil
}

func (b *Bus) Close() error {
	var first error
	if err := b.pub.Close(); err != nil {
		first = err
	}
	if b.client != nil {
		if err := b.client.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type sharedSubscriber struct {
	*gochannel.GoChannel
}

func (sharedSubscriber) Close() error { return nil }

// EnsureGroupAtTail creates the consumer group for a stream at $ if it doesn't exist,
// so a new listener does not replay the whole stream.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("component", "framebus").Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

// Sink publishes a connection's outbound frames onto the bus.
type Sink struct {
	bus    *Bus
	connID string
}

func NewSink(bus *Bus, connID string) *Sink {
	return &Sink{bus: bus, connID: connID}
}

func (s *Sink) SendText(ctx context.Context, text string) error {
	return s.bus.Publish(ctx, s.connID, text)
}
