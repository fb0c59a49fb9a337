package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/tesseralabs/arbiter/util/stopwaiter"
)

type ConsumerConfig struct {
	// Timeout of result entry in Redis.
	ResponseEntryTimeout time.Duration `koanf:"response-entry-timeout"`
	// Minimum idle time after which messages will be autoclaimed
	IdletimeToAutoclaim time.Duration `koanf:"idletime-to-autoclaim"`
}

var DefaultConsumerConfig = ConsumerConfig{
	ResponseEntryTimeout: time.Hour,
	IdletimeToAutoclaim:  5 * time.Minute,
}

var TestConsumerConfig = ConsumerConfig{
	ResponseEntryTimeout: time.Minute,
	IdletimeToAutoclaim:  50 * time.Millisecond,
}

func ConsumerConfigAddOptions(prefix string, f *pflag.FlagSet) {
	f.Duration(prefix+".response-entry-timeout", DefaultConsumerConfig.ResponseEntryTimeout, "timeout for response entry")
	f.Duration(prefix+".idletime-to-autoclaim", DefaultConsumerConfig.IdletimeToAutoclaim, "After a message spends this amount of time in PEL (Pending Entries List i.e claimed by a consumer but not Acknowledged) it will be allowed to be autoclaimed by other consumers")
}

// Consumer implements a consumer for redis stream.
type Consumer[Request any, Response any] struct {
	stopwaiter.StopWaiter
	id          string
	client      redis.UniversalClient
	redisStream string
	redisGroup  string
	cfg         *ConsumerConfig
}

type Message[Request any] struct {
	ID    string
	Value Request
	Ack   func()
}

func NewConsumer[Request any, Response any](client redis.UniversalClient, streamName string, cfg *ConsumerConfig) (*Consumer[Request, Response], error) {
	if streamName == "" {
		return nil, fmt.Errorf("redis stream name cannot be empty")
	}
	return &Consumer[Request, Response]{
		id:          uuid.NewString(),
		client:      client,
		redisStream: streamName,
		redisGroup:  streamName, // There is 1-1 mapping of redis stream and consumer group.
		cfg:         cfg,
	}, nil
}

// Start must be called before Consume. While a message is being processed its
// idle time is refreshed from a background thread, so it won't be autoclaimed
// by other consumers as long as this consumer is alive.
func (c *Consumer[Request, Response]) Start(ctx context.Context) {
	c.StopWaiter.Start(ctx, c)
}

func (c *Consumer[Request, Response]) Id() string {
	return c.id
}

func (c *Consumer[Request, Response]) StopAndWait() {
	c.StopWaiter.StopAndWait()
}

func (c *Consumer[Request, Response]) RedisClient() redis.UniversalClient {
	return c.client
}

func (c *Consumer[Request, Response]) StreamName() string {
	return c.redisStream
}

// Consumer first checks it there exists pending message that is claimed by
// unresponsive consumer, if not then reads from the stream.
func (c *Consumer[Request, Response]) Consume(ctx context.Context) (*Message[Request], error) {
	// First try to XAUTOCLAIM, which claims pending messages that have been
	// idle for longer than IdletimeToAutoclaim, these messages were consumed
	// but not acked, so likely the consumer that handled them died.
	var messages []redis.XMessage
	if msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Group:    c.redisGroup,
		Consumer: c.id,
		MinIdle:  c.cfg.IdletimeToAutoclaim,
		Stream:   c.redisStream,
		Start:    "0",
		// Claiming a message resets its idle time, so take only what will be
		// processed right away.
		Count: 1,
	}).Result(); err != nil {
		log.Trace("error from xautoclaim", "err", err)
	} else {
		messages = msgs
	}
	if len(messages) == 0 {
		// Fallback to reading new messages
		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.redisGroup,
			Consumer: c.id,
			// Receive only messages that were never delivered to any other consumer,
			// that is, only new messages.
			Streams: []string{c.redisStream, ">"},
			Count:   1,
			Block:   time.Millisecond, // 0 seems to block the read instead of immediately returning
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading message for consumer: %q: %w", c.id, err)
		}
		if len(res) != 1 || len(res[0].Messages) != 1 {
			return nil, fmt.Errorf("redis returned entries: %+v, for querying single message", res)
		}
		messages = res[0].Messages
	}
	if len(messages) == 0 {
		return nil, nil
	}

	firstMessage := messages[0]
	log.Debug("Consumer: consuming message", "cid", c.id, "messageId", firstMessage.ID)
	var (
		value    = firstMessage.Values[messageKey]
		data, ok = (value).(string)
	)
	if !ok {
		return nil, errors.New("error casting request to string")
	}
	var req Request
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("unmarshaling value: %v, error: %w", value, err)
	}
	ackNotifier := make(chan struct{})
	c.StopWaiter.LaunchThread(func(ctx context.Context) {
		// Use XClaimJustID so that we would have clear difference between invalid requests that are claimed multiple times due to xautoclaim and
		// valid requests that are just being claimed in regular intervals to indicate heartbeat
		for {
			ids, err := c.client.XClaimJustID(ctx, &redis.XClaimArgs{
				Stream:   c.redisStream,
				Group:    c.redisGroup,
				Consumer: c.id,
				MinIdle:  0,
				Messages: []string{firstMessage.ID},
			}).Result()
			if err != nil {
				log.Error("Error claiming message, it might be possible that other consumers might pick this request", "msgID", firstMessage.ID, "err", err)
			} else if len(ids) != 1 {
				log.Warn("XClaimJustID returned empty response when indicating heartbeat", "msgID", firstMessage.ID)
			}
			select {
			case <-ackNotifier:
				return
			case <-ctx.Done():
				log.Info("Context done while claiming message to indicate heartbeat", "messageID", firstMessage.ID, "error", ctx.Err().Error())
				if c.StopWaiter.GetParentContext().Err() == nil {
					// Proceeding to set the Idle time of message to IdletimeToAutoclaim to allow it to be picked by other consumers
					if err := c.client.Do(c.StopWaiter.GetParentContext(), "XCLAIM", c.redisStream, c.redisGroup, c.id, 0, firstMessage.ID, "IDLE", c.cfg.IdletimeToAutoclaim.Milliseconds()).Err(); err != nil {
						log.Error("Error in setting the idle time of the message when indicating failure in request processing", "msgID", firstMessage.ID, "err", err)
					}
				}
				return
			case <-time.After(c.cfg.IdletimeToAutoclaim / 3):
			}
		}
	})
	return &Message[Request]{
		ID:    firstMessage.ID,
		Value: req,
		Ack:   func() { close(ackNotifier) },
	}, nil
}

// SetResult sends the result to the producer by setting the key of the unique
// id of the request, and acks the message afterwards, the ack releases the
// in-process heartbeat thread.
func (c *Consumer[Request, Response]) SetResult(ctx context.Context, id string, messageID string, result Response) error {
	if id == "" {
		log.Info("Request doesn't have a unique identifier, defaulting to using redis stream messageId", "msgId", messageID)
		id = messageID
	}
	resp, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	resultKey := MessageKeyFor(c.StreamName(), id)
	log.Debug("consumer: setting result", "cid", c.id, "msgIdInStream", messageID, "resultKeyInRedis", resultKey)
	acquired, err := c.client.SetNX(ctx, resultKey, resp, c.cfg.ResponseEntryTimeout).Result()
	if err != nil || !acquired {
		return fmt.Errorf("setting result for message with message-id in stream: %v, error: %w", messageID, err)
	}
	log.Debug("consumer: xack", "cid", c.id, "messageId", messageID)
	if _, err := c.client.XAck(ctx, c.redisStream, c.redisGroup, messageID).Result(); err != nil {
		return fmt.Errorf("acking message: %v, error: %w", messageID, err)
	}
	return nil
}
