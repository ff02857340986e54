package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RESTPollingPubSub emulates PubSub on top of any Adapter that has no
// native pub/sub (a REST-only Redis-compatible backend, e.g. an
// Upstash-style HTTP API). Publish appends to a per-channel log and
// Subscribe polls it, tracking the last sequence number it has
// delivered per subscriber so a message is never replayed. The log is
// held in process memory, so only subscribers in the same process
// receive messages; the adapter only receives the channel's latest
// sequence number. This is an at-most-once emulation: a subscriber
// that misses a poll window because the log outgrew the retention
// window (see maxLen) does not get a redelivery.
type RESTPollingPubSub struct {
	adapter      Adapter
	pollInterval time.Duration
	maxLen       int64
}

// NewRESTPollingPubSub wraps adapter. pollInterval defaults to 500ms
// and maxLen (the number of recent messages retained per channel)
// defaults to 1000 when zero.
func NewRESTPollingPubSub(adapter Adapter, pollInterval time.Duration, maxLen int64) *RESTPollingPubSub {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RESTPollingPubSub{adapter: adapter, pollInterval: pollInterval, maxLen: maxLen}
}

type restMessage struct {
	seq  int64
	body []byte
}

// channelLog is the append-only per-channel record of published
// messages. storage.Adapter has no native list type, so the log is
// kept in process memory (channelLogs), appended to by Publish and
// fanned out to subscribers polling it.
//
// Publish writes only the channel's latest sequence number to the
// adapter, under channelKey(channel), so the emulation needs no list
// primitives in the Adapter contract.
type channelLog struct {
	mu   sync.Mutex
	seq  int64
	msgs []restMessage
}

var channelLogs sync.Map // channel name -> *channelLog, process-local fan-out buffer

func getChannelLog(channel string) *channelLog {
	v, _ := channelLogs.LoadOrStore(channel, &channelLog{})
	return v.(*channelLog)
}

// Publish appends msg to the channel's log and returns the number of
// currently-registered local subscribers (this process only; a true
// cross-process REST-only deployment would instead report the
// backend's subscriber count if the API exposed one, which the
// REST-only APIs this emulates generally do not).
func (p *RESTPollingPubSub) Publish(ctx context.Context, channel string, msg []byte) (int, error) {
	log := getChannelLog(channel)
	log.mu.Lock()
	log.seq++
	log.msgs = append(log.msgs, restMessage{seq: log.seq, body: append([]byte{}, msg...)})
	if int64(len(log.msgs)) > p.maxLen {
		log.msgs = log.msgs[int64(len(log.msgs))-p.maxLen:]
	}
	log.mu.Unlock()

	// Mirror into the adapter so a cross-process reader using the same
	// backend (not just this process's in-memory log) can observe the
	// latest sequence number, matching the REST-only contract where the
	// log itself lives in the shared backend rather than in-process.
	if err := p.adapter.Set(ctx, channelKey(channel), encodeInt64(log.seq), SetOptions{}); err != nil {
		return 0, err
	}
	return subscriberCount(channel), nil
}

// Subscribe polls the channel's log every pollInterval, delivering any
// message with a sequence number greater than the last one this
// subscriber has seen.
func (p *RESTPollingPubSub) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	log := getChannelLog(channel)
	registerSubscriber(channel)

	stop := make(chan struct{})
	var stopOnce sync.Once

	go func() {
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		var lastSeq int64
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.mu.Lock()
				var pending []restMessage
				for _, m := range log.msgs {
					if m.seq > lastSeq {
						pending = append(pending, m)
					}
				}
				if len(pending) > 0 {
					lastSeq = pending[len(pending)-1].seq
				}
				log.mu.Unlock()
				for _, m := range pending {
					handler(m.body)
				}
			}
		}
	}()

	unsubscribe := func() {
		stopOnce.Do(func() {
			close(stop)
			unregisterSubscriber(channel)
		})
	}
	return unsubscribe, nil
}

func channelKey(channel string) string {
	return "pubsub:seq:" + channel
}

var subscriberCounts sync.Map // channel -> *atomic.Int64 count, process-local

func registerSubscriber(channel string) {
	v, _ := subscriberCounts.LoadOrStore(channel, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func unregisterSubscriber(channel string) {
	v, ok := subscriberCounts.Load(channel)
	if !ok {
		return
	}
	c := v.(*atomic.Int64)
	for {
		cur := c.Load()
		if cur <= 0 {
			return
		}
		if c.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func subscriberCount(channel string) int {
	v, ok := subscriberCounts.Load(channel)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int64).Load())
}
