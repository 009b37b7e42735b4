package main

import (
	"context"
	"errors"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	// Resume lifts the pause Pub/Sub places on an ordering key after a failed publish.
	Resume(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// topicPublishers hands out one ordered publisher per topic for the life of
// the process.
type topicPublishers struct {
	mu      sync.Mutex
	source  pubSubClient
	byTopic map[string]*gcppubsub.Publisher
}

func newTopicPublishers(source pubSubClient) *topicPublishers {
	return &topicPublishers{source: source, byTopic: make(map[string]*gcppubsub.Publisher)}
}

// get returns nil when the client cannot publish to topic.
func (p *topicPublishers) get(topic string) publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pub, ok := p.byTopic[topic]; ok {
		return &gcpPublisher{Publisher: pub}
	}
	pub := p.source.Publisher(topic)
	if pub == nil {
		return nil
	}
	pub.EnableMessageOrdering = true
	p.byTopic[topic] = pub
	return &gcpPublisher{Publisher: pub}
}

// stop flushes and releases every publisher handed out so far.
func (p *topicPublishers) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, pub := range p.byTopic {
		pub.Stop()
		delete(p.byTopic, topic)
	}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

func (p *gcpPublisher) Resume(orderingKey string) {
	if p == nil || p.Publisher == nil || orderingKey == "" {
		return
	}
	p.Publisher.ResumePublish(orderingKey)
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
