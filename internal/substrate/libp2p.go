package substrate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// LibP2PKV is a minimal real Substrate built on libp2p gossipsub and
// mDNS peer discovery, adapted from the teacher's node-bootstrap idiom
// (core/network.go's NewNode/HandlePeerFound). Put writes the value
// into a local content-addressed map keyed by SHA-256(value) and
// gossips the (contractId, value) pair over a per-contract pubsub
// topic; Get reads the local map; Subscribe decodes further gossip
// messages on that topic into Delta events. It is not a full
// content-addressed DHT — that substrate is an external collaborator
// per spec.md §6.2 — but it is a genuine transport, not a mock.
type LibP2PKV struct {
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Logger

	mu     sync.Mutex
	data   map[string][]byte
	topics map[string]*pubsub.Topic
}

// NewLibP2PKV bootstraps a libp2p host listening on listenAddr,
// announces itself via mDNS under discoveryTag, and returns a
// Substrate backed by gossipsub.
func NewLibP2PKV(listenAddr, discoveryTag string, log *logrus.Logger) (*LibP2PKV, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("substrate: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("substrate: create pubsub: %w", err)
	}

	kv := &LibP2PKV{
		host:   h,
		pubsub: ps,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		data:   make(map[string][]byte),
		topics: make(map[string]*pubsub.Topic),
	}

	svc := mdns.NewMdnsService(h, discoveryTag, kv)
	if err := svc.Start(); err != nil {
		log.Warnf("substrate: mdns start failed: %v", err)
	}

	return kv, nil
}

// HandlePeerFound implements mdns.Notifee: dial newly discovered peers
// so gossipsub has a mesh to propagate over.
func (kv *LibP2PKV) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == kv.host.ID() {
		return
	}
	if err := kv.host.Connect(kv.ctx, info); err != nil {
		kv.log.Warnf("substrate: connect to discovered peer failed: %v", err)
	}
}

func contentHash(value []byte) string {
	sum := sha256.Sum256(value)
	return fmt.Sprintf("%x", sum)
}

func (kv *LibP2PKV) topicFor(contractId string) (*pubsub.Topic, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if t, ok := kv.topics[contractId]; ok {
		return t, nil
	}
	t, err := kv.pubsub.Join("stroma/substrate/" + contractId)
	if err != nil {
		return nil, fmt.Errorf("substrate: join topic: %w", err)
	}
	kv.topics[contractId] = t
	return t, nil
}

// Put writes value into the local content-addressed slot and gossips
// it to peers subscribed to contractId's topic.
func (kv *LibP2PKV) Put(ctx context.Context, contractId string, value []byte) error {
	kv.mu.Lock()
	cp := make([]byte, len(value))
	copy(cp, value)
	kv.data[contentHash(cp)] = cp
	kv.data[contractId] = cp
	kv.mu.Unlock()

	t, err := kv.topicFor(contractId)
	if err != nil {
		return err
	}
	if err := t.Publish(ctx, cp); err != nil {
		return fmt.Errorf("substrate: publish: %w", err)
	}
	return nil
}

// Get reads the most recently known value for contractId.
func (kv *LibP2PKV) Get(_ context.Context, contractId string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[contractId]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// Subscribe joins contractId's topic and translates incoming gossip
// messages into Delta events. Delivery is at-least-once by gossipsub's
// own nature, matching spec.md §6.2's idempotency requirement.
func (kv *LibP2PKV) Subscribe(ctx context.Context, contractId string) (<-chan Delta, error) {
	t, err := kv.topicFor(contractId)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("substrate: subscribe: %w", err)
	}

	out := make(chan Delta, 32)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == kv.host.ID() {
				continue
			}
			kv.mu.Lock()
			kv.data[contractId] = msg.Data
			kv.mu.Unlock()
			select {
			case out <- Delta{ContractId: contractId, Value: msg.Data}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close tears down the host and cancels all subscriptions.
func (kv *LibP2PKV) Close() error {
	kv.cancel()
	return kv.host.Close()
}
