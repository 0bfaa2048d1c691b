package coordination

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
)

// NATSBackend 基于 JetStream KV 的实现，多实例共享
type NATSBackend struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// NewNATSBackend 打开 bucket，不存在时创建
func NewNATSBackend(ctx context.Context, nc *nats.Conn, bucket string, retention time.Duration) (*NATSBackend, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, errors.Wrap(err, "jetstream")
	}

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "live engine claims and leases",
			History:     1,
			TTL:         retention,
		})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open kv bucket %s", bucket)
	}
	return &NATSBackend{nc: nc, kv: kv}, nil
}

func (n *NATSBackend) Create(ctx context.Context, key string, value []byte) error {
	_, err := n.kv.Create(ctx, key, value)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return ErrKeyExists
	}
	return err
}

func (n *NATSBackend) Get(ctx context.Context, key string) (Entry, error) {
	e, err := n.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Entry{}, ErrKeyNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return Entry{Value: e.Value(), Revision: e.Revision()}, nil
}

// Update 修订号不匹配时服务端返回 wrong last sequence，与 ErrKeyExists 同错误码
func (n *NATSBackend) Update(ctx context.Context, key string, value []byte, revision uint64) error {
	_, err := n.kv.Update(ctx, key, value, revision)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return ErrRevisionMismatch
	}
	return err
}

func (n *NATSBackend) Delete(ctx context.Context, key string, revision uint64) error {
	err := n.kv.Delete(ctx, key, jetstream.LastRevision(revision))
	if errors.Is(err, jetstream.ErrKeyExists) {
		return ErrRevisionMismatch
	}
	return err
}

func (n *NATSBackend) Ping(ctx context.Context) error {
	if !n.nc.IsConnected() {
		return ErrUnavailable
	}
	return n.nc.FlushWithContext(ctx)
}

// Close 连接由调用方管理
func (n *NATSBackend) Close() error {
	return nil
}

func (n *NATSBackend) Name() string {
	return "nats"
}
