package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrLeaseHeld 表示租约正被其他实例持有。
var ErrLeaseHeld = errors.New("租约已被其他实例持有")

var (
	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// LeaseConfig 描述租约所用的 Redis 连接与键。
type LeaseConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// Lease 是一个以随机令牌标识持有者的 Redis 租约，保证同一对钱包只有一个实例在转账。
type Lease struct {
	client goredis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

// NewLease 连接 Redis 并返回尚未获取的租约。
func NewLease(ctx context.Context, cfg LeaseConfig) (*Lease, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("redis 地址不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newLease(client, cfg), nil
}

func newLease(client goredis.UniversalClient, cfg LeaseConfig) *Lease {
	key := cfg.Key
	if key == "" {
		key = "solshuttle:lease"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Lease{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

// Key 返回租约键。
func (l *Lease) Key() string { return l.key }

// TTL 返回租约有效期。
func (l *Lease) TTL() time.Duration { return l.ttl }

// Acquire 获取租约，已被他人持有时返回 ErrLeaseHeld。
func (l *Lease) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("获取租约失败: %w", err)
	}
	if ok {
		return nil
	}
	holder, err := l.client.Get(ctx, l.key).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("读取租约持有者失败: %w", err)
	}
	if holder == l.token {
		return nil
	}
	return ErrLeaseHeld
}

// Renew 延长租约。租约已过期且无人持有时重新获取。
func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("续约失败: %w", err)
	}
	if n == 1 {
		return nil
	}
	return l.Acquire(ctx)
}

// Release 仅在自己持有时删除租约。
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("释放租约失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (l *Lease) Close() error {
	return l.client.Close()
}
