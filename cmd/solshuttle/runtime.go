package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"solshuttle/internal/amount"
	"solshuttle/internal/config"
	"solshuttle/internal/observability/metrics"
	"solshuttle/internal/report"
	"solshuttle/internal/scheduler"
	"solshuttle/internal/storage/redis"
	"solshuttle/internal/web3"
	"solshuttle/internal/web3/provider"
	solclient "solshuttle/internal/web3/solana"
	"solshuttle/pkg/logger"
)

// runtime 持有一次进程运行所需的全部依赖。
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	walletA  web3.Identity
	walletB  web3.Identity
	client   *solclient.Client
	endpoint provider.Endpoint

	closers []func()
}

// bootstrap 读取配置、初始化日志、解析钱包并连接集群。任何错误都是致命的。
func bootstrap(cliCtx *cli.Context) (*runtime, error) {
	cfg, err := config.Load(cliCtx.String("env-file"))
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Report: logger.ReportConfig{
			Path:       cfg.Log.ReportPath,
			MaxSizeMB:  cfg.Log.ReportMaxSizeMB,
			MaxBackups: cfg.Log.ReportMaxBackups,
			MaxAgeDays: cfg.Log.ReportMaxAgeDays,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	walletA, err := web3.IdentityFromBase58("A", cfg.Wallets.PrivateKeyA)
	if err != nil {
		return nil, err
	}
	walletB, err := web3.IdentityFromBase58("B", cfg.Wallets.PrivateKeyB)
	if err != nil {
		return nil, err
	}

	registry, err := provider.NewRegistry(cfg.Ledger.ClustersFile)
	if err != nil {
		return nil, err
	}
	client, endpoint, err := registry.NewClient(cfg.Ledger)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger.Named("solshuttle"),
		walletA:  walletA,
		walletB:  walletB,
		client:   client,
		endpoint: endpoint,
	}
	rt.onClose(client.Close)
	rt.onClose(func() { _ = logger.Sync() })
	return rt, nil
}

func (rt *runtime) onClose(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// Close 按注册的逆序释放资源。
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *runtime) wallets() []web3.Identity {
	return []web3.Identity{rt.walletA, rt.walletB}
}

// balanceOf 以 SOL 返回余额。
func (rt *runtime) balanceOf(ctx context.Context, id web3.Identity) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, rt.cfg.Ledger.RequestTimeout())
	defer cancel()
	lamports, err := rt.client.Balance(ctx, id.Address())
	if err != nil {
		return "", err
	}
	return amount.FromLamports(lamports).String() + " SOL", nil
}

// banner 输出钱包地址、节点与余额。
func (rt *runtime) banner(ctx context.Context) {
	rt.logger.Info("solshuttle 启动",
		slog.String("cluster", rt.endpoint.Name),
		slog.String("rpc", rt.endpoint.RPCURL),
		slog.String("commitment", rt.cfg.Ledger.Commitment),
		slog.Duration("interval", rt.cfg.Schedule.Interval()),
		slog.String("amount_range", rt.cfg.Schedule.MinAmount+" ~ "+rt.cfg.Schedule.MaxAmount+" SOL"),
	)
	for _, id := range rt.wallets() {
		balance, err := rt.balanceOf(ctx, id)
		if err != nil {
			rt.logger.Warn("查询余额失败", slog.String("wallet", id.Name()), slog.String("address", id.Address().String()), slog.Any("error", err))
			continue
		}
		rt.logger.Info("钱包", slog.String("wallet", id.Name()), slog.String("address", id.Address().String()), slog.String("balance", balance))
	}
}

// newScheduler 组装金额生成器、报告器与可选租约。
func (rt *runtime) newScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	min, max, err := rt.cfg.Schedule.Bounds()
	if err != nil {
		return nil, err
	}
	generator, err := amount.NewGenerator(min, max)
	if err != nil {
		return nil, err
	}

	reporters := []scheduler.Reporter{
		report.NewLogReporter(logger.Named("report"), logger.ReportWriter()),
	}

	if addr := rt.cfg.Metrics.Address; addr != "" {
		registry := prometheus.NewRegistry()
		reporters = append(reporters, metrics.NewRecorder(registry))
		go func() {
			if err := metrics.StartServer(ctx, addr, registry); err != nil {
				rt.logger.Error("指标服务退出", slog.String("address", addr), slog.Any("error", err))
			}
		}()
		rt.logger.Info("指标服务已启动", slog.String("address", addr))
	}

	if rt.cfg.Events.Enabled() {
		publisher, err := report.NewAMQPPublisher(report.AMQPConfig{
			URL:   rt.cfg.Events.AMQPURL,
			Queue: rt.cfg.Events.Queue,
		})
		if err != nil {
			return nil, err
		}
		rt.onClose(func() { _ = publisher.Close() })
		reporters = append(reporters, publisher)
	}

	opts := []scheduler.Option{
		scheduler.WithReporter(report.NewFanout(reporters...)),
		scheduler.WithLogger(logger.Named("scheduler")),
	}

	if rt.cfg.Lock.Enabled() {
		lease, err := redis.NewLease(ctx, redis.LeaseConfig{
			Address:  rt.cfg.Lock.RedisAddress,
			Password: rt.cfg.Lock.RedisPassword,
			DB:       rt.cfg.Lock.RedisDB,
			Key:      rt.cfg.Lock.Key,
			TTL:      rt.leaseTTL(),
		})
		if err != nil {
			return nil, err
		}
		rt.onClose(func() { _ = lease.Close() })
		if err := lease.Acquire(ctx); err != nil {
			if errors.Is(err, redis.ErrLeaseHeld) {
				return nil, fmt.Errorf("%w: %s", err, lease.Key())
			}
			return nil, err
		}
		rt.onClose(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				rt.logger.Warn("释放租约失败", slog.Any("error", err))
			}
		})
		opts = append(opts, scheduler.WithGuard(lease))
		rt.logger.Info("已获取单实例租约", slog.String("key", lease.Key()), slog.Duration("ttl", lease.TTL()))
	}

	return scheduler.New(rt.walletA, rt.walletB, generator, solclient.NewBuilder(), rt.client, scheduler.Config{
		Interval:       rt.cfg.Schedule.Interval(),
		ConfirmTimeout: rt.cfg.Ledger.ConfirmTimeout(),
		RequestTimeout: rt.cfg.Ledger.RequestTimeout(),
	}, opts...)
}

// leaseTTL 覆盖两次续约之间最长的间隔：一个完整周期加上睡眠。
func (rt *runtime) leaseTTL() time.Duration {
	ledger := rt.cfg.Ledger
	return 2*rt.cfg.Schedule.Interval() + ledger.ConfirmTimeout() + 3*ledger.RequestTimeout()
}
