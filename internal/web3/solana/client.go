package solana

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	xerrors "solshuttle/internal/errors"
	"solshuttle/internal/web3"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultAnchorTTL    = 60 * time.Second
)

// Config describes how to construct a Solana client.
type Config struct {
	Name         string
	RPCURL       string
	Commitment   rpc.CommitmentType
	PollInterval time.Duration
	AnchorTTL    time.Duration
}

// rpcBackend mirrors the subset of *rpc.Client used by the transfer cycle.
type rpcBackend interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
}

// Client implements the web3.Client interface against a Solana JSON-RPC node.
type Client struct {
	name         string
	backend      rpcBackend
	commitment   rpc.CommitmentType
	pollInterval time.Duration
	anchorTTL    time.Duration
	now          func() time.Time

	mu      sync.Mutex
	pending *web3.Anchor
}

// NewClient returns a client talking to cfg.RPCURL.
func NewClient(cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.Config("未配置 Solana RPC 地址")
	}
	return newClient(rpc.New(rpcURL), cfg), nil
}

func newClient(backend rpcBackend, cfg Config) *Client {
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ttl := cfg.AnchorTTL
	if ttl <= 0 {
		ttl = defaultAnchorTTL
	}
	return &Client{
		name:         cfg.Name,
		backend:      backend,
		commitment:   commitment,
		pollInterval: poll,
		anchorTTL:    ttl,
		now:          time.Now,
	}
}

// Name returns the cluster name the client was built for.
func (c *Client) Name() string { return c.name }

// Close releases the underlying RPC transport.
func (c *Client) Close() {
	if c == nil || c.backend == nil {
		return
	}
	if closer, ok := c.backend.(io.Closer); ok {
		_ = closer.Close()
	}
}

// FetchAnchor retrieves the latest blockhash. The returned anchor is the only
// one the next Submit accepts.
func (c *Client) FetchAnchor(ctx context.Context) (web3.Anchor, error) {
	out, err := c.backend.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return web3.Anchor{}, xerrors.Network(err, "获取最新区块哈希失败")
	}
	if out == nil || out.Value == nil || out.Value.Blockhash == (solana.Hash{}) {
		return web3.Anchor{}, xerrors.Network(nil, "最新区块哈希响应格式错误")
	}

	anchor := web3.Anchor{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
		FetchedAt:            c.now(),
	}
	c.mu.Lock()
	c.pending = &anchor
	c.mu.Unlock()
	return anchor, nil
}

// Submit broadcasts a signed transfer with preflight simulation enabled.
func (c *Client) Submit(ctx context.Context, transfer web3.SignedTransfer) (web3.Receipt, error) {
	if err := c.consumeAnchor(transfer.Anchor); err != nil {
		return web3.Receipt{}, err
	}
	if transfer.Tx == nil {
		return web3.Receipt{}, xerrors.Rejected(nil, "交易为空")
	}

	sig, err := c.backend.SendTransactionWithOpts(ctx, transfer.Tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return web3.Receipt{}, classifySendError(err)
	}
	if sig == (solana.Signature{}) {
		return web3.Receipt{}, xerrors.Rejected(nil, "节点未返回交易签名")
	}

	return web3.Receipt{
		Signature: sig.String(),
		Status:    web3.StatusPending,
		Anchor:    transfer.Anchor,
	}, nil
}

// consumeAnchor clears the remembered anchor and checks that transfer was
// built on it while it was still fresh.
func (c *Client) consumeAnchor(anchor web3.Anchor) error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if pending == nil {
		return xerrors.Rejected(nil, "区块哈希未获取或已被使用")
	}
	if pending.Blockhash != anchor.Blockhash {
		return xerrors.Rejected(nil, "交易引用的区块哈希不是最近一次获取的")
	}
	if age := c.now().Sub(pending.FetchedAt); age > c.anchorTTL {
		return xerrors.Rejected(nil, fmt.Sprintf("区块哈希已过期: 获取于 %s 前", age.Truncate(time.Millisecond)))
	}
	return nil
}

func classifySendError(err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return xerrors.Rejected(err, "节点拒绝交易")
	}
	return xerrors.Network(err, "发送交易失败")
}

// Confirm polls the signature status until it is final or deadline elapses.
// Poll errors are tolerated until the deadline and reported as its cause.
func (c *Client) Confirm(ctx context.Context, receipt web3.Receipt, deadline time.Duration) (web3.Receipt, error) {
	if receipt.Status.Final() {
		return receipt, nil
	}
	sig, err := solana.SignatureFromBase58(receipt.Signature)
	if err != nil {
		receipt.Status = web3.StatusFailed
		return receipt, xerrors.Rejected(err, "交易签名格式无效")
	}

	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	interval := c.pollInterval
	if deadline > 0 && interval > deadline {
		interval = deadline
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		updated, done, err := c.poll(pollCtx, sig, receipt)
		if done {
			return updated, err
		}
		receipt = updated
		if err != nil {
			lastErr = err
		}

		select {
		case <-pollCtx.Done():
			receipt.Status = web3.StatusTimedOut
			return receipt, xerrors.Timeout(lastErr, fmt.Sprintf("交易 %s 在 %s 内未确认", receipt.Signature, deadline))
		case <-ticker.C:
		}
	}
}

func (c *Client) poll(ctx context.Context, sig solana.Signature, receipt web3.Receipt) (web3.Receipt, bool, error) {
	out, err := c.backend.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return receipt, false, xerrors.Network(err, "查询交易状态失败")
	}

	var status *rpc.SignatureStatusesResult
	if out != nil && len(out.Value) > 0 {
		status = out.Value[0]
	}
	if status == nil {
		return c.checkExpiry(ctx, receipt)
	}

	receipt.Slot = status.Slot
	if status.Err != nil {
		receipt.Status = web3.StatusFailed
		return receipt, true, xerrors.Rejected(fmt.Errorf("%v", status.Err), "交易执行失败")
	}
	if commitmentReached(string(status.ConfirmationStatus), c.commitment) {
		receipt.Status = web3.StatusConfirmed
		return receipt, true, nil
	}
	return receipt, false, nil
}

// checkExpiry fails an unseen transaction once the chain has moved past the
// last block height its blockhash is valid for.
func (c *Client) checkExpiry(ctx context.Context, receipt web3.Receipt) (web3.Receipt, bool, error) {
	if receipt.Anchor.LastValidBlockHeight == 0 {
		return receipt, false, nil
	}
	height, err := c.backend.GetBlockHeight(ctx, c.commitment)
	if err != nil {
		return receipt, false, xerrors.Network(err, "查询区块高度失败")
	}
	if height > receipt.Anchor.LastValidBlockHeight {
		receipt.Status = web3.StatusFailed
		return receipt, true, xerrors.Rejected(nil, fmt.Sprintf("区块哈希已过期: 当前高度 %d 超过 %d", height, receipt.Anchor.LastValidBlockHeight))
	}
	return receipt, false, nil
}

var commitmentRank = map[string]int{
	"processed": 1,
	"confirmed": 2,
	"finalized": 3,
}

func commitmentReached(observed string, target rpc.CommitmentType) bool {
	got, ok := commitmentRank[observed]
	if !ok {
		return false
	}
	return got >= commitmentRank[string(target)]
}

// Balance returns the lamport balance of address.
func (c *Client) Balance(ctx context.Context, address web3.Address) (uint64, error) {
	out, err := c.backend.GetBalance(ctx, address, c.commitment)
	if err != nil {
		return 0, xerrors.Network(err, "查询余额失败")
	}
	if out == nil {
		return 0, xerrors.Network(nil, "余额响应为空")
	}
	return out.Value, nil
}
