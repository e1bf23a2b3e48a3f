package solana

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	xerrors "solshuttle/internal/errors"
	"solshuttle/internal/web3"
)

// Builder assembles and signs native SOL transfers. It never touches the network.
type Builder struct{}

// NewBuilder returns a transfer builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build creates a single system transfer of lamports from sender to receiver,
// paid and signed by sender, referencing anchor as its recent blockhash.
func (b *Builder) Build(sender web3.Identity, receiver web3.Address, lamports int64, anchor web3.Anchor) (web3.SignedTransfer, error) {
	if sender.IsZero() {
		return web3.SignedTransfer{}, xerrors.Build("发送方钱包未加载")
	}
	if lamports <= 0 {
		return web3.SignedTransfer{}, xerrors.Build("转账金额必须大于 0: %d", lamports)
	}
	if receiver == (web3.Address{}) {
		return web3.SignedTransfer{}, xerrors.Build("接收方地址为空")
	}
	from := sender.Address()
	if from == receiver {
		return web3.SignedTransfer{}, xerrors.Build("发送方与接收方地址相同: %s", from)
	}
	if anchor.IsZero() {
		return web3.SignedTransfer{}, xerrors.Build("缺少最新区块哈希")
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(uint64(lamports), from, receiver).Build(),
		},
		anchor.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return web3.SignedTransfer{}, xerrors.Wrap(xerrors.CodeBuild, err, "组装转账交易失败")
	}

	key := sender.PrivateKey()
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub == from {
			return &key
		}
		return nil
	}); err != nil {
		return web3.SignedTransfer{}, xerrors.Wrap(xerrors.CodeBuild, err, "交易签名失败")
	}
	if err := VerifySignature(tx, from); err != nil {
		return web3.SignedTransfer{}, err
	}

	return web3.SignedTransfer{
		Tx:       tx,
		Sender:   from,
		Receiver: receiver,
		Lamports: uint64(lamports),
		Anchor:   anchor,
	}, nil
}

// VerifySignature checks the fee payer signature of tx against signer.
func VerifySignature(tx *solana.Transaction, signer web3.Address) error {
	if tx == nil || len(tx.Signatures) == 0 {
		return xerrors.Build("交易缺少签名")
	}
	payload, err := tx.Message.MarshalBinary()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeBuild, err, "序列化交易消息失败")
	}
	if !tx.Signatures[0].Verify(signer, payload) {
		return xerrors.Build("交易签名校验失败: %s", signer)
	}
	return nil
}
