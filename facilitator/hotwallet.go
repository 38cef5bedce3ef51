package facilitator

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/ledger"
)

const (
	// fallbackGasLimit is used when estimation fails; transferWithAuthorization
	// fits comfortably under it.
	fallbackGasLimit = uint64(120_000)

	// minTipWei is the floor for the priority fee (1 gwei).
	minTipWei = int64(1_000_000_000)
)

// HotWallet is the facilitator's gas-paying account. It is a process
// singleton: all settlement transactions are serialized on its local nonce
// counter, one submission at a time.
type HotWallet struct {
	backend ledger.Backend
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	token   abi.ABI
	log     *zap.Logger

	mu        sync.Mutex
	nonce     uint64
	nonceInit bool
}

// NewHotWallet builds the hot wallet on an existing node connection.
func NewHotWallet(backend ledger.Backend, key *ecdsa.PrivateKey, chainID *big.Int, log *zap.Logger) (*HotWallet, error) {
	if backend == nil || key == nil {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "backend and key are required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "chain id must be positive")
	}
	parsed, err := abi.JSON(strings.NewReader(string(ledger.TokenABI)))
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to parse token ABI", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HotWallet{
		backend: backend,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		token:   parsed,
		log:     log.Named("hotwallet"),
	}, nil
}

// Address returns the wallet's transaction origin address.
func (w *HotWallet) Address() common.Address { return w.address }

// SubmitTransfer submits transferWithAuthorization for the given payment and
// waits for one confirmation. On a revert the mined transaction hash is
// returned alongside a settlement_failed error so callers can report it.
func (w *HotWallet) SubmitTransfer(ctx context.Context, token common.Address, auth agentmesh.TransferAuthorization) (common.Hash, error) {
	callData, err := w.packTransfer(auth)
	if err != nil {
		return common.Hash{}, err
	}

	signed, err := w.send(ctx, token, callData)
	if err != nil {
		return common.Hash{}, err
	}

	receipt, err := bind.WaitMined(ctx, w.backend, signed)
	if err != nil {
		return signed.Hash(), agentmesh.Wrap(agentmesh.KindRpcUnavailable, "failed waiting for settlement receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return signed.Hash(), agentmesh.Ef(agentmesh.KindSettlementFailed, "settlement transaction reverted: %s", signed.Hash().Hex())
	}

	w.log.Info("settlement mined",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("from", auth.From),
		zap.String("to", auth.To),
		zap.String("value", auth.Value))
	return signed.Hash(), nil
}

// send builds, signs and submits the transaction under the wallet lock so
// the account nonce stays strictly monotonic across concurrent settles.
func (w *HotWallet) send(ctx context.Context, to common.Address, callData []byte) (*types.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.nonceInit {
		if err := w.resyncNonce(ctx); err != nil {
			return nil, err
		}
	}

	gasLimit := fallbackGasLimit
	if est, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Data: callData}); err == nil {
		gasLimit = est + est/5
	}

	tip, feeCap, err := w.suggestFees(ctx)
	if err != nil {
		return nil, err
	}

	build := func() *types.Transaction {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   w.chainID,
			Nonce:     w.nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     new(big.Int),
			Data:      callData,
		})
	}

	signed, err := types.SignTx(build(), types.NewLondonSigner(w.chainID), w.key)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to sign settlement transaction", err)
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "nonce too low") {
			// Another process (or a restart) moved the account; resync once.
			if rerr := w.resyncNonce(ctx); rerr != nil {
				return nil, rerr
			}
			signed, serr := types.SignTx(build(), types.NewLondonSigner(w.chainID), w.key)
			if serr != nil {
				return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to sign settlement transaction", serr)
			}
			if serr := w.backend.SendTransaction(ctx, signed); serr != nil {
				return nil, agentmesh.Wrap(agentmesh.KindRpcUnavailable, "failed to submit settlement transaction", serr)
			}
			w.nonce++
			return signed, nil
		}
		return nil, agentmesh.Wrap(agentmesh.KindRpcUnavailable, "failed to submit settlement transaction", err)
	}
	w.nonce++
	return signed, nil
}

// suggestFees refreshes the EIP-1559 fee pair before each send.
func (w *HotWallet) suggestFees(ctx context.Context) (tip, feeCap *big.Int, err error) {
	tip, err = w.backend.SuggestGasTipCap(ctx)
	if err != nil || tip.Sign() == 0 {
		tip = big.NewInt(minTipWei)
	}
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, agentmesh.Wrap(agentmesh.KindRpcUnavailable, "failed to read chain head", err)
	}
	feeCap = new(big.Int).Set(tip)
	if head.BaseFee != nil {
		// feeCap = 2*baseFee + tip rides out base fee growth while waiting.
		feeCap.Add(feeCap, new(big.Int).Lsh(head.BaseFee, 1))
	}
	return tip, feeCap, nil
}

func (w *HotWallet) resyncNonce(ctx context.Context) error {
	pending, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return agentmesh.Wrap(agentmesh.KindRpcUnavailable, "failed to read account nonce", err)
	}
	w.nonce = pending
	w.nonceInit = true
	return nil
}

func (w *HotWallet) packTransfer(auth agentmesh.TransferAuthorization) ([]byte, error) {
	if err := agentmesh.ValidateAuthorization(auth); err != nil {
		return nil, err
	}
	value, err := auth.ValueBig()
	if err != nil {
		return nil, err
	}
	validAfter, validBefore, err := auth.Window()
	if err != nil {
		return nil, err
	}
	nonce, err := auth.NonceBytes()
	if err != nil {
		return nil, err
	}
	signature, err := auth.SignatureBytes()
	if err != nil {
		return nil, err
	}
	var r, s [32]byte
	copy(r[:], signature[0:32])
	copy(s[:], signature[32:64])

	callData, err := w.token.Pack("transferWithAuthorization",
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		validAfter,
		validBefore,
		nonce,
		auth.V,
		r,
		s,
	)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to pack transferWithAuthorization", err)
	}
	return callData, nil
}
