// Package payments confirms on-chain payments made by buyers before ownership moves.
package payments

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/pkg/errors"
)

var ErrPaymentNotVerified = errors.PaymentRequired.Reason("PAYMENT_NOT_VERIFIED").Explain("Payment could not be verified")

// Payment describes what a purchase expects to find on chain.
type Payment struct {
	Hash   string
	From   string
	To     string
	Amount decimal.Decimal
}

// Verifier checks that a payment transaction settled as expected
type Verifier interface {
	Verify(ctx context.Context, p Payment) error
}

// chainReader is the part of ethclient.Client the verifier needs
type chainReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// EVMVerifier verifies native-currency payments on an EVM JSON-RPC endpoint
// (Hedera's JSON-RPC relay included).
type EVMVerifier struct {
	client        chainReader
	confirmations uint64
	logger        *zap.Logger
}

var _ Verifier = (*EVMVerifier)(nil)

func NewEVMVerifier(rpcURL string, confirmations uint64, logger *zap.Logger) (*EVMVerifier, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return newEVMVerifier(client, confirmations, logger), nil
}

func newEVMVerifier(client chainReader, confirmations uint64, logger *zap.Logger) *EVMVerifier {
	return &EVMVerifier{client: client, confirmations: confirmations, logger: logger}
}

// ToWei converts a listing price to 18-decimal base units
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).Truncate(0).BigInt()
}

func (v *EVMVerifier) Verify(ctx context.Context, p Payment) error {
	if !isTxHash(p.Hash) {
		return ErrPaymentNotVerified.Explain("payment_hash is not a transaction hash")
	}
	hash := common.HexToHash(p.Hash)

	receipt, err := v.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ErrPaymentNotVerified.Explain("Payment transaction not found or still pending")
		}
		return errors.Unavailable.Reason("PAYMENT_PROVIDER_ERROR").Explain("Could not reach payment network").Wrap(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ErrPaymentNotVerified.Explain("Payment transaction reverted")
	}
	if v.confirmations > 0 {
		head, err := v.client.BlockNumber(ctx)
		if err != nil {
			return errors.Unavailable.Reason("PAYMENT_PROVIDER_ERROR").Wrap(err)
		}
		if receipt.BlockNumber == nil || head < receipt.BlockNumber.Uint64()+v.confirmations {
			return ErrPaymentNotVerified.Explain("Payment has not reached %d confirmations", v.confirmations)
		}
	}

	tx, pending, err := v.client.TransactionByHash(ctx, hash)
	if err != nil {
		return errors.Unavailable.Reason("PAYMENT_PROVIDER_ERROR").Wrap(err)
	}
	if pending {
		return ErrPaymentNotVerified.Explain("Payment transaction still pending")
	}

	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), p.To) {
		return ErrPaymentNotVerified.Explain("Payment was not sent to the seller")
	}
	if want := ToWei(p.Amount); tx.Value().Cmp(want) < 0 {
		return ErrPaymentNotVerified.Explain("Payment value %s is below price %s", tx.Value(), want)
	}

	chainID, err := v.client.ChainID(ctx)
	if err != nil {
		return errors.Unavailable.Reason("PAYMENT_PROVIDER_ERROR").Wrap(err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return ErrPaymentNotVerified.Wrap(err)
	}
	if !strings.EqualFold(sender.Hex(), p.From) {
		return ErrPaymentNotVerified.Explain("Payment was not sent by the buyer")
	}

	v.logger.Info("Payment verified",
		zap.String("hash", p.Hash),
		zap.String("from", p.From),
		zap.String("to", p.To),
		zap.String("value", tx.Value().String()))
	return nil
}

func isTxHash(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	for _, c := range s[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
