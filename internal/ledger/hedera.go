package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/internal/config"
	"github.com/terrahash/landregistry/pkg/metrics"
)

// Hedera implements Ledger against a Hedera network with the operator as signer.
type Hedera struct {
	client      *hedera.Client
	operatorKey hedera.PrivateKey
	metadataKey hedera.PrivateKey
	tokenID     hedera.TokenID
	treasury    hedera.AccountID
	logger      *zap.Logger
}

var _ Ledger = (*Hedera)(nil)

// NewHedera builds a client for cfg.Network. The treasury defaults to the operator
// and the metadata key to the operator key.
func NewHedera(cfg config.HederaConfig, logger *zap.Logger) (*Hedera, error) {
	network := cfg.Network
	if network == "" {
		network = "testnet"
	}
	client, err := hedera.ClientForName(network)
	if err != nil {
		return nil, fmt.Errorf("hedera client for %s: %w", network, err)
	}

	operatorID, err := hedera.AccountIDFromString(cfg.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("parse operator id: %w", err)
	}
	operatorKey, err := parseKey(cfg.OperatorKey)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	client.SetOperator(operatorID, operatorKey)

	tokenID, err := hedera.TokenIDFromString(cfg.NFTTokenID)
	if err != nil {
		return nil, fmt.Errorf("parse nft token id: %w", err)
	}

	treasury := operatorID
	if cfg.TreasuryID != "" {
		if treasury, err = hedera.AccountIDFromString(cfg.TreasuryID); err != nil {
			return nil, fmt.Errorf("parse treasury id: %w", err)
		}
	}

	metadataKey := operatorKey
	if cfg.MetadataKey != "" {
		if metadataKey, err = parseKey(cfg.MetadataKey); err != nil {
			return nil, fmt.Errorf("parse metadata key: %w", err)
		}
	}

	return &Hedera{
		client:      client,
		operatorKey: operatorKey,
		metadataKey: metadataKey,
		tokenID:     tokenID,
		treasury:    treasury,
		logger:      logger.Named("hedera"),
	}, nil
}

// keys are ECDSA (MetaMask compatible); DER strings are auto detected
func parseKey(s string) (hedera.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if strings.HasPrefix(s, "30") && len(s) > 64 {
		return hedera.PrivateKeyFromString(s)
	}
	return hedera.PrivateKeyFromStringECDSA(s)
}

func (h *Hedera) Close() error {
	return h.client.Close()
}

func (h *Hedera) TreasuryAccountID() string {
	return h.treasury.String()
}

func (h *Hedera) TokenNumber() string {
	return strconv.FormatUint(h.tokenID.Token, 10)
}

// observe records call latency and wraps failures into ErrLedger.
func (h *Hedera) observe(op string, start time.Time, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.LedgerCallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		h.logger.Error("Ledger call failed", zap.String("operation", op), zap.Error(err))
		return ErrLedger.Explain("Ledger %s failed", op).Wrap(err)
	}
	return nil
}

func (h *Hedera) MintParcelNFT(ctx context.Context, metadata []byte, owner string) (serial int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	defer func() { err = h.observe("mint", start, err) }()

	tx, err := hedera.NewTokenMintTransaction().
		SetTokenID(h.tokenID).
		SetMetadata(metadata).
		FreezeWith(h.client)
	if err != nil {
		return 0, err
	}
	resp, err := tx.Sign(h.operatorKey).Execute(h.client)
	if err != nil {
		return 0, err
	}
	receipt, err := resp.GetReceipt(h.client)
	if err != nil {
		return 0, err
	}
	if len(receipt.SerialNumbers) == 0 {
		return 0, fmt.Errorf("mint receipt carries no serial")
	}
	serial = receipt.SerialNumbers[0]

	if owner != "" && owner != h.treasury.String() {
		if _, err := h.transfer(serial, h.treasury, owner); err != nil {
			return serial, fmt.Errorf("move serial %d to %s: %w", serial, owner, err)
		}
	}
	return serial, nil
}

func (h *Hedera) UpdateParcelMetadata(ctx context.Context, serial int64, metadata []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { err = h.observe("update_metadata", start, err) }()

	tx, err := hedera.NewTokenUpdateNftsTransaction().
		SetTokenID(h.tokenID).
		SetSerialNumbers([]int64{serial}).
		SetMetadata(metadata).
		FreezeWith(h.client)
	if err != nil {
		return err
	}
	resp, err := tx.Sign(h.metadataKey).Execute(h.client)
	if err != nil {
		return err
	}
	_, err = resp.GetReceipt(h.client)
	return err
}

func (h *Hedera) TransferParcelNFT(ctx context.Context, serial int64, to string) (txID string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()
	defer func() { err = h.observe("transfer", start, err) }()
	return h.transfer(serial, h.treasury, to)
}

func (h *Hedera) transfer(serial int64, from hedera.AccountID, to string) (string, error) {
	receiver, err := hedera.AccountIDFromString(to)
	if err != nil {
		return "", err
	}
	nftID := hedera.NftID{TokenID: h.tokenID, SerialNumber: serial}
	tx, err := hedera.NewTransferTransaction().
		AddNftTransfer(nftID, from, receiver).
		FreezeWith(h.client)
	if err != nil {
		return "", err
	}
	resp, err := tx.Sign(h.operatorKey).Execute(h.client)
	if err != nil {
		return "", err
	}
	if _, err := resp.GetReceipt(h.client); err != nil {
		return "", err
	}
	return resp.TransactionID.String(), nil
}

func (h *Hedera) TransferApprovedNFT(ctx context.Context, serial int64, from, to string) (txID string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()
	defer func() { err = h.observe("transfer_approved", start, err) }()

	sender, err := hedera.AccountIDFromString(from)
	if err != nil {
		return "", err
	}
	receiver, err := hedera.AccountIDFromString(to)
	if err != nil {
		return "", err
	}
	nftID := hedera.NftID{TokenID: h.tokenID, SerialNumber: serial}
	tx, err := hedera.NewTransferTransaction().
		AddApprovedNftTransfer(nftID, sender, receiver, true).
		SetTransactionID(hedera.TransactionIDGenerate(h.treasury)).
		FreezeWith(h.client)
	if err != nil {
		return "", err
	}
	resp, err := tx.Sign(h.operatorKey).Execute(h.client)
	if err != nil {
		return "", err
	}
	if _, err := resp.GetReceipt(h.client); err != nil {
		return "", err
	}
	return resp.TransactionID.String(), nil
}

func (h *Hedera) CreateTopic(ctx context.Context, memo string) (topicID string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()
	defer func() { err = h.observe("create_topic", start, err) }()

	resp, err := hedera.NewTopicCreateTransaction().
		SetTopicMemo(memo).
		SetAdminKey(h.operatorKey.PublicKey()).
		Execute(h.client)
	if err != nil {
		return "", err
	}
	receipt, err := resp.GetReceipt(h.client)
	if err != nil {
		return "", err
	}
	if receipt.TopicID == nil {
		return "", fmt.Errorf("topic receipt carries no topic id")
	}
	return receipt.TopicID.String(), nil
}

func (h *Hedera) SubmitTopicMessage(ctx context.Context, topicID string, message []byte) (txID string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()
	defer func() { err = h.observe("submit_message", start, err) }()

	topic, err := hedera.TopicIDFromString(topicID)
	if err != nil {
		return "", err
	}
	resp, err := hedera.NewTopicMessageSubmitTransaction().
		SetTopicID(topic).
		SetMessage(message).
		Execute(h.client)
	if err != nil {
		return "", err
	}
	if _, err := resp.GetReceipt(h.client); err != nil {
		return "", err
	}
	return resp.TransactionID.String(), nil
}

func (h *Hedera) ResolveAccountID(ctx context.Context, evmAddress string) (accountID string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()
	defer func() { err = h.observe("resolve_account", start, err) }()

	id, err := hedera.AccountIDFromEvmAddress(0, 0, strings.TrimPrefix(evmAddress, "0x"))
	if err != nil {
		return "", err
	}
	info, err := hedera.NewAccountInfoQuery().SetAccountID(id).Execute(h.client)
	if err != nil {
		return "", err
	}
	return info.AccountID.String(), nil
}
