package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/custos-labs/everro/internal/metrics"
	"github.com/custos-labs/everro/internal/models"
	"github.com/custos-labs/everro/pkg/logger"
)

const (
	// rpcCallTimeout bounds a single RPC round trip
	rpcCallTimeout = 10 * time.Second

	// receiptPollInterval is how often WaitMined re-asks for the receipt
	receiptPollInterval = 3 * time.Second

	// fallbackTokenDecimals is used when the decimals read keeps failing
	fallbackTokenDecimals = 18

	// nativeTransferGas is the fixed gas cost of a plain value transfer
	nativeTransferGas = 21000

	// conservative limits used when gas estimation was unavailable
	defaultTokenTransferGas = 100000
	defaultApproveGas       = 60000

	// logChannelBuffer sizes the subscription channels
	logChannelBuffer     = 16
	pendingChannelBuffer = 64
)

// Gateway talks to the chain through the endpoint pool. Every call goes
// through a bounded retry that rotates the pool on transient errors.
var _ models.ChainGateway = (*Gateway)(nil)

type Gateway struct {
	logger   *logger.Logger
	metrics  *metrics.Metrics
	pool     *Pool
	notifier models.NotificationService
	account  models.Account
	token    models.Token
	wsURL    string

	erc20 abi.ABI

	mu      sync.Mutex
	clients map[int]*ethclient.Client

	wsMu  sync.Mutex
	wsRPC *rpc.Client

	chainMu sync.Mutex
	chainID *big.Int

	decMu    sync.Mutex
	decimals *uint8
}

// NewGateway creates a new Gateway instance.
func NewGateway(logger *logger.Logger, metrics *metrics.Metrics, pool *Pool, notifier models.NotificationService, account models.Account, token models.Token, wsURL string) (*Gateway, error) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}
	return &Gateway{
		logger:   logger,
		metrics:  metrics,
		pool:     pool,
		notifier: notifier,
		account:  account,
		token:    token,
		wsURL:    wsURL,
		erc20:    parsed,
		clients:  make(map[int]*ethclient.Client),
	}, nil
}

// Rotate advances the endpoint pool to the next endpoint.
func (g *Gateway) Rotate() {
	g.pool.Rotate()
	g.metrics.EndpointRotations.Inc()
}

// client returns a connection to the active endpoint, dialing it on first use.
func (g *Gateway) client() (*ethclient.Client, error) {
	idx, url := g.pool.Snapshot()

	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[idx]; ok {
		return c, nil
	}
	c, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", url, err)
	}
	g.clients[idx] = c
	return c, nil
}

// withRetry resolves the active endpoint afresh per attempt, rotating the
// shared cursor on transient errors.
func (g *Gateway) withRetry(ctx context.Context, fn func(*ethclient.Client) error) error {
	policy := retryPolicy{
		Attempts:  retryAttempts,
		BaseDelay: retryBaseDelay,
		OnTransient: func(attempt int, err error) {
			g.logger.Warnw("transient RPC error, rotating endpoint",
				"attempt", attempt,
				"endpoint", g.pool.Current(),
				"error", err)
			g.Rotate()
		},
	}
	return retryDo(ctx, policy, func() error {
		c, err := g.client()
		if err != nil {
			return err
		}
		return fn(c)
	})
}

func (g *Gateway) boundToken(c *ethclient.Client) *bind.BoundContract {
	return bind.NewBoundContract(g.token.Address, g.erc20, c, c, c)
}

func (g *Gateway) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out *big.Int
	err := g.withRetry(ctx, func(c *ethclient.Client) error {
		cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()
		b, err := c.BalanceAt(cctx, addr, nil)
		if err != nil {
			return fmt.Errorf("failed to get native balance: %w", err)
		}
		out = b
		return nil
	})
	return out, err
}

func (g *Gateway) TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out *big.Int
	err := g.withRetry(ctx, func(c *ethclient.Client) error {
		cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()
		results := []interface{}{}
		if err := g.boundToken(c).Call(&bind.CallOpts{Context: cctx}, &results, "balanceOf", addr); err != nil {
			return fmt.Errorf("failed to get token balance: %w", err)
		}
		out = results[0].(*big.Int)
		return nil
	})
	return out, err
}

// TokenDecimals is cached after the first successful read. The read failing
// does not propagate; the fixed fallback is returned with ok=false so callers
// and metrics can tell the default is in effect.
func (g *Gateway) TokenDecimals(ctx context.Context) (uint8, bool) {
	g.decMu.Lock()
	if g.decimals != nil {
		d := *g.decimals
		g.decMu.Unlock()
		return d, true
	}
	g.decMu.Unlock()

	var dec uint8
	err := g.withRetry(ctx, func(c *ethclient.Client) error {
		cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()
		results := []interface{}{}
		if err := g.boundToken(c).Call(&bind.CallOpts{Context: cctx}, &results, "decimals"); err != nil {
			return fmt.Errorf("failed to get token decimals: %w", err)
		}
		dec = results[0].(uint8)
		return nil
	})
	if err != nil {
		g.logger.Warnw("token decimals unavailable, using fallback",
			"fallback", fallbackTokenDecimals,
			"error", err)
		g.metrics.DecimalsFallbacks.Inc()
		return fallbackTokenDecimals, false
	}

	g.decMu.Lock()
	g.decimals = &dec
	g.decMu.Unlock()
	return dec, true
}

func (g *Gateway) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var out *big.Int
	err := g.withRetry(ctx, func(c *ethclient.Client) error {
		cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()
		results := []interface{}{}
		if err := g.boundToken(c).Call(&bind.CallOpts{Context: cctx}, &results, "allowance", owner, spender); err != nil {
			return fmt.Errorf("failed to get allowance: %w", err)
		}
		out = results[0].(*big.Int)
		return nil
	})
	return out, err
}

// SuggestFees prefers the fee-market fields and falls back to a legacy gas
// price when the endpoint does not serve them.
func (g *Gateway) SuggestFees(ctx context.Context) (*models.FeeQuote, error) {
	var quote *models.FeeQuote
	err := g.withRetry(ctx, func(c *ethclient.Client) error {
		cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()

		head, err := c.HeaderByNumber(cctx, nil)
		if err == nil && head.BaseFee != nil {
			tip, tipErr := c.SuggestGasTipCap(cctx)
			if tipErr == nil {
				maxFee := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
				quote = &models.FeeQuote{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}
				return nil
			}
		}

		gasPrice, err := c.SuggestGasPrice(cctx)
		if err != nil {
			return fmt.Errorf("failed to get gas price: %w", err)
		}
		quote = &models.FeeQuote{GasPrice: gasPrice}
		return nil
	})
	return quote, err
}

func (g *Gateway) EstimateTokenTransfer(ctx context.Context, to common.Address, amount *big.Int) (uint64, bool) {
	data, err := g.erc20.Pack("transfer", to, amount)
	if err != nil {
		return 0, false
	}
	return g.estimateGas(ctx, data)
}

func (g *Gateway) EstimateApproveZero(ctx context.Context, spender common.Address) (uint64, bool) {
	data, err := g.erc20.Pack("approve", spender, big.NewInt(0))
	if err != nil {
		return 0, false
	}
	return g.estimateGas(ctx, data)
}

func (g *Gateway) estimateGas(ctx context.Context, data []byte) (uint64, bool) {
	var limit uint64
	err := g.withRetry(ctx, func(c *ethclient.Client) error {
		cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()
		l, err := c.EstimateGas(cctx, ethereum.CallMsg{
			From: g.account.Address,
			To:   &g.token.Address,
			Data: data,
		})
		if err != nil {
			return fmt.Errorf("failed to estimate gas: %w", err)
		}
		limit = l
		return nil
	})
	if err != nil {
		g.logger.Debugw("gas estimation unavailable", "error", err)
		return 0, false
	}
	return limit, true
}

func (g *Gateway) TransferNative(ctx context.Context, to common.Address, amount *big.Int, fees *models.FeeQuote) (common.Hash, error) {
	return g.sendTx(ctx, to, amount, nil, nativeTransferGas, fees)
}

func (g *Gateway) TransferToken(ctx context.Context, to common.Address, amount *big.Int, gasLimit uint64, fees *models.FeeQuote) (common.Hash, error) {
	data, err := g.erc20.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack transfer calldata: %w", err)
	}
	if gasLimit == 0 {
		gasLimit = defaultTokenTransferGas
	}
	return g.sendTx(ctx, g.token.Address, big.NewInt(0), data, gasLimit, fees)
}

func (g *Gateway) ApproveZero(ctx context.Context, spender common.Address, gasLimit uint64, fees *models.FeeQuote) (common.Hash, error) {
	data, err := g.erc20.Pack("approve", spender, big.NewInt(0))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approve calldata: %w", err)
	}
	if gasLimit == 0 {
		gasLimit = defaultApproveGas
	}
	return g.sendTx(ctx, g.token.Address, big.NewInt(0), data, gasLimit, fees)
}

func (g *Gateway) sendTx(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64, fees *models.FeeQuote) (common.Hash, error) {
	chainID, err := g.networkID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	if fees == nil {
		fees, err = g.SuggestFees(ctx)
		if err != nil {
			return common.Hash{}, err
		}
	}

	var nonce uint64
	err = g.withRetry(ctx, func(c *ethclient.Client) error {
		cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()
		n, err := c.PendingNonceAt(cctx, g.account.Address)
		if err != nil {
			return fmt.Errorf("failed to get nonce: %w", err)
		}
		nonce = n
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}

	var txdata types.TxData
	if fees.Dynamic() {
		txdata = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.MaxPriorityFeePerGas,
			GasFeeCap: fees.MaxFeePerGas,
			Gas:       gasLimit,
			To:        &to,
			Value:     value,
			Data:      data,
		}
	} else {
		txdata = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		}
	}

	signed, err := types.SignNewTx(g.account.Key, types.LatestSignerForChainID(chainID), txdata)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	err = g.withRetry(ctx, func(c *ethclient.Client) error {
		cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()
		if err := c.SendTransaction(cctx, signed); err != nil {
			return fmt.Errorf("failed to send transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}

	return signed.Hash(), nil
}

func (g *Gateway) networkID(ctx context.Context) (*big.Int, error) {
	g.chainMu.Lock()
	defer g.chainMu.Unlock()
	if g.chainID != nil {
		return g.chainID, nil
	}

	var id *big.Int
	err := g.withRetry(ctx, func(c *ethclient.Client) error {
		cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()
		cid, err := c.ChainID(cctx)
		if err != nil {
			return fmt.Errorf("failed to get chain id: %w", err)
		}
		id = cid
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.chainID = id
	return id, nil
}

// WaitMined blocks until the transaction has one confirmation. A reverted
// receipt is surfaced as an error.
func (g *Gateway) WaitMined(ctx context.Context, hash common.Hash) error {
	for {
		var receipt *types.Receipt
		err := g.withRetry(ctx, func(c *ethclient.Client) error {
			cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
			defer cancel()
			r, err := c.TransactionReceipt(cctx, hash)
			if errors.Is(err, ethereum.NotFound) {
				// not mined yet, keep polling without burning retries
				return nil
			}
			if err != nil {
				return err
			}
			receipt = r
			return nil
		})
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return nil
		}
		if err != nil {
			g.logger.Debugw("waiting for transaction receipt", "tx", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
}

// wsClient returns the push-subscription connection, dialing it on first use.
func (g *Gateway) wsClient(ctx context.Context) (*rpc.Client, error) {
	if g.wsURL == "" {
		return nil, fmt.Errorf("no push-subscription endpoint configured")
	}
	g.wsMu.Lock()
	defer g.wsMu.Unlock()
	if g.wsRPC != nil {
		return g.wsRPC, nil
	}
	c, err := rpc.DialContext(ctx, g.wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to push endpoint %s: %w", g.wsURL, err)
	}
	g.wsRPC = c
	return c, nil
}

// dropWS discards a dead push connection so the next subscription re-dials.
func (g *Gateway) dropWS() {
	g.wsMu.Lock()
	defer g.wsMu.Unlock()
	if g.wsRPC != nil {
		g.wsRPC.Close()
		g.wsRPC = nil
	}
}

func (g *Gateway) SubscribeTransferLogs(ctx context.Context, recipient common.Address, handler func(types.Log)) error {
	rpcClient, err := g.wsClient(ctx)
	if err != nil {
		return err
	}
	client := ethclient.NewClient(rpcClient)

	query := ethereum.FilterQuery{
		Addresses: []common.Address{g.token.Address},
		Topics: [][]common.Hash{
			{TransferEventTopic},
			nil,
			{common.BytesToHash(common.LeftPadBytes(recipient.Bytes(), 32))},
		},
	}
	ch := make(chan types.Log, logChannelBuffer)
	sub, err := client.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		g.dropWS()
		return fmt.Errorf("failed to subscribe to transfer logs: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case lg := <-ch:
			g.safeHandle("transferLog", func() { handler(lg) })
		case err := <-sub.Err():
			g.dropWS()
			return fmt.Errorf("transfer log subscription closed: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gateway) SubscribePendingTransactions(ctx context.Context, handler func(*types.Transaction)) error {
	rpcClient, err := g.wsClient(ctx)
	if err != nil {
		return err
	}
	client := ethclient.NewClient(rpcClient)
	gc := gethclient.New(rpcClient)

	hashes := make(chan common.Hash, pendingChannelBuffer)
	sub, err := gc.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		g.dropWS()
		return fmt.Errorf("failed to subscribe to pending transactions: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case h := <-hashes:
			cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
			tx, _, err := client.TransactionByHash(cctx, h)
			cancel()
			if err != nil || tx == nil {
				// pending entries vanish routinely; not worth more than a debug line
				g.logger.Debugw("pending transaction not retrievable", "tx", h.Hex())
				continue
			}
			g.safeHandle("pendingTx", func() { handler(tx) })
		case err := <-sub.Err():
			g.dropWS()
			return fmt.Errorf("pending transaction subscription closed: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// safeHandle contains a panicking event handler so one bad event cannot kill
// the subscription stream.
func (g *Gateway) safeHandle(stream string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Errorw("event handler panicked",
				"stream", stream,
				"panic", r,
				"stack", string(debug.Stack()))
			g.notifier.Notify(fmt.Sprintf("Event handler fault on %s stream: %v", stream, r))
		}
	}()
	fn()
}

// Close tears down every open connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	for _, c := range g.clients {
		c.Close()
	}
	g.clients = make(map[int]*ethclient.Client)
	g.mu.Unlock()
	g.dropWS()
}
