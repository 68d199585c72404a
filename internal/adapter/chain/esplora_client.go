package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crypto-escrow-gateway/config"
	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/pkg/apperror"

	"github.com/rs/zerolog"
)

// EsploraClient implements ports.ChainSource against an Esplora-compatible
// HTTP API (Blockstream, mempool.space, or a self-hosted electrs instance).
type EsploraClient struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewEsploraClient creates a new Esplora chain client.
func NewEsploraClient(cfg config.ChainConfig, logger zerolog.Logger) *EsploraClient {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &EsploraClient{
		baseURL:    strings.TrimRight(cfg.ProviderURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// esploraTx is the subset of the Esplora transaction shape we consume.
type esploraTx struct {
	TxID   string `json:"txid"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
		BlockTime   int64 `json:"block_time"`
	} `json:"status"`
	Vout []struct {
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"`
	} `json:"vout"`
}

// Observations returns one confirmation event per transaction paying the
// address. The amount is the sum of outputs to the address within that
// transaction; unconfirmed transactions are reported at depth zero so
// consumers can hold off until their threshold is met.
func (c *EsploraClient) Observations(ctx context.Context, address string) ([]domain.ConfirmationEvent, error) {
	tip, err := c.tipHeight(ctx)
	if err != nil {
		return nil, err
	}

	var txs []esploraTx
	endpoint := fmt.Sprintf("%s/address/%s/txs", c.baseURL, url.PathEscape(address))
	if err := c.getJSON(ctx, endpoint, &txs); err != nil {
		return nil, err
	}

	events := make([]domain.ConfirmationEvent, 0, len(txs))
	for _, tx := range txs {
		var amount int64
		for _, out := range tx.Vout {
			if out.ScriptPubKeyAddress == address {
				amount += out.Value
			}
		}
		if amount == 0 {
			// Spends from the address, not payments to it.
			continue
		}

		var confirmations int32
		observedAt := time.Now().UTC()
		if tx.Status.Confirmed {
			confirmations = int32(tip - tx.Status.BlockHeight + 1)
			if tx.Status.BlockTime > 0 {
				observedAt = time.Unix(tx.Status.BlockTime, 0).UTC()
			}
		}

		events = append(events, domain.ConfirmationEvent{
			Address:        address,
			TxID:           tx.TxID,
			AmountObserved: amount,
			Confirmations:  confirmations,
			ObservedAt:     observedAt,
		})
	}
	return events, nil
}

func (c *EsploraClient) tipHeight(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/blocks/tip/height", nil)
	if err != nil {
		return 0, apperror.ErrChainProviderUnavailable(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, apperror.ErrChainProviderUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apperror.ErrChainProviderUnavailable(fmt.Errorf("tip height returned %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, apperror.ErrChainProviderUnavailable(err)
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, apperror.ErrChainProviderUnavailable(fmt.Errorf("parsing tip height: %w", err))
	}
	return height, nil
}

func (c *EsploraClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperror.ErrChainProviderUnavailable(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.ErrChainProviderUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperror.ErrChainProviderUnavailable(fmt.Errorf("%s returned %d", endpoint, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.ErrChainProviderUnavailable(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
