package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// TxStatus is the ledger's view of a referenced transaction.
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxPending   TxStatus = "pending"
	TxNotFound  TxStatus = "not_found"
)

// Lookup is the result of a ledger query for one transaction reference.
type Lookup struct {
	Status      TxStatus
	AmountTon   float64
	Destination string
}

// Ledger answers whether a wallet transaction reference is confirmed on
// chain and what it transferred.
type Ledger interface {
	LookupTransaction(ctx context.Context, reference string) (Lookup, error)
}

// TonClient queries a TON HTTP gateway for transaction confirmations.
type TonClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewTonClient(baseURL, apiKey string) *TonClient {
	return &TonClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

func (c *TonClient) LookupTransaction(ctx context.Context, reference string) (Lookup, error) {
	endpoint := c.baseURL + "/transactions/" + url.PathEscape(reference)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Lookup{}, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Lookup{}, fmt.Errorf("ledger request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Lookup{Status: TxNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Lookup{}, fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}

	var body struct {
		Status      string  `json:"status"`
		AmountTon   float64 `json:"amount_ton"`
		Destination string  `json:"destination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Lookup{}, fmt.Errorf("decode ledger response: %w", err)
	}

	switch body.Status {
	case "confirmed":
		return Lookup{Status: TxConfirmed, AmountTon: body.AmountTon, Destination: body.Destination}, nil
	case "pending":
		return Lookup{Status: TxPending}, nil
	default:
		return Lookup{Status: TxNotFound}, nil
	}
}

var _ Ledger = (*TonClient)(nil)
