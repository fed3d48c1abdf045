package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stablebank/core/types"
)

// apiError mirrors the daemon's error body.
type apiError struct {
	Status int    `json:"-"`
	Code   string `json:"code"`
	Err    string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err)
}

type bankInfo struct {
	ChainID        uint64 `json:"chainId"`
	Address        string `json:"address"`
	Admin          string `json:"admin"`
	Settlement     string `json:"settlement"`
	Router         string `json:"router"`
	WrappedNative  string `json:"wrappedNative"`
	TotalDeposited string `json:"totalDeposited"`
	Cap            string `json:"cap"`
}

type accountInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Balance string `json:"balance"`
}

type receipt struct {
	Hash    string            `json:"hash"`
	Sender  string            `json:"sender"`
	Nonce   uint64            `json:"nonce"`
	Status  string            `json:"status"`
	Code    string            `json:"code"`
	Error   string            `json:"error"`
	Amount  string            `json:"amount"`
	Allowed bool              `json:"allowed"`
	Events  []json.RawMessage `json:"events"`
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: strings.TrimRight(strings.TrimSpace(base), "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *client) bank(ctx context.Context) (*bankInfo, error) {
	var info bankInfo
	if err := c.get(ctx, "/v1/bank", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *client) account(ctx context.Context, addr common.Address) (*accountInfo, error) {
	var info accountInfo
	if err := c.get(ctx, "/v1/accounts/"+addr.Hex(), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// submit posts a signed transaction. Rejected transactions still yield a
// receipt.
func (c *client) submit(ctx context.Context, tx *types.Transaction) (*receipt, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/tx", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, decodeAPIError(resp.StatusCode, payload)
	}
	var out receipt
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &out, nil
}

func (c *client) getRaw(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var raw json.RawMessage
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp.StatusCode, payload)
	}
	return json.Unmarshal(payload, out)
}

func decodeAPIError(status int, payload []byte) error {
	apiErr := &apiError{Status: status}
	if err := json.Unmarshal(payload, apiErr); err != nil || apiErr.Err == "" {
		apiErr.Err = strings.TrimSpace(string(payload))
	}
	return apiErr
}
