// Package identity implements the on-chain identity registry client (C1):
// resolving a node name to its public keys and network address, with a
// TTL-bounded cache in front of the chain call.
package identity

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shinkai-node/errs"
)

// registryABI is the minimal ABI surface the registry contract exposes:
// a single view function resolving a node name to its two public keys and
// network address.
const registryABI = `[{
	"constant": true,
	"inputs": [{"name": "name", "type": "string"}],
	"name": "resolve",
	"outputs": [
		{"name": "encryptionPubKey", "type": "bytes32"},
		{"name": "signingPubKey", "type": "bytes32"},
		{"name": "addr", "type": "string"}
	],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

// OnchainRecord is the resolved identity record for a node name.
type OnchainRecord struct {
	EncryptionPublicKey [32]byte
	SigningPublicKey    [32]byte
	Address             string
}

// ChainReader is the subset of ethclient.Client used by Client, so tests
// can substitute a fake without dialing a real chain.
type ChainReader interface {
	bind.ContractCaller
}

// NewWithReader builds a Client around an already-constructed ChainReader,
// bypassing the RPC dial. It is exported so tests can inject a fake
// contract caller without a live chain endpoint.
func NewWithReader(reader ChainReader, cfg Config) (*Client, error) {
	return newWithReader(reader, cfg)
}

// Client resolves node names through an on-chain registry contract and
// caches successful resolutions for a configurable TTL. Resolution
// failures are never cached.
type Client struct {
	caller          *bind.BoundContract
	contractAddress common.Address
	cache           *lru.LRU[string, OnchainRecord]
}

// Config configures a new Client.
type Config struct {
	RPCURL          string
	ContractAddress string
	CacheTTL        time.Duration
	CacheSize       int
}

// New dials the registry RPC endpoint and returns a ready Client.
func New(cfg Config) (*Client, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "New",
		"package":  "identity",
		"rpc_url":  cfg.RPCURL,
	})

	logger.Info("dialing identity registry RPC endpoint")

	ec, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_type": "dial_failed",
		}).Error("failed to dial identity registry RPC endpoint")
		return nil, errs.New("identity.New", errs.NetworkIO, err)
	}

	return newWithReader(ec, cfg)
}

// newWithReader builds a Client around an already-constructed ChainReader,
// used directly by New and by tests that inject a fake reader.
func newWithReader(reader ChainReader, cfg Config) (*Client, error) {
	parsedABI, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, errs.New("identity.New", errs.Serialization, err)
	}

	addr := common.HexToAddress(cfg.ContractAddress)
	caller := bind.NewBoundContract(addr, parsedABI, reader, nil, nil)

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}

	return &Client{
		caller:          caller,
		contractAddress: addr,
		cache:           lru.NewLRU[string, OnchainRecord](size, nil, ttl),
	}, nil
}

// Resolve returns the OnchainRecord for name, consulting the TTL cache
// first. A cache miss calls the registry contract; a failed call is
// returned to the caller and not cached.
func (c *Client) Resolve(ctx context.Context, name string) (OnchainRecord, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Resolve",
		"package":  "identity",
		"name":     name,
	})

	if record, ok := c.cache.Get(name); ok {
		logger.Debug("identity cache hit")
		return record, nil
	}

	logger.Debug("identity cache miss, querying registry contract")

	callOpts := &bind.CallOpts{Context: ctx}
	results, err := c.callResolve(callOpts, name)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_type": "identity_unknown",
		}).Warn("registry resolution failed")
		return OnchainRecord{}, errs.New("identity.Resolve", errs.IdentityUnknown, err)
	}

	c.cache.Add(name, results)
	return results, nil
}

// callResolve performs the typed contract call and decodes the three
// return values into an OnchainRecord.
func (c *Client) callResolve(opts *bind.CallOpts, name string) (OnchainRecord, error) {
	var raw []interface{}
	if err := c.caller.Call(opts, &raw, "resolve", name); err != nil {
		return OnchainRecord{}, err
	}
	if len(raw) != 3 {
		return OnchainRecord{}, errNotFoundArity(len(raw))
	}

	encKey, ok := raw[0].([32]byte)
	if !ok {
		return OnchainRecord{}, errDecodeField("encryptionPubKey")
	}
	signKey, ok := raw[1].([32]byte)
	if !ok {
		return OnchainRecord{}, errDecodeField("signingPubKey")
	}
	addr, ok := raw[2].(string)
	if !ok {
		return OnchainRecord{}, errDecodeField("addr")
	}

	return OnchainRecord{
		EncryptionPublicKey: encKey,
		SigningPublicKey:    signKey,
		Address:             addr,
	}, nil
}

func errNotFoundArity(got int) error {
	return &decodeError{detail: "expected 3 return values, got " + strconv.Itoa(got)}
}

func errDecodeField(field string) error {
	return &decodeError{detail: "could not decode field " + field}
}

type decodeError struct{ detail string }

func (e *decodeError) Error() string { return "identity: " + e.detail }
