package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quorumpay/mandate/pkg/mandate"
)

// RailConfig carries the non-secret connection settings for one rail.
// CredentialRef points into the operator's secret store; the credential
// itself never appears in process config.
type RailConfig struct {
	Endpoint      string `yaml:"endpoint"`
	CredentialRef string `yaml:"credential_ref"`
}

// simRail is the shared core of the shipped rail adapters. It stands in for
// the network boundary: settlements are idempotent per transaction id and a
// reference is minted on first settle. Real deployments replace these with
// processor-specific Backend implementations.
type simRail struct {
	mu      sync.Mutex
	name    string
	cfg     RailConfig
	log     *slog.Logger
	settled map[string]Result
	seq     int
}

func newSimRail(name string, cfg RailConfig, log *slog.Logger) *simRail {
	if log == nil {
		log = slog.Default()
	}
	return &simRail{name: name, cfg: cfg, log: log, settled: make(map[string]Result)}
}

func (r *simRail) Settle(ctx context.Context, transactionID string, amountMinor int64, currency string, method mandate.PaymentMethod) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Idempotent replay: same transaction id returns the original outcome.
	if res, ok := r.settled[transactionID]; ok {
		return res, nil
	}

	if amountMinor <= 0 {
		res := Result{Success: false, Err: "rail rejected non-positive amount"}
		r.settled[transactionID] = res
		return res, nil
	}

	r.seq++
	res := Result{
		Success:   true,
		Reference: fmt.Sprintf("%s-%06d", r.name, r.seq),
	}
	r.settled[transactionID] = res
	r.log.Info("settlement completed",
		"rail", r.name,
		"transaction_id", transactionID,
		"amount_minor", amountMinor,
		"currency", currency,
		"provider_ref", method.ProviderRef,
		"reference", res.Reference)
	return res, nil
}

func (r *simRail) Lookup(ctx context.Context, transactionID string) (Result, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.settled[transactionID]
	return res, ok, nil
}

// CardBackend settles on a card processor.
type CardBackend struct{ *simRail }

func NewCardBackend(cfg RailConfig, log *slog.Logger) *CardBackend {
	return &CardBackend{newSimRail("card", cfg, log)}
}

// BankTransferBackend settles over bank rails.
type BankTransferBackend struct{ *simRail }

func NewBankTransferBackend(cfg RailConfig, log *slog.Logger) *BankTransferBackend {
	return &BankTransferBackend{newSimRail("bank", cfg, log)}
}

// WalletBackend settles against a digital wallet provider.
type WalletBackend struct{ *simRail }

func NewWalletBackend(cfg RailConfig, log *slog.Logger) *WalletBackend {
	return &WalletBackend{newSimRail("wallet", cfg, log)}
}

// CryptoBackend settles on-chain via a custody provider.
type CryptoBackend struct{ *simRail }

func NewCryptoBackend(cfg RailConfig, log *slog.Logger) *CryptoBackend {
	return &CryptoBackend{newSimRail("crypto", cfg, log)}
}

// DefaultExecutor wires all four shipped backends from rail configs.
func DefaultExecutor(rails map[string]RailConfig, log *slog.Logger) *Executor {
	e := NewExecutor()
	e.Register(mandate.MethodCard, NewCardBackend(rails["card"], log))
	e.Register(mandate.MethodBankTransfer, NewBankTransferBackend(rails["bank_transfer"], log))
	e.Register(mandate.MethodWallet, NewWalletBackend(rails["wallet"], log))
	e.Register(mandate.MethodCrypto, NewCryptoBackend(rails["crypto"], log))
	return e
}
