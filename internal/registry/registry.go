// Package registry implements wallet registration (component C4):
// base58 address validation, register/unregister/list, bulk all-or-nothing
// registration, and auto-register (optionally with cache warming).
// Grounded on the teacher's github.com/mr-tron/base58 dependency (listed,
// unused by the teacher's own code) and its single-entity
// validate-then-write service pattern.
package registry

import (
	"context"
	"time"

	"github.com/mr-tron/base58"

	"github.com/walletmemory/core/internal/cache"
	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/errors"
	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/store"
)

// minAddressBytes/maxAddressBytes bound a plausible decoded base58 wallet
// address length (32-byte public keys plus some room for longer encodings).
const (
	minAddressBytes = 16
	maxAddressBytes = 64
)

// ValidateAddress reports whether address is well-formed base58 and decodes
// to a plausible public-key length.
func ValidateAddress(address string) error {
	if address == "" {
		return errors.ValidationFailed("address must not be empty")
	}
	decoded, err := base58.Decode(address)
	if err != nil {
		return errors.ValidationFailed("address is not valid base58: " + err.Error())
	}
	if len(decoded) < minAddressBytes || len(decoded) > maxAddressBytes {
		return errors.ValidationFailed("address does not decode to a plausible key length")
	}
	return nil
}

// Registry manages wallet registrations.
type Registry struct {
	store store.Store
	cache *cache.Cache
	log   *logging.Logger
}

// New constructs a Registry. cache may be nil to disable warming.
func New(st store.Store, c *cache.Cache, log *logging.Logger) *Registry {
	return &Registry{store: st, cache: c, log: log}
}

// Register validates and stores a new wallet registration.
func (r *Registry) Register(ctx context.Context, address, label string) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	return r.store.RegisterWallet(ctx, domain.WalletRegistration{
		Address:      address,
		Label:        label,
		RegisteredAt: time.Now(),
	})
}

// Unregister transitions a wallet's registration to paused via the store;
// the registration row and its history are kept.
func (r *Registry) Unregister(ctx context.Context, address string) error {
	return r.store.UnregisterWallet(ctx, address)
}

// List returns every registered wallet.
func (r *Registry) List(ctx context.Context) ([]domain.WalletRegistration, error) {
	return r.store.ListRegistrations(ctx)
}

// RegisterBulk validates the entire batch before performing any write, so a
// single malformed address rejects the whole batch rather than leaving a
// partially-registered set.
func (r *Registry) RegisterBulk(ctx context.Context, addresses []string, label string) error {
	for _, addr := range addresses {
		if err := ValidateAddress(addr); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(addresses))
	for _, addr := range addresses {
		if seen[addr] {
			return errors.ValidationFailed("duplicate address in batch: " + addr)
		}
		seen[addr] = true
		if _, ok, err := r.store.GetRegistration(ctx, addr); err != nil {
			return err
		} else if ok {
			return errors.AlreadyRegistered(addr)
		}
	}

	now := time.Now()
	for _, addr := range addresses {
		if err := r.store.RegisterWallet(ctx, domain.WalletRegistration{
			Address:      addr,
			Label:        label,
			RegisteredAt: now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// AutoRegister registers address only if it is not already registered,
// silently succeeding if it is. Used by the indexer when it observes
// activity for an unknown wallet and auto-registration is enabled.
func (r *Registry) AutoRegister(ctx context.Context, address string) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	if _, ok, err := r.store.GetRegistration(ctx, address); err != nil {
		return err
	} else if ok {
		return nil
	}
	return r.store.RegisterWallet(ctx, domain.WalletRegistration{
		Address:        address,
		RegisteredAt:   time.Now(),
		AutoRegistered: true,
	})
}

// AutoRegisterAndWarm behaves like AutoRegister, additionally warming the
// cache with an empty balances placeholder so the first balances query
// after registration is not a guaranteed miss.
func (r *Registry) AutoRegisterAndWarm(ctx context.Context, address string) error {
	if err := r.AutoRegister(ctx, address); err != nil {
		return err
	}
	if r.cache == nil {
		return nil
	}
	key := cache.DeriveKey(address, "balances", nil)
	return r.cache.Set(ctx, key, []domain.Balance{}, 0)
}
