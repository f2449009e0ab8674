package bridge

import (
	"context"
	"encoding/json"
	"strings"

	"gopkg.in/fatih/set.v0"
	"moff.io/snap-bridge/internal/session"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

// ListAccounts reloads the account store. On failure the previous list is kept.
func (b *Bridge) ListAccounts(ctx context.Context) ([]snap.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "list_accounts")
	accounts, err := b.refreshAccounts(ctx)
	return accounts, b.end(ctx, a, err)
}

// CreateSeed asks the snap for a fresh mnemonic. No account is created.
func (b *Bridge) CreateSeed(ctx context.Context) (*snap.Seed, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "create_seed")
	seed, err := b.client.CreateSeed(ctx)
	if err == nil {
		a.address = seed.Address
	}
	return seed, b.end(ctx, a, err)
}

// CreateAccount adds the account derived from seed and returns its address.
func (b *Bridge) CreateAccount(ctx context.Context, seed, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "create_account")
	address, err := b.createAccount(ctx, seed, name)
	a.address = address
	return address, b.end(ctx, a, err)
}

func (b *Bridge) createAccount(ctx context.Context, seed, name string) (string, error) {
	if strings.TrimSpace(seed) == "" {
		return "", invalidInput("seed is required")
	}
	address, err := b.client.CreateAccountWithSeed(ctx, seed, name)
	if err != nil {
		return "", err
	}
	if _, err := b.refreshAccounts(ctx); err != nil {
		return address, err
	}
	return address, nil
}

// DeleteAccount removes address from the store.
func (b *Bridge) DeleteAccount(ctx context.Context, address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "delete_account")
	a.address = address
	return b.end(ctx, a, b.mutateAccount(ctx, address, b.client.ForgetAccount))
}

// SelectAccount marks address as selected; the signer is rebuilt for it.
func (b *Bridge) SelectAccount(ctx context.Context, address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "select_account")
	a.address = address
	return b.end(ctx, a, b.mutateAccount(ctx, address, b.client.SelectAccount))
}

// mutateAccount runs mutation for address and refreshes the list. A rejected mutation on an
// address the refreshed store does not know is reported as ErrAccountNotFound.
func (b *Bridge) mutateAccount(ctx context.Context, address string, mutation func(context.Context, string) error) error {
	if strings.TrimSpace(address) == "" {
		return invalidInput("address is required")
	}
	if err := mutation(ctx, address); err != nil {
		if errors.Is(err, snap.ErrTransportUnavailable) {
			return err
		}
		accounts, listErr := b.refreshAccounts(ctx)
		if listErr == nil && indexOf(accounts, address) < 0 {
			return errors.Mark(errors.Wrapf(err, "%v", address), ErrAccountNotFound)
		}
		return err
	}
	_, err := b.refreshAccounts(ctx)
	return err
}

// ImportAccountsFromJSON imports a keystore export and returns the snap's answer.
func (b *Bridge) ImportAccountsFromJSON(ctx context.Context, keystore json.RawMessage, password string) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "import_accounts")
	res, err := b.importAccounts(ctx, keystore, password)
	return res, b.end(ctx, a, err)
}

// ImportAccountsFromKeystore imports the export stored under key in the configured keystore source.
func (b *Bridge) ImportAccountsFromKeystore(ctx context.Context, key string) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "import_keystore")
	a.detail = map[string]interface{}{"key": key}
	res, err := b.importFromKeystore(ctx, key)
	return res, b.end(ctx, a, err)
}

func (b *Bridge) importFromKeystore(ctx context.Context, key string) (json.RawMessage, error) {
	if b.keystore == nil {
		return nil, invalidInput("no keystore source configured")
	}
	if key == "" {
		return nil, invalidInput("keystore key is required")
	}
	keystore, err := b.keystore.Keystore(ctx, key)
	if err != nil {
		return nil, err
	}
	password, err := b.keystore.Password(ctx)
	if err != nil {
		return nil, err
	}
	return b.importAccounts(ctx, keystore, password)
}

func (b *Bridge) importAccounts(ctx context.Context, keystore json.RawMessage, password string) (json.RawMessage, error) {
	if len(keystore) == 0 || !json.Valid(keystore) {
		return nil, invalidInput("keystore must be a json document")
	}
	if password == "" {
		return nil, invalidInput("password is required")
	}
	res, err := b.client.ImportAccountsFromJSON(ctx, keystore, password)
	if err != nil {
		return nil, err
	}
	if _, err := b.refreshAccounts(ctx); err != nil {
		return json.RawMessage(res.Raw), err
	}
	return json.RawMessage(res.Raw), nil
}

// InitKeyring asks the snap to load its keyring.
func (b *Bridge) InitKeyring(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "init_keyring")
	return b.end(ctx, a, b.client.InitKeyring(ctx))
}

// refreshAccounts replaces the cached list with the store's and rebuilds the signer for the
// selected account. The cached list is left untouched when the store cannot be read.
func (b *Bridge) refreshAccounts(ctx context.Context) ([]snap.Account, error) {
	listed, err := b.client.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	accounts := normaliseAccounts(listed)
	b.state.Update(func(tx *session.Tx) {
		tx.SetAccounts(accounts)
	})
	log.Ctx(ctx).Debugf("bridge - %d accounts loaded", len(accounts))
	return accounts, b.rebuildSigner(ctx)
}

// normaliseAccounts collapses duplicate addresses, keeping the first entry, and leaves at most one
// account selected: the last one flagged in store order.
func normaliseAccounts(listed []snap.Account) []snap.Account {
	seen := set.New(set.NonThreadSafe)
	accounts := make([]snap.Account, 0, len(listed))
	selected := -1
	for _, acc := range listed {
		key := strings.ToLower(acc.Address)
		if acc.Address == "" || seen.Has(key) {
			if acc.IsSelected {
				if i := indexOf(accounts, acc.Address); i >= 0 {
					selected = i
				}
			}
			continue
		}
		seen.Add(key)
		accounts = append(accounts, acc)
		if acc.IsSelected {
			selected = len(accounts) - 1
		}
	}
	for i := range accounts {
		accounts[i].IsSelected = i == selected
	}
	return accounts
}

func indexOf(accounts []snap.Account, address string) int {
	for i, acc := range accounts {
		if snap.SameAddress(acc.Address, address) {
			return i
		}
	}
	return -1
}
