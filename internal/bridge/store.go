package bridge

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/pkg/log"
)

// storeCall runs one snap store capability as its own workflow.
func (b *Bridge) storeCall(ctx context.Context, name, key string, keyed bool, call func(context.Context) (gjson.Result, error)) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, name)
	if keyed {
		a.address = key
		if key == "" {
			return nil, b.end(ctx, a, invalidInput("key is required"))
		}
	}
	res, err := call(ctx)
	if err != nil {
		return nil, b.end(ctx, a, err)
	}
	return raw(res), b.end(ctx, a, nil)
}

func raw(res gjson.Result) json.RawMessage {
	if res.Raw == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(res.Raw)
}

func (b *Bridge) SetStore(ctx context.Context, key string) (json.RawMessage, error) {
	return b.storeCall(ctx, "set_store", key, true, func(ctx context.Context) (gjson.Result, error) {
		return b.client.SetStore(ctx, key)
	})
}

func (b *Bridge) GetStore(ctx context.Context, key string) (json.RawMessage, error) {
	return b.storeCall(ctx, "get_store", key, true, func(ctx context.Context) (gjson.Result, error) {
		return b.client.GetStore(ctx, key)
	})
}

func (b *Bridge) RemoveStore(ctx context.Context, key string) (json.RawMessage, error) {
	return b.storeCall(ctx, "remove_store", key, true, func(ctx context.Context) (gjson.Result, error) {
		return b.client.RemoveStore(ctx, key)
	})
}

func (b *Bridge) ClearStores(ctx context.Context) (json.RawMessage, error) {
	return b.storeCall(ctx, "clear_stores", "", false, b.client.ClearAllStores)
}

// GetAllAccounts dumps the snap's raw account store.
func (b *Bridge) GetAllAccounts(ctx context.Context) (json.RawMessage, error) {
	return b.storeCall(ctx, "get_all_accounts", "", false, b.client.GetAllAccounts)
}

func (b *Bridge) GetAllMetadata(ctx context.Context) (json.RawMessage, error) {
	return b.storeCall(ctx, "get_all_metadata", "", false, b.client.GetAllMetadatas)
}

func (b *Bridge) ListMetadata(ctx context.Context) (json.RawMessage, error) {
	return b.storeCall(ctx, "list_metadata", "", false, b.client.ListMetadata)
}

// UpdateMetadata provides the current chain's metadata to the snap. Metadata already provided,
// as recorded by the metadata store, is not sent again.
func (b *Bridge) UpdateMetadata(ctx context.Context) (*snap.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "update_metadata")
	md, err := b.updateMetadata(ctx)
	return md, b.end(ctx, a, err)
}

func (b *Bridge) updateMetadata(ctx context.Context) (*snap.Metadata, error) {
	snapshot := b.state.Snapshot()
	provider := snapshot.Provider
	if provider == nil {
		p, err := b.ensureProvider(ctx, snapshot.Network)
		if err != nil {
			return nil, err
		}
		provider = p
	}
	md := provider.Metadata()

	if b.metadata != nil {
		cached, err := b.metadata.GetMetadata(ctx, md.Network)
		if err != nil {
			log.Ctx(ctx).Warnf("bridge - metadata cache:%v", err)
		} else if cached != nil && *cached == *md {
			log.Ctx(ctx).Debugf("bridge - metadata for %v already provided", md.Network)
			return md, nil
		}
	}
	if _, err := b.client.ProvideMetadata(ctx, md); err != nil {
		return nil, err
	}
	if b.metadata != nil {
		if err := b.metadata.SetMetadata(ctx, md); err != nil {
			log.Ctx(ctx).Warnf("bridge - metadata cache:%v", err)
		}
	}
	return md, nil
}
