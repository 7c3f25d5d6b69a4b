package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Tiered persists artifacts to the local tier first and mirrors them
// to the remote tier best-effort. Losing the remote copy of a write is
// a warning; losing the local copy is an error. Remote existence
// checks are cached for the duration of a run so the idempotency gate
// does not hammer HeadObject.
type Tiered struct {
	local  Store
	remote Store // nil means local-only mode

	// OnWarn is invoked when a remote write fails after the local
	// write succeeded. Nil is fine.
	OnWarn func(key string, err error)

	seen *ttlcache.Cache[string, bool]
}

// SetOnWarn installs the remote-write warning hook. The orchestrator
// points this at the current run's report.
func (t *Tiered) SetOnWarn(fn func(key string, err error)) {
	t.OnWarn = fn
}

// NewTiered wires the two tiers together. remote may be nil.
func NewTiered(local, remote Store) *Tiered {
	return &Tiered{
		local:  local,
		remote: remote,
		seen: ttlcache.New[string, bool](
			ttlcache.WithTTL[string, bool](15 * time.Minute),
		),
	}
}

// Exists is the idempotency gate: true when either tier already holds
// the key. This is checked before any synthesis work is spent.
func (t *Tiered) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := t.local.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	if t.remote == nil {
		return false, nil
	}

	if item := t.seen.Get(key); item != nil {
		return item.Value(), nil
	}

	ok, err = t.remote.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	t.seen.Set(key, ok, ttlcache.DefaultTTL)
	return ok, nil
}

// Write stores locally, then mirrors to the remote tier. A remote
// failure leaves the local copy in place and is surfaced through
// OnWarn rather than failing the task.
func (t *Tiered) Write(ctx context.Context, key string, data []byte, meta Metadata) error {
	if err := t.local.Write(ctx, key, data, meta); err != nil {
		return fmt.Errorf("local write failed; %w", err)
	}
	if t.remote == nil {
		return nil
	}

	if err := t.remote.Write(ctx, key, data, meta); err != nil {
		if t.OnWarn != nil {
			t.OnWarn(key, err)
		}
		return nil
	}
	t.seen.Set(key, true, ttlcache.DefaultTTL)
	return nil
}

// Read prefers the durable tier and falls back to the local copy, so
// inspection tooling works even when one tier is unreachable.
func (t *Tiered) Read(ctx context.Context, key string) ([]byte, error) {
	if t.remote != nil {
		data, err := t.remote.Read(ctx, key)
		if err == nil {
			return data, nil
		}
	}
	return t.local.Read(ctx, key)
}

// List reads from the remote tier when available, local otherwise.
func (t *Tiered) List(ctx context.Context, prefix string) ([]string, error) {
	if t.remote != nil {
		keys, err := t.remote.List(ctx, prefix)
		if err == nil {
			return keys, nil
		}
	}
	return t.local.List(ctx, prefix)
}
