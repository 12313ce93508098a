package consul

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/codec"
)

// maxRetries bounds the transaction attempts when other writers keep winning.
const maxRetries = 32

func (cb *ConsulBackend) AddFile(ctx context.Context, data []byte, tags []tbf.Tag) (tbf.FileId, error) {
	if err := cb.opts.CheckSize(data); err != nil {
		return 0, err
	}
	if err := tbf.ValidateTags(tags); err != nil {
		return 0, err
	}

	encoded, err := codec.Marshal(tags)
	if err != nil {
		return 0, err
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err := cb.usable(); err != nil {
		return 0, err
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		next, index, err := cb.readCounter(ctx)
		if err != nil {
			return 0, err
		}
		if next == math.MaxUint64 {
			return 0, fmt.Errorf("%w: id space exhausted", tbf.ErrState)
		}

		id := tbf.FileId(next)
		var counter [8]byte
		binary.LittleEndian.PutUint64(counter[:], next+1)

		ok, err := cb.txn(ctx, api.KVTxnOps{
			{Verb: api.KVCAS, Key: cb.counterKey(), Value: counter[:], Index: index},
			{Verb: api.KVSet, Key: cb.dataKey(id), Value: data},
			{Verb: api.KVSet, Key: cb.tagsKey(id), Value: encoded},
		})
		if err != nil {
			return 0, err
		}
		if ok {
			cb.log.Debug("Added file %s with %d bytes and %d tags", id, len(data), len(tags))
			return id, nil
		}

		cb.log.Debug("Counter moved while allocating %s, retrying", id)
	}

	return 0, fmt.Errorf("%w: counter contention after %d attempts", tbf.ErrState, maxRetries)
}

func (cb *ConsulBackend) EditFile(ctx context.Context, id tbf.FileId, update *tbf.FileUpdate) error {
	if update.HasData() {
		if err := cb.opts.CheckSize(update.Data); err != nil {
			return err
		}
	}
	if update.HasTags() {
		if err := tbf.ValidateTags(update.Tags); err != nil {
			return err
		}
	}

	var ops api.KVTxnOps
	if update.HasData() {
		ops = append(ops, &api.KVTxnOp{Verb: api.KVSet, Key: cb.dataKey(id), Value: update.Data})
	}
	if update.HasTags() {
		encoded, err := codec.Marshal(update.Tags)
		if err != nil {
			return err
		}
		ops = append(ops, &api.KVTxnOp{Verb: api.KVSet, Key: cb.tagsKey(id), Value: encoded})
	}

	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if err := cb.usable(); err != nil {
		return err
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		pair, _, err := cb.kv.Get(cb.tagsKey(id), cb.query(ctx))
		if err != nil {
			return tbf.Source("edit", err)
		}
		if pair == nil {
			return tbf.FileNotFound(id)
		}

		// The file must still be live when the transaction applies
		check := &api.KVTxnOp{Verb: api.KVCheckIndex, Key: cb.tagsKey(id), Index: pair.ModifyIndex}
		ok, err := cb.txn(ctx, append(api.KVTxnOps{check}, ops...))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	return fmt.Errorf("%w: contention editing %s after %d attempts", tbf.ErrState, id, maxRetries)
}

// RemoveFile deletes both keys. Deleting missing keys succeeds, so removal is idempotent.
func (cb *ConsulBackend) RemoveFile(ctx context.Context, id tbf.FileId) error {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if err := cb.usable(); err != nil {
		return err
	}

	ok, err := cb.txn(ctx, api.KVTxnOps{
		{Verb: api.KVDelete, Key: cb.tagsKey(id)},
		{Verb: api.KVDelete, Key: cb.dataKey(id)},
	})
	if err != nil {
		return err
	}
	if !ok {
		return tbf.Source("remove", fmt.Errorf("transaction rejected for %s", id))
	}

	return nil
}

// SearchTags lists every tag stream below the prefix. Keys sort by ID.
func (cb *ConsulBackend) SearchTags(ctx context.Context, pattern tbf.TagPattern) ([]tbf.FileId, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if err := cb.usable(); err != nil {
		return nil, err
	}

	pairs, _, err := cb.kv.List(cb.tagsPrefix(), cb.query(ctx))
	if err != nil {
		return nil, tbf.Source("search", err)
	}

	result := make([]tbf.FileId, 0)
	for _, pair := range pairs {
		id, err := tbf.ParseFileId(strings.TrimPrefix(pair.Key, cb.tagsPrefix()))
		if err != nil || id.IsSpecial() {
			cb.log.Debug("Skipping foreign key '%s'", pair.Key)
			continue
		}

		tags, err := codec.Unmarshal(pair.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}

		if tbf.Match(pattern, tags) {
			result = append(result, id)
		}
	}

	return result, nil
}

func (cb *ConsulBackend) GetInfo(ctx context.Context, id tbf.FileId) (*tbf.FileInfo, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if err := cb.usable(); err != nil {
		return nil, err
	}

	tagsPair, _, err := cb.kv.Get(cb.tagsKey(id), cb.query(ctx))
	if err != nil {
		return nil, tbf.Source("read tags", err)
	}
	if tagsPair == nil {
		return nil, tbf.FileNotFound(id)
	}

	tags, err := codec.Unmarshal(tagsPair.Value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	dataPair, _, err := cb.kv.Get(cb.dataKey(id), cb.query(ctx))
	if err != nil {
		return nil, tbf.Source("read data", err)
	}
	if dataPair == nil {
		return nil, tbf.FileNotFound(id)
	}

	return tbf.NewFileInfo(id, dataPair.Value, tags), nil
}

// readCounter returns the next ID together with the index to check-and-set against.
// A missing key yields index 0, which only lets the CAS create the key.
func (cb *ConsulBackend) readCounter(ctx context.Context) (uint64, uint64, error) {
	pair, _, err := cb.kv.Get(cb.counterKey(), cb.query(ctx))
	if err != nil {
		return 0, 0, tbf.Source("read counter", err)
	}
	if pair == nil {
		return uint64(tbf.FirstFileId), 0, nil
	}

	if len(pair.Value) != 8 {
		return 0, 0, fmt.Errorf("%w: counter has %d bytes", tbf.ErrState, len(pair.Value))
	}

	next := binary.LittleEndian.Uint64(pair.Value)
	if next < uint64(tbf.FirstFileId) {
		return 0, 0, fmt.Errorf("%w: counter %d lies in the reserved range", tbf.ErrState, next)
	}

	return next, pair.ModifyIndex, nil
}

// txn applies ops atomically. A false result means a check failed and nothing was written.
func (cb *ConsulBackend) txn(ctx context.Context, ops api.KVTxnOps) (bool, error) {
	ok, resp, _, err := cb.kv.Txn(ops, cb.query(ctx))
	if err != nil {
		return false, tbf.Source("transaction", err)
	}

	if !ok && resp != nil {
		for _, txnErr := range resp.Errors {
			cb.log.Debug("Transaction op %d rejected: %s", txnErr.OpIndex, txnErr.What)
		}
	}

	return ok, nil
}

func (cb *ConsulBackend) query(ctx context.Context) *api.QueryOptions {
	return (&api.QueryOptions{}).WithContext(ctx)
}
