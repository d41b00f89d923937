package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
)

// maxUpdateAttempts bounds the optimistic WATCH/MULTI retry loop.
const maxUpdateAttempts = 10

// RecordStore implements store.RecordStore on Redis.
//
// Layout per record path P of collection C owned by tenant T:
//
//	P          string, JSON document
//	P/_log     list, JSON log entries in append order
//	C/_index   sorted set of ids scored by creation time
//	owners/C/id  string, owning tenant id
type RecordStore struct {
	rdb    *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ store.RecordStore = (*RecordStore)(nil)

// NewRecordStore creates a record store on top of an established client.
func NewRecordStore(c *Client) *RecordStore {
	return &RecordStore{rdb: c.rdb, logger: c.logger, now: time.Now}
}

func (s *RecordStore) Create(ctx context.Context, p store.Path, doc any, firstEntry any) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	var entry []byte
	if firstEntry != nil {
		if entry, err = json.Marshal(firstEntry); err != nil {
			return fmt.Errorf("failed to marshal log entry: %w", err)
		}
	}

	key := p.String()
	ownerKey := store.OwnerKey(p.Collection().Name(), p.ID())
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key, ownerKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if entry != nil {
				pipe.RPush(ctx, p.LogKey(), entry)
			}
			pipe.ZAdd(ctx, p.Collection().IndexKey(), redis.Z{Score: float64(s.now().UnixNano()), Member: p.ID()})
			pipe.Set(ctx, ownerKey, p.TenantID(), 0)
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key, ownerKey); err != nil {
		return fmt.Errorf("failed to create %s: %w", key, err)
	}
	s.logger.Debug("record created", slog.String("path", key))
	return nil
}

func (s *RecordStore) Get(ctx context.Context, p store.Path, dst any) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := s.rdb.Get(ctx, p.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", p, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", p, err)
	}
	return nil
}

func (s *RecordStore) Put(ctx context.Context, p store.Path, doc any) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	// SET XX only writes over an existing key.
	ok, err := s.rdb.SetXX(ctx, p.String(), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", p, err)
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, p store.Path) error {
	if err := p.Validate(); err != nil {
		return err
	}
	key := p.String()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key, p.LogKey(), store.OwnerKey(p.Collection().Name(), p.ID()))
		pipe.ZRem(ctx, p.Collection().IndexKey(), p.ID())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	s.logger.Debug("record deleted", slog.String("path", key))
	return nil
}

func (s *RecordStore) List(ctx context.Context, c store.Collection, fn func(id string, raw []byte) error) error {
	if !c.Valid() {
		return store.ErrInvalidSegment
	}
	ids, err := s.rdb.ZRange(ctx, c.IndexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", c, err)
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.Doc(id).String()
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", c, err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// index entry without document, left behind by an interrupted delete
			s.logger.Warn("dangling index entry", slog.String("collection", c.String()), slog.String("id", ids[i]))
			continue
		}
		if err := fn(ids[i], []byte(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (s *RecordStore) Owner(ctx context.Context, collection, id string) (string, error) {
	tenantID, err := s.rdb.Get(ctx, store.OwnerKey(collection, id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve owner: %w", err)
	}
	return tenantID, nil
}

func (s *RecordStore) Append(ctx context.Context, p store.Path, entry any) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	if err := s.rdb.RPush(ctx, p.LogKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to append to %s: %w", p, err)
	}
	return nil
}

func (s *RecordStore) Log(ctx context.Context, p store.Path, fn func(raw []byte) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	entries, err := s.rdb.LRange(ctx, p.LogKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read log of %s: %w", p, err)
	}
	for _, e := range entries {
		if err := fn([]byte(e)); err != nil {
			return err
		}
	}
	return nil
}

func (s *RecordStore) Update(ctx context.Context, p store.Path, fn store.UpdateFunc) error {
	if err := p.Validate(); err != nil {
		return err
	}
	key, logKey := p.String(), p.LogKey()
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		entries, err := tx.LRange(ctx, logKey, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("failed to read log of %s: %w", p, err)
		}
		log := make([][]byte, len(entries))
		for i, e := range entries {
			log[i] = []byte(e)
		}
		next, entry, err := fn(cur, log)
		if err != nil {
			return err
		}
		if next == nil && entry == nil {
			return nil
		}
		var nextData, entryData []byte
		if next != nil {
			if nextData, err = json.Marshal(next); err != nil {
				return fmt.Errorf("failed to marshal document: %w", err)
			}
		}
		if entry != nil {
			if entryData, err = json.Marshal(entry); err != nil {
				return fmt.Errorf("failed to marshal log entry: %w", err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if nextData != nil {
				pipe.Set(ctx, key, nextData, 0)
			}
			if entryData != nil {
				pipe.RPush(ctx, logKey, entryData)
			}
			return nil
		})
		return err
	}
	return s.watch(ctx, txf, key, logKey)
}

func (s *RecordStore) Snapshot(ctx context.Context, p store.Path, dst any, fn func(raw []byte) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var (
		docCmd *redis.StringCmd
		logCmd *redis.StringSliceCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		docCmd = pipe.Get(ctx, p.String())
		logCmd = pipe.LRange(ctx, p.LogKey(), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read %s: %w", p, err)
	}
	data, err := docCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", p, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", p, err)
	}
	for _, e := range logCmd.Val() {
		if err := fn([]byte(e)); err != nil {
			return err
		}
	}
	return nil
}

// watch runs txf under WATCH on keys and retries when another client
// modified them between the read and the EXEC.
func (s *RecordStore) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug("optimistic transaction retry", slog.Any("keys", keys), slog.Int("attempt", attempt+1))
	}
	return fmt.Errorf("%w: too many concurrent modifications", domain.ErrConflict)
}
