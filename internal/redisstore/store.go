package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/store"
)

// DefaultPrefix — префикс ключей по умолчанию.
const DefaultPrefix = "taskrunner:"

// Store — хранилище попыток и flow runs в Redis.
type Store struct {
	client *redis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// New создаёт Store. Пустой prefix заменяется DefaultPrefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// NewClient создаёт клиента по REDIS_ADDR, REDIS_PASSWORD и REDIS_DB.
func NewClient() *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))

	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	})
}

func (s *Store) runKey(key string) string { return s.prefix + "taskrun:" + key }

func (s *Store) attemptsKey(flowRunID, taskID string) string {
	return s.prefix + "attempts:" + flowRunID + "/" + taskID
}

func (s *Store) dueKey() string { return s.prefix + "due" }

func (s *Store) flowRunKey(id string) string { return s.prefix + "flowrun:" + id }

// Load возвращает попытку по идентичности.
func (s *Store) Load(ctx context.Context, id domain.RunID) (*domain.TaskRun, error) {
	data, err := s.client.Get(ctx, s.runKey(id.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task run %s: %w", id, err)
	}
	return decodeRun(data)
}

// Create вставляет новую попытку.
func (s *Store) Create(ctx context.Context, run *domain.TaskRun) error {
	key := s.runKey(run.Key())

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrAlreadyExists
		}
		return s.write(ctx, tx, run, 1)
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		// Запись появилась между WATCH и EXEC
		return store.ErrAlreadyExists
	case err != nil:
		return err
	}

	run.Version = 1
	return nil
}

// Save записывает попытку при совпадении версии.
func (s *Store) Save(ctx context.Context, run *domain.TaskRun) error {
	if run.Version == 0 {
		err := s.Create(ctx, run)
		if errors.Is(err, store.ErrAlreadyExists) {
			return store.ErrConflict
		}
		return err
	}

	key := s.runKey(run.Key())

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrConflict
		}
		if err != nil {
			return err
		}

		stored, err := decodeRun(data)
		if err != nil {
			return err
		}
		if stored.Version != run.Version {
			return store.ErrConflict
		}
		return s.write(ctx, tx, run, run.Version+1)
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return store.ErrConflict
	case err != nil:
		return err
	}

	run.Version++
	return nil
}

// write записывает попытку с версией version и обновляет индексы в MULTI.
func (s *Store) write(ctx context.Context, tx *redis.Tx, run *domain.TaskRun, version int64) error {
	c := run.Clone()
	c.Version = version
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal task run: %w", err)
	}

	member := run.Key()
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.runKey(member), data, 0)
		pipe.ZAdd(ctx, s.attemptsKey(run.ID.FlowRunID, run.ID.TaskID), redis.Z{
			Score:  float64(run.ID.RunNumber),
			Member: member,
		})
		if due := run.DueAt(); run.State == domain.StatePending && due != nil {
			pipe.ZAdd(ctx, s.dueKey(), redis.Z{
				Score:  float64(due.UnixMilli()),
				Member: member,
			})
		} else {
			pipe.ZRem(ctx, s.dueKey(), member)
		}
		return nil
	})
	return err
}

// SaveOrReload создаёт или сливает запись (store.Reconcile поверх CAS).
func (s *Store) SaveOrReload(ctx context.Context, run *domain.TaskRun) error {
	return store.Reconcile(ctx, s, run)
}

// ListAttempts возвращает попытки task по возрастанию номера.
func (s *Store) ListAttempts(ctx context.Context, flowRunID, taskID string) ([]domain.TaskRun, error) {
	members, err := s.client.ZRange(ctx, s.attemptsKey(flowRunID, taskID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return s.loadMany(ctx, members)
}

// ListDue возвращает PENDING попытки с наступившим scheduled_start,
// не захваченные планировщиком. Индекс due упорядочен по TaskRun.DueAt.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.TaskRun, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}

	members, err := s.client.ZRangeByScore(ctx, s.dueKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("list due task runs: %w", err)
	}

	runs, err := s.loadMany(ctx, members)
	if err != nil {
		return nil, err
	}

	// Индекс обновляется в той же транзакции, но проверяем на случай ручных правок
	due := runs[:0]
	for _, run := range runs {
		if run.IsDue(now) {
			due = append(due, run)
		}
	}
	return due, nil
}

// loadMany загружает попытки по ключам. Отсутствующие пропускаются.
func (s *Store) loadMany(ctx context.Context, members []string) ([]domain.TaskRun, error) {
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.runKey(m)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget task runs: %w", err)
	}

	runs := make([]domain.TaskRun, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		run, err := decodeRun([]byte(str))
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// LoadFlowRun возвращает flow run.
func (s *Store) LoadFlowRun(ctx context.Context, id string) (*domain.FlowRun, error) {
	data, err := s.client.Get(ctx, s.flowRunKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow run %s: %w", id, err)
	}

	var fr domain.FlowRun
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("unmarshal flow run: %w", err)
	}
	return &fr, nil
}

// SaveFlowRun записывает flow run при совпадении версии.
func (s *Store) SaveFlowRun(ctx context.Context, run *domain.FlowRun) error {
	key := s.flowRunKey(run.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if run.Version != 0 {
				return store.ErrConflict
			}
		case err != nil:
			return err
		default:
			var stored domain.FlowRun
			if err := json.Unmarshal(data, &stored); err != nil {
				return fmt.Errorf("unmarshal flow run: %w", err)
			}
			if stored.Version != run.Version {
				return store.ErrConflict
			}
		}

		c := *run
		c.Version = run.Version + 1
		encoded, err := json.Marshal(&c)
		if err != nil {
			return fmt.Errorf("marshal flow run: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return store.ErrConflict
	case err != nil:
		return err
	}

	run.Version++
	return nil
}

func decodeRun(data []byte) (*domain.TaskRun, error) {
	var run domain.TaskRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal task run: %w", err)
	}
	return &run, nil
}
