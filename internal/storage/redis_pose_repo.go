package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/kenshi-mp/internal/logging"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr         string        // Адрес Redis сервера
	Password     string        // Пароль (пустой если не требуется)
	DB           int           // Номер базы данных
	KeyPrefix    string        // Префикс для ключей
	TTL          time.Duration // Время жизни записей
	BatchSize    int           // Размер батча для записи
	BatchFlushMs int           // Интервал сброса батча в миллисекундах
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "kmp:pose:",
		TTL:          5 * time.Minute,
		BatchSize:    100,
		BatchFlushMs: 100,
	}
}

// RedisPoseRepo хранит позы игроков в Redis для быстрого доступа.
// Записи идут через write-behind батч: Save складывает позу в буфер,
// фоновая горутина периодически сбрасывает буфер пайплайном.
type RedisPoseRepo struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	batchSize int

	batchMu     sync.Mutex
	batchBuffer map[string]*PlayerPose
	batchTicker *time.Ticker
	shutdown    chan struct{}
	wg          sync.WaitGroup

	logger *logging.Logger
}

// NewRedisPoseRepo создаёт Redis-репозиторий поз
func NewRedisPoseRepo(config *RedisConfig) (*RedisPoseRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	repo := &RedisPoseRepo{
		client:      client,
		keyPrefix:   config.KeyPrefix,
		ttl:         config.TTL,
		batchSize:   config.BatchSize,
		batchBuffer: make(map[string]*PlayerPose),
		batchTicker: time.NewTicker(time.Duration(config.BatchFlushMs) * time.Millisecond),
		shutdown:    make(chan struct{}),
		logger:      logging.GetComponentLogger("storage"),
	}

	repo.wg.Add(1)
	go repo.batchFlusher()

	repo.logger.Info("🔴 Подключение к Redis %s установлено", config.Addr)
	return repo, nil
}

// Save складывает позу в батч-буфер. При заполнении буфера сброс
// выполняется немедленно.
func (rr *RedisPoseRepo) Save(ctx context.Context, pose *PlayerPose) error {
	clone := *pose
	clone.UpdatedAt = time.Now()

	rr.batchMu.Lock()
	rr.batchBuffer[pose.PlayerID] = &clone

	if len(rr.batchBuffer) >= rr.batchSize {
		batch := rr.batchBuffer
		rr.batchBuffer = make(map[string]*PlayerPose)
		rr.batchMu.Unlock()
		return rr.flushBatch(ctx, batch)
	}

	rr.batchMu.Unlock()
	return nil
}

// Load загружает позу игрока
func (rr *RedisPoseRepo) Load(ctx context.Context, playerID string) (*PlayerPose, bool, error) {
	// Сначала смотрим в ещё не сброшенный буфер
	rr.batchMu.Lock()
	if pose, ok := rr.batchBuffer[playerID]; ok {
		clone := *pose
		rr.batchMu.Unlock()
		return &clone, true, nil
	}
	rr.batchMu.Unlock()

	data, err := rr.client.Get(ctx, rr.keyPrefix+playerID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения позы из Redis: %w", err)
	}

	var pose PlayerPose
	if err := json.Unmarshal([]byte(data), &pose); err != nil {
		return nil, false, fmt.Errorf("ошибка десериализации позы: %w", err)
	}
	return &pose, true, nil
}

// Delete удаляет позу игрока
func (rr *RedisPoseRepo) Delete(ctx context.Context, playerID string) error {
	rr.batchMu.Lock()
	delete(rr.batchBuffer, playerID)
	rr.batchMu.Unlock()

	if err := rr.client.Del(ctx, rr.keyPrefix+playerID).Err(); err != nil {
		return fmt.Errorf("ошибка удаления позы из Redis: %w", err)
	}
	return nil
}

// BatchSave сбрасывает позы напрямую пайплайном, минуя буфер
func (rr *RedisPoseRepo) BatchSave(ctx context.Context, poses []*PlayerPose) error {
	batch := make(map[string]*PlayerPose, len(poses))
	now := time.Now()
	for _, pose := range poses {
		clone := *pose
		clone.UpdatedAt = now
		batch[pose.PlayerID] = &clone
	}
	return rr.flushBatch(ctx, batch)
}

// Close останавливает флашер, сбрасывает остаток буфера и закрывает клиент
func (rr *RedisPoseRepo) Close() error {
	close(rr.shutdown)
	rr.wg.Wait()

	rr.batchMu.Lock()
	if len(rr.batchBuffer) > 0 {
		if err := rr.flushBatch(context.Background(), rr.batchBuffer); err != nil {
			rr.logger.Error("❌ Ошибка финального сброса батча: %v", err)
		}
		rr.batchBuffer = make(map[string]*PlayerPose)
	}
	rr.batchMu.Unlock()

	return rr.client.Close()
}

// batchFlusher периодически сбрасывает батч-буфер
func (rr *RedisPoseRepo) batchFlusher() {
	defer rr.wg.Done()

	for {
		select {
		case <-rr.shutdown:
			return
		case <-rr.batchTicker.C:
			rr.batchMu.Lock()
			if len(rr.batchBuffer) == 0 {
				rr.batchMu.Unlock()
				continue
			}
			batch := rr.batchBuffer
			rr.batchBuffer = make(map[string]*PlayerPose)
			rr.batchMu.Unlock()

			if err := rr.flushBatch(context.Background(), batch); err != nil {
				rr.logger.Error("❌ Ошибка сброса батча поз: %v", err)
			}
		}
	}
}

// flushBatch записывает батч поз пайплайном
func (rr *RedisPoseRepo) flushBatch(ctx context.Context, batch map[string]*PlayerPose) error {
	if len(batch) == 0 {
		return nil
	}

	pipe := rr.client.Pipeline()
	for playerID, pose := range batch {
		data, err := json.Marshal(pose)
		if err != nil {
			rr.logger.Warn("⚠️ Ошибка сериализации позы %s: %v", playerID, err)
			continue
		}
		pipe.Set(ctx, rr.keyPrefix+playerID, data, rr.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка выполнения батча: %w", err)
	}
	return nil
}
