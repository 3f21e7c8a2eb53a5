package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/kenshi-mp/internal/entity"
)

// WorldStorage — персистентное хранилище снимков мира поверх BadgerDB.
// Снимки пишутся по ключу сессии; формат записи — entity.WorldSaveRecord.
type WorldStorage struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewWorldStorage открывает хранилище мира в каталоге dataPath
func NewWorldStorage(dataPath string) (*WorldStorage, error) {
	dbPath := filepath.Join(dataPath, "world")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &WorldStorage{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище
func (ws *WorldStorage) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if !ws.isReady {
		return nil
	}

	ws.isReady = false
	return ws.db.Close()
}

func worldKey(sessionID string) []byte {
	return []byte("world:" + sessionID)
}

// SaveWorld сохраняет снимок мира сессии
func (ws *WorldStorage) SaveWorld(sessionID string, record *entity.WorldSaveRecord) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("ошибка сериализации снимка мира: %w", err)
	}

	err = ws.db.Update(func(txn *badger.Txn) error {
		return txn.Set(worldKey(sessionID), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	return nil
}

// LoadWorld загружает снимок мира сессии.
// Второе значение false — сохранения для сессии нет.
func (ws *WorldStorage) LoadWorld(sessionID string) (*entity.WorldSaveRecord, bool, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, false, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := ws.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(worldKey(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	var record entity.WorldSaveRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, fmt.Errorf("ошибка десериализации снимка мира: %w", err)
	}
	if record.Version > entity.SaveFormatVersion {
		return nil, false, fmt.Errorf("неподдерживаемая версия сохранения: %d", record.Version)
	}

	return &record, true, nil
}

// DeleteWorld удаляет снимок мира сессии
func (ws *WorldStorage) DeleteWorld(sessionID string) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err := ws.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(worldKey(sessionID))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// ListSessions возвращает идентификаторы сессий с сохранениями
func (ws *WorldStorage) ListSessions() ([]string, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	prefix := []byte("world:")
	var sessions []string

	err := ws.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			sessions = append(sessions, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка итерации BadgerDB: %w", err)
	}

	return sessions, nil
}
