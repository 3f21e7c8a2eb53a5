package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/kenshi-mp/internal/logging"
	"github.com/annel0/kenshi-mp/internal/vec"
)

// MariaPoseRepo — долговременное хранилище поз игроков в MariaDB.
// В отличие от Redis-репозитория, записи не имеют TTL: это «холодный»
// слой, переживающий перезапуски кластера.
type MariaPoseRepo struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewMariaPoseRepo подключается к MariaDB и создаёт таблицу поз
func NewMariaPoseRepo(dsn string) (*MariaPoseRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("MariaDB недоступна: %w", err)
	}

	repo := &MariaPoseRepo{
		db:     db,
		logger: logging.GetComponentLogger("storage"),
	}

	if err := repo.createSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	repo.logger.Info("🗄️ Подключение к MariaDB установлено")
	return repo, nil
}

func (mr *MariaPoseRepo) createSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS player_poses (
			player_id  VARCHAR(64) PRIMARY KEY,
			pos_x      DOUBLE NOT NULL,
			pos_y      DOUBLE NOT NULL,
			pos_z      DOUBLE NOT NULL,
			rotation   INT UNSIGNED NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				ON UPDATE CURRENT_TIMESTAMP
		)`
	if _, err := mr.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("не удалось создать таблицу player_poses: %w", err)
	}
	return nil
}

func (mr *MariaPoseRepo) Save(ctx context.Context, pose *PlayerPose) error {
	const query = `
		INSERT INTO player_poses (player_id, pos_x, pos_y, pos_z, rotation)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			pos_x = VALUES(pos_x), pos_y = VALUES(pos_y),
			pos_z = VALUES(pos_z), rotation = VALUES(rotation)`

	_, err := mr.db.ExecContext(ctx, query,
		pose.PlayerID, pose.Position.X, pose.Position.Y, pose.Position.Z, pose.Rotation)
	if err != nil {
		return fmt.Errorf("ошибка сохранения позы %s: %w", pose.PlayerID, err)
	}
	return nil
}

func (mr *MariaPoseRepo) Load(ctx context.Context, playerID string) (*PlayerPose, bool, error) {
	const query = `
		SELECT pos_x, pos_y, pos_z, rotation, updated_at
		FROM player_poses WHERE player_id = ?`

	pose := &PlayerPose{PlayerID: playerID}
	var pos vec.Vec3
	err := mr.db.QueryRowContext(ctx, query, playerID).Scan(
		&pos.X, &pos.Y, &pos.Z, &pose.Rotation, &pose.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки позы %s: %w", playerID, err)
	}

	pose.Position = pos
	return pose, true, nil
}

func (mr *MariaPoseRepo) Delete(ctx context.Context, playerID string) error {
	if _, err := mr.db.ExecContext(ctx,
		`DELETE FROM player_poses WHERE player_id = ?`, playerID); err != nil {
		return fmt.Errorf("ошибка удаления позы %s: %w", playerID, err)
	}
	return nil
}

// BatchSave сохраняет позы одной транзакцией
func (mr *MariaPoseRepo) BatchSave(ctx context.Context, poses []*PlayerPose) error {
	if len(poses) == 0 {
		return nil
	}

	tx, err := mr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO player_poses (player_id, pos_x, pos_y, pos_z, rotation)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			pos_x = VALUES(pos_x), pos_y = VALUES(pos_y),
			pos_z = VALUES(pos_z), rotation = VALUES(rotation)`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for _, pose := range poses {
		if _, err := stmt.ExecContext(ctx,
			pose.PlayerID, pose.Position.X, pose.Position.Y, pose.Position.Z, pose.Rotation); err != nil {
			return fmt.Errorf("ошибка сохранения позы %s в батче: %w", pose.PlayerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка коммита батча поз: %w", err)
	}
	return nil
}

func (mr *MariaPoseRepo) Close() error {
	return mr.db.Close()
}
