package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/kenshi-mp/internal/logging"
)

// SessionState — состояние жизненного цикла игровой сессии
type SessionState string

const (
	StateLobby   SessionState = "lobby"
	StatePlaying SessionState = "playing"
	StatePaused  SessionState = "paused"
	StateClosed  SessionState = "closed"
)

// DefaultMaxPlayers — предел игроков в одной сессии
const DefaultMaxPlayers = 16

// JoinResult — типизированный исход проверки подключения
type JoinResult int

const (
	JoinOK JoinResult = iota
	JoinErrSessionClosed
	JoinErrSessionNotJoinable
	JoinErrSessionFull
	JoinErrAlreadyJoined
	JoinErrGameVersionMismatch
	JoinErrModVersionMismatch
	JoinErrProtocolMismatch
)

// String возвращает строковое представление исхода
func (r JoinResult) String() string {
	switch r {
	case JoinOK:
		return "ok"
	case JoinErrSessionClosed:
		return "session_closed"
	case JoinErrSessionNotJoinable:
		return "session_not_joinable"
	case JoinErrSessionFull:
		return "session_full"
	case JoinErrAlreadyJoined:
		return "already_joined"
	case JoinErrGameVersionMismatch:
		return "game_version_mismatch"
	case JoinErrModVersionMismatch:
		return "mod_version_mismatch"
	case JoinErrProtocolMismatch:
		return "protocol_mismatch"
	default:
		return "unknown"
	}
}

// PlayerIdentity — версии клиента, предъявляемые при подключении
type PlayerIdentity struct {
	PlayerID        string `json:"player_id"`
	Name            string `json:"name"`
	GameVersion     string `json:"game_version"`
	ModVersion      string `json:"mod_version"`
	ProtocolVersion int    `json:"protocol_version"`
}

// Session — игровая сессия: кто в ней, кто хост, в каком она состоянии.
// Lobby → Playing ⇄ Paused → Closed; Closed терминально.
// Все методы синхронизированы внутренним мьютексом.
type Session struct {
	mu sync.Mutex

	ID              string                     `json:"id"`
	State           SessionState               `json:"state"`
	HostID          string                     `json:"host_id"`
	Players         map[string]*PlayerIdentity `json:"players"`
	MaxPlayers      int                        `json:"max_players"`
	GameVersion     string                     `json:"game_version"`
	ModVersion      string                     `json:"mod_version"`
	ProtocolVersion int                        `json:"protocol_version"`
	CreatedAt       time.Time                  `json:"created_at"`

	logger *logging.Logger
}

// NewSession создаёт сессию в лобби. Хост считается первым игроком.
func NewSession(host *PlayerIdentity, gameVersion, modVersion string, protocolVersion int) *Session {
	s := &Session{
		ID:              uuid.NewString(),
		State:           StateLobby,
		HostID:          host.PlayerID,
		Players:         map[string]*PlayerIdentity{host.PlayerID: host},
		MaxPlayers:      DefaultMaxPlayers,
		GameVersion:     gameVersion,
		ModVersion:      modVersion,
		ProtocolVersion: protocolVersion,
		CreatedAt:       time.Now(),
		logger:          logging.GetSessionLogger(),
	}
	s.logger.Info("🎮 Сессия %s создана, хост %s", s.ID, host.PlayerID)
	return s
}

// CanPlayerJoin проверяет допустимость подключения.
// Подключаться можно только в Lobby и Playing. Проверки идут в
// фиксированном порядке, возвращается первая ошибка:
// закрытость → присоединяемость → заполненность → повторное подключение →
// версия игры → версия мода → версия протокола.
func (s *Session) CanPlayerJoin(identity *PlayerIdentity) JoinResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State == StateClosed {
		return JoinErrSessionClosed
	}
	if s.State != StateLobby && s.State != StatePlaying {
		return JoinErrSessionNotJoinable
	}
	if len(s.Players) >= s.MaxPlayers {
		return JoinErrSessionFull
	}
	if _, exists := s.Players[identity.PlayerID]; exists {
		return JoinErrAlreadyJoined
	}
	if identity.GameVersion != s.GameVersion {
		return JoinErrGameVersionMismatch
	}
	if !modVersionsCompatible(identity.ModVersion, s.ModVersion) {
		return JoinErrModVersionMismatch
	}
	if identity.ProtocolVersion != s.ProtocolVersion {
		return JoinErrProtocolMismatch
	}
	return JoinOK
}

// modVersionsCompatible сравнивает версии мода по Major.Minor,
// patch-компонент игнорируется
func modVersionsCompatible(a, b string) bool {
	return majorMinor(a) == majorMinor(b)
}

func majorMinor(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return version
	}
	return parts[0] + "." + parts[1]
}

// AddPlayer подключает игрока после успешной проверки.
// Проверка и вставка выполняются под одним захватом мьютекса:
// между CanPlayerJoin и AddPlayer иначе есть гонка на заполненность.
func (s *Session) AddPlayer(identity *PlayerIdentity) JoinResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State == StateClosed {
		return JoinErrSessionClosed
	}
	if s.State != StateLobby && s.State != StatePlaying {
		return JoinErrSessionNotJoinable
	}
	if len(s.Players) >= s.MaxPlayers {
		return JoinErrSessionFull
	}
	if _, exists := s.Players[identity.PlayerID]; exists {
		return JoinErrAlreadyJoined
	}
	if identity.GameVersion != s.GameVersion {
		return JoinErrGameVersionMismatch
	}
	if !modVersionsCompatible(identity.ModVersion, s.ModVersion) {
		return JoinErrModVersionMismatch
	}
	if identity.ProtocolVersion != s.ProtocolVersion {
		return JoinErrProtocolMismatch
	}

	s.Players[identity.PlayerID] = identity
	s.logger.Info("✅ Игрок %s (%s) подключился к сессии %s (%d/%d)",
		identity.PlayerID, identity.Name, s.ID, len(s.Players), s.MaxPlayers)
	return JoinOK
}

// RemovePlayer отключает игрока. Уход хоста передаёт права первому
// оставшемуся игроку; уход последнего игрока закрывает сессию.
func (s *Session) RemovePlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.Players[playerID]; !exists {
		return
	}
	delete(s.Players, playerID)
	s.logger.Info("👋 Игрок %s покинул сессию %s (%d/%d)",
		playerID, s.ID, len(s.Players), s.MaxPlayers)

	if len(s.Players) == 0 {
		s.State = StateClosed
		s.HostID = ""
		s.logger.Info("🎮 Сессия %s опустела и закрыта", s.ID)
		return
	}

	if s.HostID == playerID {
		for id := range s.Players {
			s.HostID = id
			break
		}
		s.logger.Info("👑 Права хоста в сессии %s переданы %s", s.ID, s.HostID)
	}
}

// Start переводит сессию из лобби в игру. Только хост.
func (s *Session) Start(playerID string) bool {
	return s.transition(playerID, StateLobby, StatePlaying, "▶️ Сессия %s запущена")
}

// Pause приостанавливает игру. Только хост.
func (s *Session) Pause(playerID string) bool {
	return s.transition(playerID, StatePlaying, StatePaused, "⏸️ Сессия %s на паузе")
}

// Resume возобновляет игру после паузы. Только хост.
func (s *Session) Resume(playerID string) bool {
	return s.transition(playerID, StatePaused, StatePlaying, "▶️ Сессия %s возобновлена")
}

// Close закрывает сессию из любого состояния. Только хост.
func (s *Session) Close(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if playerID != s.HostID || s.State == StateClosed {
		return false
	}
	s.State = StateClosed
	s.logger.Info("🎮 Сессия %s закрыта хостом", s.ID)
	return true
}

// transition выполняет хостовый переход from → to
func (s *Session) transition(playerID string, from, to SessionState, logFmt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if playerID != s.HostID || s.State != from {
		return false
	}
	s.State = to
	s.logger.Info(logFmt, s.ID)
	return true
}

// CurrentState возвращает текущее состояние
func (s *Session) CurrentState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// Host возвращает идентификатор текущего хоста
func (s *Session) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.HostID
}

// PlayerCount возвращает число подключённых игроков
func (s *Session) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Players)
}

// PlayerIDs возвращает идентификаторы подключённых игроков
func (s *Session) PlayerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	return ids
}

// ToJSON сериализует сессию
func (s *Session) ToJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации Session %s: %w", s.ID, err)
	}
	return data, nil
}

// FromJSON восстанавливает сессию из JSON
func FromJSON(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("ошибка десериализации Session: %w", err)
	}
	if s.Players == nil {
		s.Players = make(map[string]*PlayerIdentity)
	}
	s.logger = logging.GetSessionLogger()
	return &s, nil
}
