package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/annel0/kenshi-mp/internal/session"
)

// Секрет подписи токенов. В продакшене загружается из конфигурации,
// иначе генерируется случайный на время жизни процесса.
var jwtSecret []byte

func init() {
	jwtSecret = make([]byte, 32)
	if _, err := rand.Read(jwtSecret); err != nil {
		// Фоллбек только для разработки
		jwtSecret = []byte("development-secret-key-change-in-production")
	}
}

// JoinTokenTTL — срок жизни токена подключения.
// Токен покрывает одну попытку подключения, а не всю сессию.
const JoinTokenTTL = 10 * time.Minute

// JoinClaims — клеймы токена подключения: кто подключается,
// к какой сессии и с какими версиями клиента
type JoinClaims struct {
	SessionID       string `json:"session_id"`
	PlayerName      string `json:"player_name"`
	GameVersion     string `json:"game_version"`
	ModVersion      string `json:"mod_version"`
	ProtocolVersion int    `json:"protocol_version"`
	jwt.RegisteredClaims
}

// GenerateJoinToken создаёт подписанный токен подключения к сессии
func GenerateJoinToken(identity *session.PlayerIdentity, sessionID string) (string, error) {
	now := time.Now()
	claims := &JoinClaims{
		SessionID:       sessionID,
		PlayerName:      identity.Name,
		GameVersion:     identity.GameVersion,
		ModVersion:      identity.ModVersion,
		ProtocolVersion: identity.ProtocolVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(JoinTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "kenshi-mp",
			Subject:   identity.PlayerID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSecret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена подключения: %w", err)
	}
	return signed, nil
}

// ValidateJoinToken проверяет токен и восстанавливает личность игрока
// и идентификатор сессии, к которой токен выдан
func ValidateJoinToken(tokenString string) (*session.PlayerIdentity, string, error) {
	claims := &JoinClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("неожиданный метод подписи")
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("невалидный токен подключения: %w", err)
	}
	if !token.Valid {
		return nil, "", errors.New("невалидный токен подключения")
	}

	identity := &session.PlayerIdentity{
		PlayerID:        claims.Subject,
		Name:            claims.PlayerName,
		GameVersion:     claims.GameVersion,
		ModVersion:      claims.ModVersion,
		ProtocolVersion: claims.ProtocolVersion,
	}
	return identity, claims.SessionID, nil
}

// GenerateSecureSecret генерирует новый секрет подписи
func GenerateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

// SetJWTSecret задаёт секрет подписи (для продакшена)
func SetJWTSecret(secret string) error {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return err
	}
	if len(decoded) < 32 {
		return errors.New("секрет должен быть не короче 32 байт")
	}
	jwtSecret = decoded
	return nil
}
