package httpx

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/oauth"
	"github.com/mbolis/voiceform/config"
	"golang.org/x/crypto/bcrypt"
)

const (
	RolesClaim = "roles"
	OwnerClaim = "owner"
	AdminRole  = "admin"
)

var errRefresh = errors.New("could not refresh")

// ownerVerifier authenticates form owners against the owner table.
type ownerVerifier struct {
	db         *sql.DB
	refreshTTL time.Duration
}

func CredentialsVerifier(db *sql.DB, refreshTTL time.Duration) oauth.CredentialsVerifier {
	return &ownerVerifier{db, refreshTTL}
}

func NewBearerServer(db *sql.DB, cfg config.Config) *oauth.BearerServer {
	return oauth.NewBearerServer(cfg.TokenSecret, cfg.TokenTTL, CredentialsVerifier(db, cfg.RefreshTTL), nil)
}

func (v *ownerVerifier) ValidateUser(username string, password string, scope string, r *http.Request) error {
	var hash []byte
	err := v.db.
		QueryRowContext(r.Context(), "SELECT password_hash FROM owner WHERE username = ?", username).
		Scan(&hash)
	if err != nil {
		return err
	}

	return bcrypt.CompareHashAndPassword(hash, []byte(password))
}

func (v *ownerVerifier) StoreTokenID(tokenType oauth.TokenType, credential string, tokenID string, refreshTokenID string) error {
	_, err := v.db.Exec(`
		INSERT INTO token (username, token_id, refresh_token_id, expiration)
		VALUES (?, ?, ?, ?)`,
		credential,
		tokenID,
		refreshTokenID,
		time.Now().UTC().Add(v.refreshTTL),
	)
	return err
}

// ValidateTokenID consumes a refresh token: each one can be used once.
func (v *ownerVerifier) ValidateTokenID(tokenType oauth.TokenType, credential string, tokenID string, refreshTokenID string) error {
	var expiration time.Time
	err := v.db.
		QueryRow(`
			DELETE FROM token
			WHERE username = ?
				AND token_id = ?
				AND refresh_token_id = ?
			RETURNING expiration`,
			credential,
			tokenID,
			refreshTokenID,
		).
		Scan(&expiration)
	if err != nil {
		return errRefresh
	}

	if expiration.Before(time.Now()) {
		return errRefresh
	}
	return nil
}

func (*ownerVerifier) AddClaims(tokenType oauth.TokenType, credential string, tokenID string, scope string, r *http.Request) (map[string]string, error) {
	return map[string]string{RolesClaim: AdminRole, OwnerClaim: credential}, nil
}

func (*ownerVerifier) AddProperties(tokenType oauth.TokenType, credential string, tokenID string, scope string, r *http.Request) (map[string]string, error) {
	return map[string]string{}, nil
}

func (*ownerVerifier) ValidateClient(clientID string, clientSecret string, scope string, r *http.Request) error {
	return errors.New("not supported")
}
