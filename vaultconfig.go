package vault

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	configKeyIDHeader  = "kid"
	vaultConfigFile    = "vault.cryptomator"
	masterKeyFile      = "masterkey.cryptomator"
)

// keyID is the `kid` JWT header, e.g. "masterkeyfile:masterkey.cryptomator".
type keyID string

func (k keyID) uri() string {
	parts := strings.SplitN(string(k), ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// vaultConfigClaims is the JWT claims set persisted in vault.cryptomator.
// It implements jwt.Claims via GetExpirationTime etc. returning nil/zero,
// since the vault format has no expiry; only Format and CipherCombo are
// validated.
type vaultConfigClaims struct {
	Format              int    `json:"format"`
	ShorteningThreshold int    `json:"shorteningThreshold"`
	Jti                 string `json:"jti"`
	CipherCombo         string `json:"cipherCombo"`
}

func (c *vaultConfigClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c *vaultConfigClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (c *vaultConfigClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *vaultConfigClaims) GetIssuer() (string, error)                  { return "", nil }
func (c *vaultConfigClaims) GetSubject() (string, error)                 { return "", nil }
func (c *vaultConfigClaims) GetAudience() (jwt.ClaimStrings, error)      { return nil, nil }

func newVaultConfigClaims(shorteningThreshold int, combo CipherCombo) vaultConfigClaims {
	return vaultConfigClaims{
		Format:              VaultFormat,
		ShorteningThreshold: shorteningThreshold,
		Jti:                 uuid.NewString(),
		CipherCombo:         combo.String(),
	}
}

// marshalVaultConfig signs the claims with the master key's jwtKey, per
// spec.md §6: HS256 over the JSON claims, with a `kid` header pointing at
// masterkey.cryptomator.
func marshalVaultConfig(claims vaultConfigClaims, mk MasterKey) ([]byte, error) {
	var out []byte
	err := mk.WithKey(func(access KeyAccess) error {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
		token.Header[configKeyIDHeader] = string(keyID("masterkeyfile:" + masterKeyFile))
		signed, signErr := token.SignedString(access.jwtKey())
		if signErr != nil {
			return signErr
		}
		out = []byte(signed)
		return nil
	})
	return out, err
}

// unmarshalVaultConfig parses and verifies the vault.cryptomator JWT. The
// resolveKey callback is handed the `kid` header's URI (typically
// "masterkey.cryptomator") and must return the master key to verify
// against; this indirection lets callers support alternate key-file
// locations without this function knowing about storage.
func unmarshalVaultConfig(tokenBytes []byte, resolveKey func(masterKeyURI string) (MasterKey, error)) (vaultConfigClaims, error) {
	var claims vaultConfigClaims
	var resolveErr error
	token, err := jwt.ParseWithClaims(string(tokenBytes), &claims, func(token *jwt.Token) (any, error) {
		kidValue, ok := token.Header[configKeyIDHeader]
		if !ok {
			return nil, fmt.Errorf("%w: vault.cryptomator jwt is missing kid header", ErrVaultConfigInvalid)
		}
		kidStr, ok := kidValue.(string)
		if !ok {
			return nil, fmt.Errorf("%w: vault.cryptomator kid header is not a string", ErrVaultConfigInvalid)
		}
		mk, err := resolveKey(keyID(kidStr).uri())
		if err != nil {
			resolveErr = err
			return nil, err
		}
		var keyBytes []byte
		if err := mk.WithKey(func(access KeyAccess) error {
			keyBytes = access.jwtKey()
			return nil
		}); err != nil {
			return nil, err
		}
		return keyBytes, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if resolveErr != nil {
		return vaultConfigClaims{}, resolveErr
	}
	if err != nil {
		return vaultConfigClaims{}, fmt.Errorf("%w: %v", ErrVaultConfigInvalid, err)
	}
	if !token.Valid {
		return vaultConfigClaims{}, ErrVaultConfigInvalid
	}
	if claims.Format != VaultFormat {
		return vaultConfigClaims{}, fmt.Errorf("%w: format %d", ErrUnsupportedVaultFormat, claims.Format)
	}
	if _, err := ParseCipherCombo(claims.CipherCombo); err != nil {
		return vaultConfigClaims{}, err
	}
	return claims, nil
}
