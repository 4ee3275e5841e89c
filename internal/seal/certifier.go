package seal

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Certifier issues and checks the opaque certificate carried inside a
// session key. In production this is the key-server side of the seal SDK;
// the HMAC certifier stands in for it in dev mode and tests.
type Certifier interface {
	Certify(address, packageID, nonce string, creationTimeMs int64, ttlMin int) (string, error)
	Verify(certificate string) error
}

type certificateClaims struct {
	Address   string `json:"addr"`
	PackageID string `json:"pkg"`
	Nonce     string `json:"nonce"`
	jwt.RegisteredClaims
}

type HMACCertifier struct {
	Secret string
	Issuer string
}

func (c HMACCertifier) Certify(address, packageID, nonce string, creationTimeMs int64, ttlMin int) (string, error) {
	if c.Secret == "" {
		return "", errors.New("missing secret")
	}
	if address == "" || packageID == "" {
		return "", errors.New("missing address or package id")
	}

	created := time.UnixMilli(creationTimeMs)
	claims := certificateClaims{
		Address:   address,
		PackageID: packageID,
		Nonce:     nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(created),
			ExpiresAt: jwt.NewNumericDate(created.Add(time.Duration(ttlMin) * time.Minute)),
			ID:        nonce,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.Secret))
}

func (c HMACCertifier) Verify(certificate string) error {
	if c.Secret == "" {
		return errors.New("missing secret")
	}

	parsed, err := jwt.ParseWithClaims(certificate, &certificateClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(c.Secret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return jwt.ErrSignatureInvalid
	}
	return nil
}
