package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/kv"
	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer mints and verifies the signed handle token open() returns
// alongside the numeric graph handle, binding it to the opening process
// and the GKV it was opened with so a stale or forged handle can't be
// replayed against ioctl/read/write (teacher pattern: internal/auth's
// HS256 jwt.MapClaims sign/parse pair, applied to a machine-to-machine
// handle instead of a user session).
type tokenIssuer struct {
	key []byte
}

func newTokenIssuer(signingKey string) *tokenIssuer {
	return &tokenIssuer{key: []byte(signingKey)}
}

func gkvHash(gkv kv.Vector) string {
	h := sha256.New()
	for _, e := range gkv {
		fmt.Fprintf(h, "%d=%d;", e.Key, e.Value)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Issue mints a token binding handle to procHandle and gkv as of now.
func (ti *tokenIssuer) Issue(handle uint64, procHandle uint64, gkv kv.Vector) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"handle": handle,
		"pid":    procHandle,
		"gkv":    gkvHash(gkv),
		"iat":    now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
}

// Verify checks raw's signature and that its claims still match handle,
// procHandle and gkv (spec's "ioctl/read/write verify the token's
// signature" before touching runtime state).
func (ti *tokenIssuer) Verify(raw string, handle uint64, procHandle uint64, gkv kv.Vector) error {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("runtime: unexpected signing method %s", t.Method.Alg())
		}
		return ti.key, nil
	})
	if err != nil {
		return acdberr.Wrap(component, acdberr.EHANDLE, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return acdberr.New(component, acdberr.EHANDLE)
	}

	gotHandle, _ := claims["handle"].(float64)
	gotPID, _ := claims["pid"].(float64)
	gotGKV, _ := claims["gkv"].(string)

	if uint64(gotHandle) != handle || uint64(gotPID) != procHandle || gotGKV != gkvHash(gkv) {
		return acdberr.New(component, acdberr.EHANDLE)
	}
	return nil
}
