package runtime

import (
	"testing"

	"github.com/acdbrt/acdbrt/pkg/kv"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundtrip(t *testing.T) {
	ti := newTokenIssuer("test-signing-key")
	gkv := kv.Vector{{Key: 1, Value: 1}, {Key: 2, Value: 5}}

	token, err := ti.Issue(42, 7, gkv)
	require.NoError(t, err)
	require.NoError(t, ti.Verify(token, 42, 7, gkv))
}

func TestTokenRejectsHandleMismatch(t *testing.T) {
	ti := newTokenIssuer("test-signing-key")
	gkv := kv.Vector{{Key: 1, Value: 1}}

	token, err := ti.Issue(42, 7, gkv)
	require.NoError(t, err)
	require.Error(t, ti.Verify(token, 43, 7, gkv))
}

func TestTokenRejectsGKVMismatch(t *testing.T) {
	ti := newTokenIssuer("test-signing-key")
	gkv := kv.Vector{{Key: 1, Value: 1}}
	other := kv.Vector{{Key: 1, Value: 2}}

	token, err := ti.Issue(42, 7, gkv)
	require.NoError(t, err)
	require.Error(t, ti.Verify(token, 42, 7, other))
}

func TestTokenRejectsWrongSigningKey(t *testing.T) {
	issuer := newTokenIssuer("key-a")
	verifier := newTokenIssuer("key-b")
	gkv := kv.Vector{{Key: 1, Value: 1}}

	token, err := issuer.Issue(42, 7, gkv)
	require.NoError(t, err)
	require.Error(t, verifier.Verify(token, 42, 7, gkv))
}
