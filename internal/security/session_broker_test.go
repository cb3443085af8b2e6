package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBroker() *Broker {
	return NewBroker(BrokerConfig{HMACSecret: "test-secret", DefaultTTL: time.Hour})
}

func TestIssueAndVerifySession_RoundTrips(t *testing.T) {
	b := testBroker()
	tok, err := b.IssueSession("shard-1", "proc-42")
	require.NoError(t, err)
	require.NotEmpty(t, tok.Token)

	claims, err := b.VerifySession(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "shard-1", claims.ShardID)
	assert.Equal(t, "proc-42", claims.ProcessID)
}

func TestVerifySession_RejectsTamperedToken(t *testing.T) {
	b := testBroker()
	tok, err := b.IssueSession("shard-1", "proc-42")
	require.NoError(t, err)

	tampered := tok.Token + "x"
	_, err = b.VerifySession(tampered)
	assert.Error(t, err)
}

func TestVerifySession_RejectsExpiredToken(t *testing.T) {
	b := NewBroker(BrokerConfig{HMACSecret: "test-secret", DefaultTTL: -time.Second})
	tok, err := b.IssueSession("shard-1", "proc-42")
	require.NoError(t, err)

	_, err = b.VerifySession(tok.Token)
	assert.ErrorContains(t, err, "expired")
}

func TestRevokeSession_RejectsUnknownTokenID(t *testing.T) {
	b := testBroker()
	err := b.RevokeSession("sess_does_not_exist")
	assert.Error(t, err)
}

func TestRevokeSession_RevokedTokenFailsVerification(t *testing.T) {
	b := testBroker()
	tok, err := b.IssueSession("shard-1", "proc-42")
	require.NoError(t, err)

	require.NoError(t, b.RevokeSession(tok.TokenID))

	_, err = b.VerifySession(tok.Token)
	assert.ErrorContains(t, err, "revoked")
}

func TestRevokeAllForProcess_RevokesEveryMatchingSession(t *testing.T) {
	b := testBroker()
	tok1, err := b.IssueSession("shard-1", "proc-42")
	require.NoError(t, err)
	tok2, err := b.IssueSession("shard-2", "proc-42")
	require.NoError(t, err)

	n := b.RevokeAllForProcess("proc-42")
	assert.Equal(t, 2, n)

	_, err = b.VerifySession(tok1.Token)
	assert.Error(t, err)
	_, err = b.VerifySession(tok2.Token)
	assert.Error(t, err)
}

func TestRotateKey_PreviousKeyStillVerifiesDuringGrace(t *testing.T) {
	b := testBroker()
	tok, err := b.IssueSession("shard-1", "proc-42")
	require.NoError(t, err)

	b.RotateKey("new-secret")

	claims, err := b.VerifySession(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "proc-42", claims.ProcessID)
}

func TestSweepExpired_RemovesOnlyExpiredSessions(t *testing.T) {
	b := NewBroker(BrokerConfig{HMACSecret: "test-secret", DefaultTTL: -time.Second})
	_, err := b.IssueSession("shard-1", "proc-42")
	require.NoError(t, err)
	assert.Equal(t, 1, b.ActiveCount())

	swept := b.SweepExpired()
	assert.Equal(t, 1, swept)
	assert.Equal(t, 0, b.ActiveCount())
}
