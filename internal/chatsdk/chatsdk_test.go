package chatsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuer_IssueVerifyRevoke(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	iss := NewIssuer("secret", "key", time.Hour, memory.New())
	iss.now = func() time.Time { return clock }

	tok, err := iss.Issue(ctx, "alice")
	require.NoError(t, err)
	uid, err := iss.Verify(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)

	clock = clock.Add(time.Millisecond)
	revokedAt, err := iss.Revoke(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, clock, revokedAt)
	_, err = iss.Verify(ctx, tok)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	clock = clock.Add(time.Millisecond)
	fresh, err := iss.Issue(ctx, "alice")
	require.NoError(t, err)
	uid, err = iss.Verify(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)

	clock = clock.Add(2 * time.Hour)
	_, err = iss.Verify(ctx, fresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_RejectsForeignSignature(t *testing.T) {
	ctx := context.Background()
	tok, err := NewIssuer("one", "", time.Hour, memory.New()).Issue(ctx, "bob")
	require.NoError(t, err)
	_, err = NewIssuer("two", "", time.Hour, memory.New()).Verify(ctx, tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_NotConfigured(t *testing.T) {
	_, err := NewIssuer("", "", time.Hour, memory.New()).Issue(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestIdentityClient(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]map[string]Identity
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		if r.Method == http.MethodPost {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewIdentityClient(srv.URL, "k", "secret")
	photo := "https://img/a.png"
	require.NoError(t, c.UpsertIdentity(context.Background(), &model.User{ID: "u1", DisplayName: "Alice", Email: "a@x", ProfileImageURL: &photo}))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, Identity{ID: "u1", Name: "Alice", Email: "a@x", Image: photo}, gotBody["users"]["u1"])

	require.NoError(t, c.DeleteIdentity(context.Background(), "u1"))
	assert.Equal(t, "/users/u1", gotPath)

	disabled := NewIdentityClient("", "", "")
	assert.False(t, disabled.Enabled())
	assert.NoError(t, disabled.UpsertIdentity(context.Background(), &model.User{ID: "x"}))
}

func TestIdentityClient_RevokeTokens(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody struct {
		Users []struct {
			ID  string            `json:"id"`
			Set map[string]string `json:"set"`
		} `json:"users"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	before := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)
	require.NoError(t, NewIdentityClient(srv.URL, "k", "secret").RevokeTokens(context.Background(), "u1", before))
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/users", gotPath)
	require.Len(t, gotBody.Users, 1)
	assert.Equal(t, "u1", gotBody.Users[0].ID)
	assert.Equal(t, "2024-05-01T12:00:00.0000005Z", gotBody.Users[0].Set["revoke_tokens_issued_before"])

	assert.NoError(t, NewIdentityClient("", "", "").RevokeTokens(context.Background(), "u1", before))
}

func TestIdentityClient_RevokeTokensFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	err := NewIdentityClient(srv.URL, "", "s").RevokeTokens(context.Background(), "u1", time.Now())
	assert.Error(t, err)
}
