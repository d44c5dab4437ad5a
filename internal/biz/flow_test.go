package biz_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"oauth-gateway/internal/biz"
	"oauth-gateway/internal/data"

	"github.com/stretchr/testify/require"
)

// fakeProvider 记录换取令牌的调用，不发起任何网络请求
type fakeProvider struct {
	id     string
	pkce   bool
	tokens biz.TokenSet
	err    error

	calls        atomic.Int32
	mu           sync.Mutex
	lastCode     string
	lastVerifier string
}

func (p *fakeProvider) ID() string    { return p.id }
func (p *fakeProvider) UsePKCE() bool { return p.pkce }

func (p *fakeProvider) AuthCodeURL(state, scope, verifier string) string {
	v := url.Values{"state": {state}}
	if scope != "" {
		v.Set("scope", scope)
	}
	if verifier != "" {
		v.Set("code_challenge_method", "S256")
	}
	return "https://provider.test/authorize?" + v.Encode()
}

func (p *fakeProvider) Exchange(_ context.Context, code, verifier string) (*biz.TokenSet, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.lastCode, p.lastVerifier = code, verifier
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	tokens := p.tokens
	return &tokens, nil
}

type fakeRegistry map[string]biz.ProviderClient

func (r fakeRegistry) Lookup(id string) (biz.ProviderClient, bool) {
	p, ok := r[id]
	return p, ok
}

func newTestFlow(t *testing.T, sessionOpts biz.SessionOptions, providers ...*fakeProvider) *biz.Flow {
	t.Helper()
	store := data.NewMemoryStore(0)
	t.Cleanup(func() { store.Close() })

	registry := fakeRegistry{}
	for _, p := range providers {
		registry[p.id] = p
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return biz.NewFlow(registry, biz.NewStateCodec(store, 0), biz.NewSessionManager(store, sessionOpts), logger)
}

func stateFrom(t *testing.T, redirectURL string) string {
	t.Helper()
	u, err := url.Parse(redirectURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

// TestFlow_SignInCallback 测试完整登录流程
func TestFlow_SignInCallback(t *testing.T) {
	ctx := context.Background()
	github := &fakeProvider{id: "github", tokens: biz.TokenSet{AccessToken: "tok1", TokenType: "bearer"}}
	flow := newTestFlow(t, biz.SessionOptions{}, github)

	signIn, err := flow.StartSignIn(ctx, "github", "", "/dashboard")
	require.NoError(t, err)
	require.NotEmpty(t, signIn.StateToken)
	state := stateFrom(t, signIn.RedirectURL)
	require.NotEqual(t, signIn.StateToken, state)

	result, err := flow.HandleCallback(ctx, "github", biz.CallbackParams{Code: "c1", State: state}, signIn.StateToken, "")
	require.NoError(t, err)
	require.Equal(t, "/dashboard", result.ReturnTo)
	require.Equal(t, "github", result.Session.ProviderID)
	require.Equal(t, "c1", github.lastCode)
	require.Empty(t, github.lastVerifier)

	require.True(t, flow.Sessions().IsSignedIn(ctx, result.Session.ID))
	tokens, err := flow.Sessions().Tokens(ctx, result.Session.ID)
	require.NoError(t, err)
	require.Equal(t, "tok1", tokens.AccessToken)

	// 读取令牌没有副作用
	again, err := flow.Sessions().Tokens(ctx, result.Session.ID)
	require.NoError(t, err)
	require.Equal(t, tokens, again)
}

// TestFlow_ScopeOverride 测试 scope 覆盖透传给提供方
func TestFlow_ScopeOverride(t *testing.T) {
	flow := newTestFlow(t, biz.SessionOptions{}, &fakeProvider{id: "discord"})

	signIn, err := flow.StartSignIn(context.Background(), "discord", "identify email", "")
	require.NoError(t, err)
	u, err := url.Parse(signIn.RedirectURL)
	require.NoError(t, err)
	require.Equal(t, "identify email", u.Query().Get("scope"))
}

// TestFlow_PKCE 测试 PKCE verifier 从登录传到换取令牌
func TestFlow_PKCE(t *testing.T) {
	ctx := context.Background()
	discord := &fakeProvider{id: "discord", pkce: true, tokens: biz.TokenSet{AccessToken: "tok"}}
	flow := newTestFlow(t, biz.SessionOptions{}, discord)

	signIn, err := flow.StartSignIn(ctx, "discord", "", "")
	require.NoError(t, err)
	require.Contains(t, signIn.RedirectURL, "code_challenge_method=S256")

	_, err = flow.HandleCallback(ctx, "discord", biz.CallbackParams{Code: "c", State: stateFrom(t, signIn.RedirectURL)}, signIn.StateToken, "")
	require.NoError(t, err)
	// 32 字节 base64url 无填充为 43 个字符，满足 RFC 7636 的长度要求
	require.Len(t, discord.lastVerifier, 43)
}

// TestFlow_UnknownProvider 测试未注册的提供方
func TestFlow_UnknownProvider(t *testing.T) {
	ctx := context.Background()
	flow := newTestFlow(t, biz.SessionOptions{}, &fakeProvider{id: "github"})

	_, err := flow.StartSignIn(ctx, "myspace", "", "")
	require.ErrorIs(t, err, biz.ErrUnknownProvider)

	_, err = flow.HandleCallback(ctx, "myspace", biz.CallbackParams{Code: "c", State: "s"}, "t", "")
	require.ErrorIs(t, err, biz.ErrUnknownProvider)
}

// TestFlow_StateMismatch 测试 state 不一致时不会换取令牌
func TestFlow_StateMismatch(t *testing.T) {
	ctx := context.Background()
	github := &fakeProvider{id: "github", tokens: biz.TokenSet{AccessToken: "tok1"}}
	flow := newTestFlow(t, biz.SessionOptions{}, github)

	signIn, err := flow.StartSignIn(ctx, "github", "", "")
	require.NoError(t, err)

	_, err = flow.HandleCallback(ctx, "github", biz.CallbackParams{Code: "c", State: "WRONG"}, signIn.StateToken, "")
	require.ErrorIs(t, err, biz.ErrStateMismatch)
	require.Zero(t, github.calls.Load())

	// 失败的回调同样消耗了 pending auth
	_, err = flow.HandleCallback(ctx, "github", biz.CallbackParams{Code: "c", State: stateFrom(t, signIn.RedirectURL)}, signIn.StateToken, "")
	require.ErrorIs(t, err, biz.ErrStateMismatch)
	require.Zero(t, github.calls.Load())

	// 没有 state cookie
	_, err = flow.HandleCallback(ctx, "github", biz.CallbackParams{Code: "c", State: "s"}, "", "")
	require.ErrorIs(t, err, biz.ErrStateMismatch)
}

// TestStateCodec_MismatchLeavesOthers 测试失败的消费不影响其他 pending auth
func TestStateCodec_MismatchLeavesOthers(t *testing.T) {
	ctx := context.Background()
	store := data.NewMemoryStore(0)
	defer store.Close()
	codec := biz.NewStateCodec(store, 0)

	firstToken, _, err := codec.Issue(ctx, "github", false, "")
	require.NoError(t, err)
	secondToken, second, err := codec.Issue(ctx, "discord", true, "/after")
	require.NoError(t, err)

	_, err = codec.Consume(ctx, firstToken, "WRONG")
	require.ErrorIs(t, err, biz.ErrStateMismatch)

	got, err := codec.Consume(ctx, secondToken, second.State)
	require.NoError(t, err)
	require.Equal(t, "discord", got.ProviderID)
	require.Equal(t, second.CodeVerifier, got.CodeVerifier)
	require.Equal(t, "/after", got.ReturnTo)
}

// TestSessionManager_TokensRoundTrip 测试令牌完整保存并原样读取
func TestSessionManager_TokensRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := data.NewMemoryStore(0)
	defer store.Close()
	sessions := biz.NewSessionManager(store, biz.SessionOptions{})

	want := biz.TokenSet{
		AccessToken:  "tok1",
		RefreshToken: "ref1",
		TokenType:    "bearer",
		Expiry:       time.Now().Add(time.Hour).Round(0),
		Scope:        "read:user user:email",
		IDToken:      "header.payload.sig",
	}
	session, err := sessions.Create(ctx, "github", &want)
	require.NoError(t, err)

	got, err := sessions.Tokens(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, want, *got)
}

// TestFlow_ProviderMismatch 测试在另一个提供方的回调地址上使用 state
func TestFlow_ProviderMismatch(t *testing.T) {
	ctx := context.Background()
	github := &fakeProvider{id: "github"}
	discord := &fakeProvider{id: "discord"}
	flow := newTestFlow(t, biz.SessionOptions{}, github, discord)

	signIn, err := flow.StartSignIn(ctx, "github", "", "")
	require.NoError(t, err)

	_, err = flow.HandleCallback(ctx, "discord", biz.CallbackParams{Code: "c", State: stateFrom(t, signIn.RedirectURL)}, signIn.StateToken, "")
	require.ErrorIs(t, err, biz.ErrStateMismatch)
	require.Zero(t, github.calls.Load())
	require.Zero(t, discord.calls.Load())
}

// TestFlow_ReplayConcurrent 测试同一个 state 并发回调只有一个成功
func TestFlow_ReplayConcurrent(t *testing.T) {
	ctx := context.Background()
	github := &fakeProvider{id: "github", tokens: biz.TokenSet{AccessToken: "tok1"}}
	flow := newTestFlow(t, biz.SessionOptions{}, github)

	signIn, err := flow.StartSignIn(ctx, "github", "", "")
	require.NoError(t, err)
	params := biz.CallbackParams{Code: "c", State: stateFrom(t, signIn.RedirectURL)}

	const n = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		mismatch  atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := flow.HandleCallback(ctx, "github", params, signIn.StateToken, "")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, biz.ErrStateMismatch):
				mismatch.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, succeeded.Load())
	require.EqualValues(t, n-1, mismatch.Load())
	require.EqualValues(t, 1, github.calls.Load())
}

// TestFlow_ProviderError 测试提供方返回 error 参数
func TestFlow_ProviderError(t *testing.T) {
	ctx := context.Background()
	github := &fakeProvider{id: "github"}
	flow := newTestFlow(t, biz.SessionOptions{}, github)

	signIn, err := flow.StartSignIn(ctx, "github", "", "")
	require.NoError(t, err)
	state := stateFrom(t, signIn.RedirectURL)

	_, err = flow.HandleCallback(ctx, "github", biz.CallbackParams{State: state, Error: "access_denied"}, signIn.StateToken, "")
	require.ErrorIs(t, err, biz.ErrInvalidCallback)
	require.Zero(t, github.calls.Load())

	// 缺少 code
	signIn, err = flow.StartSignIn(ctx, "github", "", "")
	require.NoError(t, err)
	_, err = flow.HandleCallback(ctx, "github", biz.CallbackParams{State: stateFrom(t, signIn.RedirectURL)}, signIn.StateToken, "")
	require.ErrorIs(t, err, biz.ErrInvalidCallback)
	require.Zero(t, github.calls.Load())
}

// TestFlow_ExchangeErrors 测试换取令牌失败时的错误分类
func TestFlow_ExchangeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "unclassified", err: errors.New("boom"), want: biz.ErrExchangeFailed},
		{name: "exchange failed", err: biz.ErrExchangeFailed, want: biz.ErrExchangeFailed},
		{name: "network", err: biz.ErrNetwork, want: biz.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			github := &fakeProvider{id: "github", err: tt.err}
			flow := newTestFlow(t, biz.SessionOptions{}, github)

			signIn, err := flow.StartSignIn(ctx, "github", "", "")
			require.NoError(t, err)
			_, err = flow.HandleCallback(ctx, "github", biz.CallbackParams{Code: "c", State: stateFrom(t, signIn.RedirectURL)}, signIn.StateToken, "")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// TestFlow_SignOut 测试退出登录及其幂等性
func TestFlow_SignOut(t *testing.T) {
	ctx := context.Background()
	flow := newTestFlow(t, biz.SessionOptions{}, &fakeProvider{id: "github", tokens: biz.TokenSet{AccessToken: "tok1"}})

	signIn, err := flow.StartSignIn(ctx, "github", "", "")
	require.NoError(t, err)
	result, err := flow.HandleCallback(ctx, "github", biz.CallbackParams{Code: "c", State: stateFrom(t, signIn.RedirectURL)}, signIn.StateToken, "")
	require.NoError(t, err)

	require.NoError(t, flow.SignOut(ctx, result.Session.ID))
	require.False(t, flow.Sessions().IsSignedIn(ctx, result.Session.ID))
	_, err = flow.Sessions().Tokens(ctx, result.Session.ID)
	require.ErrorIs(t, err, biz.ErrNotSignedIn)

	require.NoError(t, flow.SignOut(ctx, result.Session.ID))
	require.NoError(t, flow.SignOut(ctx, ""))
}

// TestFlow_RotatesSession 测试重新登录时旧会话失效
func TestFlow_RotatesSession(t *testing.T) {
	ctx := context.Background()
	flow := newTestFlow(t, biz.SessionOptions{}, &fakeProvider{id: "github", tokens: biz.TokenSet{AccessToken: "tok1"}})

	signIn := func(previous string) *biz.CallbackResult {
		started, err := flow.StartSignIn(ctx, "github", "", "")
		require.NoError(t, err)
		result, err := flow.HandleCallback(ctx, "github", biz.CallbackParams{Code: "c", State: stateFrom(t, started.RedirectURL)}, started.StateToken, previous)
		require.NoError(t, err)
		return result
	}

	first := signIn("")
	second := signIn(first.Session.ID)

	require.NotEqual(t, first.Session.ID, second.Session.ID)
	require.False(t, flow.Sessions().IsSignedIn(ctx, first.Session.ID))
	require.True(t, flow.Sessions().IsSignedIn(ctx, second.Session.ID))
}

// TestStateCodec_Expired 测试过期的 state 被拒绝
func TestStateCodec_Expired(t *testing.T) {
	ctx := context.Background()
	store := data.NewMemoryStore(0)
	defer store.Close()
	codec := biz.NewStateCodec(store, 5*time.Millisecond)

	token, pending, err := codec.Issue(ctx, "github", false, "")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = codec.Consume(ctx, token, pending.State)
	require.ErrorIs(t, err, biz.ErrStateMismatch)
}

// TestStateCodec_DefaultTTL 测试默认有效期
func TestStateCodec_DefaultTTL(t *testing.T) {
	store := data.NewMemoryStore(0)
	defer store.Close()
	require.Equal(t, biz.DefaultPendingTTL, biz.NewStateCodec(store, 0).TTL())
}

// TestSessionManager_Expiry 测试会话有效期计算
func TestSessionManager_Expiry(t *testing.T) {
	ctx := context.Background()
	store := data.NewMemoryStore(0)
	defer store.Close()

	tokenExpiry := time.Now().Add(time.Hour)
	tokens := &biz.TokenSet{AccessToken: "tok", Expiry: tokenExpiry}

	bound := biz.NewSessionManager(store, biz.SessionOptions{BindTokenExpiry: true})
	session, err := bound.Create(ctx, "github", tokens)
	require.NoError(t, err)
	require.True(t, session.ExpiresAt.Equal(tokenExpiry))

	unbound := biz.NewSessionManager(store, biz.SessionOptions{})
	session, err = unbound.Create(ctx, "github", tokens)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(biz.DefaultSessionTTL), session.ExpiresAt, time.Minute)

	// 已过期的 access token 不会缩短会话
	stale := &biz.TokenSet{AccessToken: "tok", Expiry: time.Now().Add(-time.Minute)}
	session, err = bound.Create(ctx, "github", stale)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(biz.DefaultSessionTTL), session.ExpiresAt, time.Minute)
}

// TestSessionManager_Expired 测试过期会话视为未登录
func TestSessionManager_Expired(t *testing.T) {
	ctx := context.Background()
	store := data.NewMemoryStore(0)
	defer store.Close()
	sessions := biz.NewSessionManager(store, biz.SessionOptions{TTL: 5 * time.Millisecond})

	session, err := sessions.Create(ctx, "github", &biz.TokenSet{AccessToken: "tok"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.False(t, sessions.IsSignedIn(ctx, session.ID))
	_, err = sessions.Session(ctx, session.ID)
	require.ErrorIs(t, err, biz.ErrNotSignedIn)
	_, err = sessions.Session(ctx, "")
	require.ErrorIs(t, err, biz.ErrNotSignedIn)
}

// TestLogValue_HidesCredentials 测试日志中不会出现令牌和会话 id
func TestLogValue_HidesCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	session := &biz.Session{
		ID:         "session-secret",
		ProviderID: "github",
		Tokens:     biz.TokenSet{AccessToken: "access-secret", RefreshToken: "refresh-secret", IDToken: "id-secret"},
	}
	logger.Info("signed in", "session", session, "tokens", session.Tokens)

	out := buf.String()
	require.Contains(t, out, "github")
	for _, secret := range []string{"session-secret", "access-secret", "refresh-secret", "id-secret"} {
		require.NotContains(t, out, secret)
	}
}
