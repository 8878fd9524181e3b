package guardian_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/authz"
	"github.com/MrEthical07/guardian/store/memory"
)

const testPassword = "Correct-Horse-9"

// testClock is a settable clock shared by the engine and the test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine *guardian.Engine
	users  *memory.Users
	grants *memory.Grants
	dir    *memory.Directory
	clock  *testClock
}

func testConfig() guardian.Config {
	cfg := guardian.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Account.AutoVerify = true
	cfg.Audit.Enabled = false
	return cfg
}

type envOption func(*guardian.Builder)

func newTestEnv(t testing.TB, cfg guardian.Config, opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{
		users:  memory.NewUsers(),
		grants: memory.NewGrants(),
		dir:    memory.NewDirectory(),
		clock:  newTestClock(),
	}
	b := guardian.New().
		WithConfig(cfg).
		WithUserRepository(env.users).
		WithGrantRepository(env.grants).
		WithResourceDirectory(env.dir).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(env.clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) register(t testing.TB, email string, role guardian.Role) *guardian.User {
	t.Helper()
	u, err := env.engine.Register(context.Background(), guardian.RegisterRequest{
		Email:    email,
		Password: testPassword,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return u
}

// registerAdmin stores an admin directly; Register refuses admin accounts
// by default.
func (env *testEnv) registerAdmin(t testing.TB, email string) *guardian.User {
	t.Helper()
	u := env.register(t, email, guardian.RoleParent)
	stored, err := env.users.GetUserByID(context.Background(), u.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	stored.Role = guardian.RoleAdmin
	if err := env.users.SaveUser(context.Background(), stored); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	return stored
}

func (env *testEnv) login(t testing.TB, email string) (*guardian.TokenPair, *guardian.Claims) {
	t.Helper()
	ctx := context.Background()
	pair, err := env.engine.Authenticate(ctx, email, testPassword)
	if err != nil {
		t.Fatalf("Authenticate(%s): %v", email, err)
	}
	claims, err := env.engine.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	return pair, claims
}

func (env *testEnv) user(t testing.TB, id string) *guardian.User {
	t.Helper()
	u, err := env.users.GetUserByID(context.Background(), id)
	if err != nil || u == nil {
		t.Fatalf("GetUserByID(%s) = %v, %v", id, u, err)
	}
	return u
}

var errBackendDown = errors.New("backend down")

// failingDirectory fails every lookup.
type failingDirectory struct{}

func (failingDirectory) ResolveScope(context.Context, guardian.ResourceRef) (authz.Scope, error) {
	return authz.Scope{}, errBackendDown
}

// failingGrants fails every lookup.
type failingGrants struct{}

func (failingGrants) GetAccessGrant(context.Context, string, string) (*guardian.AccessGrant, error) {
	return nil, errBackendDown
}

// flakyUsers wraps memory.Users and fails reads while down is set.
type flakyUsers struct {
	*memory.Users
	mu   sync.Mutex
	down bool
}

func (u *flakyUsers) setDown(down bool) {
	u.mu.Lock()
	u.down = down
	u.mu.Unlock()
}

func (u *flakyUsers) isDown() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.down
}

func (u *flakyUsers) GetUserByEmail(ctx context.Context, email string) (*guardian.User, error) {
	if u.isDown() {
		return nil, errBackendDown
	}
	return u.Users.GetUserByEmail(ctx, email)
}

func (u *flakyUsers) GetUserByID(ctx context.Context, id string) (*guardian.User, error) {
	if u.isDown() {
		return nil, errBackendDown
	}
	return u.Users.GetUserByID(ctx, id)
}
