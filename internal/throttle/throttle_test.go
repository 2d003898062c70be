package throttle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewLimiterValidates(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	if _, err := NewLimiter(nil, 1, time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewLimiter(rdb, 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewLimiter(rdb, 1, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	l, err := NewLimiter(rdb, 3, time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := l.key("camp_1"); got != "dialer:inflight:camp_1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestScriptsInitialized(t *testing.T) {
	if acquireScript == nil || releaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

type scriptCall struct {
	keys []string
	args []interface{}
}

// fakeScripter answers EvalSha with a fixed reply and records the call.
type fakeScripter struct {
	redis.Scripter
	reply int64
	calls []scriptCall
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	f.calls = append(f.calls, scriptCall{keys: keys, args: args})
	return redis.NewCmdResult(f.reply, nil)
}

func TestAcquire_PassesLimitAndTTL(t *testing.T) {
	f := &fakeScripter{reply: 1}
	l, err := NewLimiter(f, 4, 90*time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ok, err := l.Acquire(context.Background(), "camp_1")
	if err != nil || !ok {
		t.Fatalf("expected slot, got %v %v", ok, err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("expected one script call, got %d", len(f.calls))
	}
	c := f.calls[0]
	if len(c.keys) != 1 || c.keys[0] != "dialer:inflight:camp_1" {
		t.Fatalf("unexpected keys %v", c.keys)
	}
	if len(c.args) != 2 || c.args[0] != 4 || c.args[1] != int64(90000) {
		t.Fatalf("unexpected args %v", c.args)
	}

	f.reply = 0
	ok, err = l.Acquire(context.Background(), "camp_1")
	if err != nil || ok {
		t.Fatalf("expected cap full, got %v %v", ok, err)
	}
}

func TestAcquireLua_RefreshesTTLOnGrant(t *testing.T) {
	granted := strings.LastIndex(acquireLua, "return 1")
	refresh := strings.LastIndex(acquireLua[:granted], "PEXPIRE")
	rejected := strings.Index(acquireLua, "return 0")
	if granted < 0 || refresh < rejected {
		t.Fatalf("a granted slot must refresh the key TTL:\n%s", acquireLua)
	}
}
