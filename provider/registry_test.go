package provider

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testConfigs() []Config {
	return []Config{
		{
			Name:                 "coingecko",
			Hosts:                []string{"api.coingecko.com"},
			MaxRequestsPerWindow: 10,
			Window:               time.Minute,
		},
		{
			Name:  "solana-rpc",
			Hosts: []string{"mainnet.solana.example", "rpc.solana.example"},
		},
		{
			Name:  "telegram",
			Hosts: []string{"telegram.org"},
		},
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry([]Config{{Hosts: []string{"x.example"}}})
	if !errors.Is(err, ErrEmptyName) {
		t.Errorf("empty name: err = %v, want ErrEmptyName", err)
	}

	_, err = NewRegistry([]Config{{Name: "a"}, {Name: "a"}})
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate name: err = %v, want ErrDuplicateName", err)
	}
}

func TestRegistry_ResolveByHost(t *testing.T) {
	r, err := NewRegistry(testConfigs())
	if err != nil {
		t.Fatalf("NewRegistry() = %v", err)
	}

	id, cfg, err := r.Resolve("", "https://api.coingecko.com/api/v3/simple/price?ids=solana")
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if id != "coingecko" {
		t.Errorf("id = %q, want coingecko", id)
	}
	if cfg.MaxRequestsPerWindow != 10 {
		t.Errorf("MaxRequestsPerWindow = %d, want 10", cfg.MaxRequestsPerWindow)
	}
}

func TestRegistry_ResolveExplicitWins(t *testing.T) {
	r, _ := NewRegistry(testConfigs())

	id, _, err := r.Resolve("solana-rpc", "https://api.coingecko.com/whatever")
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if id != "solana-rpc" {
		t.Errorf("id = %q, want solana-rpc (explicit id must win)", id)
	}
}

func TestRegistry_ResolveSubdomain(t *testing.T) {
	r, _ := NewRegistry(testConfigs())

	id, _, err := r.Resolve("", "https://api.telegram.org/bot123/sendMessage")
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if id != "telegram" {
		t.Errorf("id = %q, want telegram via parent-domain match", id)
	}
}

func TestRegistry_ResolveCaseInsensitiveHost(t *testing.T) {
	r, _ := NewRegistry(testConfigs())

	id, _, err := r.Resolve("", "https://API.CoinGecko.com/ping")
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if id != "coingecko" {
		t.Errorf("id = %q, want coingecko", id)
	}
}

func TestRegistry_UnknownHostsGetIsolatedBuckets(t *testing.T) {
	r, _ := NewRegistry(testConfigs())

	idA, _, _ := r.Resolve("", "https://alpha.unknown.example/x")
	idB, _, _ := r.Resolve("", "https://beta.unknown2.example/y")

	if idA == idB {
		t.Errorf("unknown hosts share bucket %q, want isolated buckets", idA)
	}
	if idA != "alpha.unknown.example" {
		t.Errorf("id = %q, want the hostname itself", idA)
	}
}

func TestRegistry_SharedFallback(t *testing.T) {
	r, _ := NewRegistry(testConfigs(), WithSharedFallback())

	idA, _, _ := r.Resolve("", "https://alpha.unknown.example/x")
	idB, _, _ := r.Resolve("", "https://beta.unknown2.example/y")

	if idA != FallbackBucket || idB != FallbackBucket {
		t.Errorf("ids = %q, %q, want both %q", idA, idB, FallbackBucket)
	}
}

func TestRegistry_ResolveInvalidTarget(t *testing.T) {
	r, _ := NewRegistry(testConfigs())

	_, _, err := r.Resolve("", "not a url")
	if !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("Resolve(invalid) = %v, want ErrInvalidTarget", err)
	}
}

func TestRegistry_HeaderExpansion(t *testing.T) {
	t.Setenv("EGRESS_TEST_KEY", "s3cret")

	r, err := NewRegistry([]Config{{
		Name:    "market",
		Hosts:   []string{"market.example"},
		Headers: map[string]string{"X-Api-Key": "${EGRESS_TEST_KEY}"},
	}})
	if err != nil {
		t.Fatalf("NewRegistry() = %v", err)
	}

	cfg, ok := r.Lookup("market")
	if !ok {
		t.Fatal("Lookup(market) = false")
	}
	if cfg.Headers["X-Api-Key"] != "s3cret" {
		t.Errorf("header = %q, want expanded secret", cfg.Headers["X-Api-Key"])
	}
}

func TestRegistry_HeaderExpansionMissingVar(t *testing.T) {
	_, err := NewRegistry([]Config{{
		Name:    "market",
		Headers: map[string]string{"X-Api-Key": "${EGRESS_TEST_DEFINITELY_UNSET}"},
	}})
	if err == nil || !strings.Contains(err.Error(), "EGRESS_TEST_DEFINITELY_UNSET") {
		t.Errorf("err = %v, want missing-variable error naming the variable", err)
	}
}

func TestExpandEnv_EscapedDollar(t *testing.T) {
	got, err := ExpandEnv("pa$$word")
	if err != nil {
		t.Fatalf("ExpandEnv() = %v", err)
	}
	if got != "pa$word" {
		t.Errorf("ExpandEnv(pa$$word) = %q, want pa$word", got)
	}
}

func TestRegistry_Names(t *testing.T) {
	r, _ := NewRegistry(testConfigs())

	names := r.Names()
	want := []string{"coingecko", "solana-rpc", "telegram"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
