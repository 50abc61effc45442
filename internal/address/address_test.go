package address

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	solFeed = common.HexToHash("0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	usdc    = common.HexToAddress("0x3c499c542cef5e3811e1192ce70d8cc03d5c3359")
)

func TestMarketIsDeterministic(t *testing.T) {
	a := Market(solFeed, 1_700_000_000)
	b := Market(solFeed, 1_700_000_000)
	if a != b {
		t.Fatalf("same seeds derived %s and %s", a, b)
	}
	if c := Market(solFeed, 1_700_000_001); c == a {
		t.Fatal("different deadline derived the same market address")
	}
}

func TestDistinctTags(t *testing.T) {
	seen := map[common.Hash]string{}
	for name, h := range map[string]common.Hash{
		"config":         Config(),
		"market":         Market(solFeed, 1),
		"position alice": Position(alice, Market(solFeed, 1)),
		"position bob":   Position(bob, Market(solFeed, 1)),
		"account alice":  Account(Owner(alice), usdc),
		"account market": Account(Market(solFeed, 1), usdc),
		"account config": Account(Config(), usdc),
	} {
		if prev, ok := seen[h]; ok {
			t.Fatalf("%s and %s derived the same address %s", prev, name, h)
		}
		seen[h] = name
	}
}

func TestSeedsAreLengthPrefixed(t *testing.T) {
	if Derive("t", []byte("ab"), []byte("c")) == Derive("t", []byte("a"), []byte("bc")) {
		t.Fatal("re-split seeds collided")
	}
}
