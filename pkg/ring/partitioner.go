package ring

import (
	"crypto/md5" // #nosec G501 -- used for key distribution, not security
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sort"

	farm "github.com/dgryski/go-farm"
	"github.com/spaolacci/murmur3"
)

// Partitioner maps keys onto the ring.
type Partitioner interface {
	Name() string
	TokenFor(key []byte) Token
	TokenToString(t Token) string
	TokenFromString(s string) (Token, error)
	RandomToken() Token
	// Midpoint returns the token halfway from left to right walking clockwise.
	// Equal bounds denote the whole ring.
	Midpoint(left, right Token) Token
}

const (
	PartitionerMurmur3 = "murmur3"
	PartitionerRandom  = "random"
	PartitionerFarm    = "farm"
)

var partitioners = map[string]func() Partitioner{
	PartitionerMurmur3: func() Partitioner { return Murmur3Partitioner{} },
	PartitionerRandom:  func() Partitioner { return RandomPartitioner{} },
	PartitionerFarm:    func() Partitioner { return FarmPartitioner{} },
}

// NewPartitioner returns the partitioner registered under name.
// An empty name selects murmur3.
func NewPartitioner(name string) (Partitioner, error) {
	if name == "" {
		name = PartitionerMurmur3
	}
	ctor, ok := partitioners[name]
	if !ok {
		return nil, fmt.Errorf("unknown partitioner %q (available: %v)", name, PartitionerNames())
	}
	return ctor(), nil
}

// PartitionerNames lists registered partitioners.
func PartitionerNames() []string {
	names := make([]string, 0, len(partitioners))
	for n := range partitioners {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// tokenCodec holds the behavior shared by all 64-bit partitioners.
type tokenCodec struct{}

func (tokenCodec) TokenToString(t Token) string { return t.String() }

func (tokenCodec) TokenFromString(s string) (Token, error) { return ParseToken(s) }

func (tokenCodec) RandomToken() Token { return Token(rand.Uint64()) } // #nosec G404

func (tokenCodec) Midpoint(left, right Token) Token {
	if left == right {
		return left + Token(1<<63)
	}
	// Unsigned subtraction yields the clockwise distance, wrap included.
	return left + (right-left)/2
}

// Murmur3Partitioner hashes keys with murmur3 (x64, 128-bit, first half).
type Murmur3Partitioner struct{ tokenCodec }

func (Murmur3Partitioner) Name() string { return PartitionerMurmur3 }

func (Murmur3Partitioner) TokenFor(key []byte) Token { return Token(murmur3.Sum64(key)) }

// RandomPartitioner uses the first eight bytes of an md5 digest.
type RandomPartitioner struct{ tokenCodec }

func (RandomPartitioner) Name() string { return PartitionerRandom }

func (RandomPartitioner) TokenFor(key []byte) Token {
	sum := md5.Sum(key) // #nosec G401
	return Token(binary.BigEndian.Uint64(sum[:8]))
}

// FarmPartitioner hashes keys with farmhash Hash64.
type FarmPartitioner struct{ tokenCodec }

func (FarmPartitioner) Name() string { return PartitionerFarm }

func (FarmPartitioner) TokenFor(key []byte) Token { return Token(farm.Hash64(key)) }
