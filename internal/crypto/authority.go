package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Decision(uint256 disputeId,bytes32 decisionRef,uint256 approvedAmount,uint256 penaltyAmount,bool refundsRequired)
	decisionTypeHash = ethcrypto.Keccak256(
		[]byte("Decision(uint256 disputeId,bytes32 decisionRef,uint256 approvedAmount,uint256 penaltyAmount,bool refundsRequired)"),
	)
)

// DecisionPayload is the typed decision struct the authority signs before
// submission so auditors can verify which key issued each decision.
type DecisionPayload struct {
	DisputeID       uint64
	DecisionRef     common.Hash
	ApprovedAmount  *big.Int
	PenaltyAmount   *big.Int
	RefundsRequired bool
}

// AuthoritySigner signs decision payloads with the arbitration authority's
// secp256k1 key.
type AuthoritySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewAuthoritySigner creates an AuthoritySigner from a hex-encoded private
// key and the target chain id.
func NewAuthoritySigner(privateKeyHex string, chainID int) (*AuthoritySigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid authority key: %w", err)
	}

	s := &AuthoritySigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
	s.domainSep = buildDomainSeparator("ArbiterDecision", "1", chainID)
	return s, nil
}

// Address returns the authority address derived from the signing key.
func (s *AuthoritySigner) Address() common.Address {
	return s.address
}

// SignDecision returns the hex-encoded 65-byte signature over the EIP-712
// digest of the payload.
func (s *AuthoritySigner) SignDecision(p DecisionPayload) (string, error) {
	refunds := big.NewInt(0)
	if p.RefundsRequired {
		refunds = big.NewInt(1)
	}
	approved := p.ApprovedAmount
	if approved == nil {
		approved = new(big.Int)
	}
	penalty := p.PenaltyAmount
	if penalty == nil {
		penalty = new(big.Int)
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			decisionTypeHash,
			bigIntTo32Bytes(new(big.Int).SetUint64(p.DisputeID)),
			p.DecisionRef.Bytes(),
			bigIntTo32Bytes(approved),
			bigIntTo32Bytes(penalty),
			bigIntTo32Bytes(refunds),
		),
	)

	digest := eip712Hash(s.domainSep, structHash)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: signing decision: %w", err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// KeyAuthority is an address allow-list implementing the decision-authority
// capability. The reference deployment holds a single key; additional
// addresses can be granted for rotation.
type KeyAuthority struct {
	mu      sync.RWMutex
	allowed map[common.Address]struct{}
}

// NewKeyAuthority creates a KeyAuthority granting the given addresses.
func NewKeyAuthority(addrs ...common.Address) *KeyAuthority {
	a := &KeyAuthority{allowed: make(map[common.Address]struct{}, len(addrs))}
	for _, addr := range addrs {
		a.allowed[addr] = struct{}{}
	}
	return a
}

// Grant adds an address to the allow-list.
func (a *KeyAuthority) Grant(addr common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowed[addr] = struct{}{}
}

// Revoke removes an address from the allow-list.
func (a *KeyAuthority) Revoke(addr common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allowed, addr)
}

// IsAuthorizedToDecide reports whether addr may submit decisions.
func (a *KeyAuthority) IsAuthorizedToDecide(addr common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.allowed[addr]
	return ok
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
