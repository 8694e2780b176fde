package relay

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Type hash for completion receipts (keccak256 of the canonical type string).
var receiptTypeHash = ethcrypto.Keccak256(
	[]byte("BridgeCompletionReceipt(uint64 requestId,bool success,bytes16 positionId,uint64 returnedAmount,string message)"),
)

// Identity is the custodial relay's signing identity. Holding an Identity is
// what authorizes a component to drive request processing: the escrow ledger
// only accepts lifecycle calls from the identity's address. Constructed once
// at startup from configuration; an invalid key is a fatal configuration
// error, never a per-request failure.
type Identity struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewIdentity creates an Identity from a hex-encoded secp256k1 private key.
func NewIdentity(privateKeyHex string) (*Identity, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("relay/identity: invalid private key: %w", err)
	}
	return &Identity{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the identity's private key. This
// is the bridge identity the escrow ledger authorizes.
func (id *Identity) Address() common.Address {
	return id.address
}

// Receipt is the signed record of one completion the relay reported.
type Receipt struct {
	RequestID      uint64
	Success        bool
	PositionID     uuid.UUID
	ReturnedAmount uint64
	Message        string
}

// Digest computes the keccak256 digest of the receipt's canonical encoding:
// the type hash followed by each field padded to 32 bytes, with the message
// hashed first.
func (r Receipt) Digest() []byte {
	var requestID [8]byte
	binary.BigEndian.PutUint64(requestID[:], r.RequestID)
	var returned [8]byte
	binary.BigEndian.PutUint64(returned[:], r.ReturnedAmount)

	success := []byte{0}
	if r.Success {
		success = []byte{1}
	}

	return ethcrypto.Keccak256(
		concatBytes(
			receiptTypeHash,
			common.LeftPadBytes(requestID[:], 32),
			common.LeftPadBytes(success, 32),
			common.LeftPadBytes(r.PositionID[:], 32),
			common.LeftPadBytes(returned[:], 32),
			ethcrypto.Keccak256([]byte(r.Message)),
		),
	)
}

// SignReceipt signs a completion receipt and returns the hex-encoded
// 65-byte signature (r || s || v, v in {27,28}).
func (id *Identity) SignReceipt(receipt Receipt) (string, error) {
	sig, err := ethcrypto.Sign(receipt.Digest(), id.privateKey)
	if err != nil {
		return "", fmt.Errorf("relay/identity: signing receipt %d: %w", receipt.RequestID, err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// VerifyReceipt recovers the signer of a receipt signature and checks it
// against the expected address.
func VerifyReceipt(receipt Receipt, signatureHex string, expected common.Address) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return fmt.Errorf("relay/identity: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("relay/identity: signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(receipt.Digest(), sig)
	if err != nil {
		return fmt.Errorf("relay/identity: recover signer: %w", err)
	}
	if signer := ethcrypto.PubkeyToAddress(*pub); signer != expected {
		return fmt.Errorf("relay/identity: receipt signed by %s, expected %s", signer.Hex(), expected.Hex())
	}
	return nil
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
