package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeBridge
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeEscrow AccountSubType = iota

	// Bridge sub-types
	SubTypeBridgeCustody

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalPositions
)

// AssetID maps asset symbols to numeric IDs for compact keys
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC": 1,
		"USDT": 2,
		"DAI":  3,
		"WETH": 4,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "USDT",
		3: "DAI",
		4: "WETH",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// SupportedAssets returns the known asset symbols (unordered)
func SupportedAssets() []string {
	assets := make([]string, 0, len(assetToID))
	for name := range assetToID {
		assets = append(assets, name)
	}
	return assets
}

// AccountKey is the in-memory key for balance tracking (24 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [20]byte // requester address for users, label bytes for bridge accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for requester-owned accounts
func NewUserAccountKey(requester common.Address, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: requester,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewBridgeAccountKey creates a key for bridge-operated accounts
func NewBridgeAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [20]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeBridge,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		addr := common.Address(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", addr.Hex(), k.subTypeName(), assetName)
	case AccountScopeBridge:
		return fmt.Sprintf("bridge:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeEscrow:
		return "escrow"
	case SubTypeBridgeCustody:
		return "custody"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalPositions:
		return "positions"
	default:
		return "unknown"
	}
}
