package account

import (
	"math/big"

	xerrors "AAFuel/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveParams carries the inputs of a deterministic account derivation.
type DeriveParams struct {
	// Factory is the deployer the counterfactual address is computed
	// against.
	Factory common.Address
	// Salt discriminates multiple accounts of the same owner.
	Salt *big.Int
	// InitCode is the factory's account creation code prefix; owner and
	// salt are appended before hashing.
	InitCode []byte
}

// Deriver turns an owner address into the paying account's address. The
// variant in use is always chosen explicitly by configuration, never by
// inspecting the environment at runtime.
type Deriver interface {
	Derive(owner common.Address, params DeriveParams) (common.Address, error)
}

// CounterfactualDeriver computes the production CREATE2-style address: the
// account exists at this address before any code is deployed there.
type CounterfactualDeriver struct{}

// Derive implements Deriver.
func (CounterfactualDeriver) Derive(owner common.Address, params DeriveParams) (common.Address, error) {
	if (params.Factory == common.Address{}) {
		return common.Address{}, xerrors.New(xerrors.CodeValidation, "counterfactual derivation requires a factory address")
	}
	salt := common.Hash{}
	if params.Salt != nil {
		salt = common.BigToHash(params.Salt)
	}

	initCode := make([]byte, 0, len(params.InitCode)+2*common.HashLength)
	initCode = append(initCode, params.InitCode...)
	initCode = append(initCode, common.LeftPadBytes(owner.Bytes(), common.HashLength)...)
	initCode = append(initCode, salt.Bytes()...)

	address := crypto.CreateAddress2(params.Factory, salt, crypto.Keccak256(initCode))
	return address, nil
}

// DevDeriver maps the account directly onto the owner address. It exists for
// test chains where the owner key transacts for itself.
type DevDeriver struct{}

// Derive implements Deriver.
func (DevDeriver) Derive(owner common.Address, _ DeriveParams) (common.Address, error) {
	if (owner == common.Address{}) {
		return common.Address{}, xerrors.New(xerrors.CodeValidation, "owner address is required")
	}
	return owner, nil
}

// NewDeriver resolves a configured derivation name to its implementation.
func NewDeriver(kind string) (Deriver, error) {
	switch kind {
	case "", "counterfactual":
		return CounterfactualDeriver{}, nil
	case "dev":
		return DevDeriver{}, nil
	default:
		return nil, xerrors.New(xerrors.CodeValidation, "unknown derivation strategy: "+kind)
	}
}
