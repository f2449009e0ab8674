package chain

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

// FlipperABI is the ABI of the example contract holding a single boolean.
const FlipperABI = `[
	{"inputs":[],"name":"flip","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"get","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

var flipperABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(FlipperABI))
	if err != nil {
		panic(err)
	}
	flipperABI = parsed
}

// Flipper is the example contract driven by the signing workflow.
type Flipper struct {
	address  common.Address
	contract *bind.BoundContract
}

func NewFlipper(address common.Address, backend bind.ContractBackend) *Flipper {
	return &Flipper{
		address:  address,
		contract: bind.NewBoundContract(address, flipperABI, backend, backend, backend),
	}
}

func (f *Flipper) Address() common.Address {
	return f.address
}

// Flip sends the state mutating call signed by signer.
func (f *Flipper) Flip(ctx context.Context, signer *Signer) (*types.Transaction, error) {
	tx, err := f.contract.Transact(signer.TransactOpts(ctx), "flip")
	if err != nil {
		log.Errorf("chain - flip on %v:%v", f.address.Hex(), err)
		return nil, errors.Mark(errors.Wrap(err, "flip"), ErrContractCallFailed)
	}
	log.Infof("chain - flip sent %v", tx.Hash().Hex())
	return tx, nil
}

// Get reads the current value.
func (f *Flipper) Get(ctx context.Context, signer *Signer) (bool, error) {
	var out []interface{}
	if err := f.contract.Call(signer.CallOpts(ctx), &out, "get"); err != nil {
		log.Errorf("chain - get on %v:%v", f.address.Hex(), err)
		return false, errors.Mark(errors.Wrap(err, "get"), ErrContractCallFailed)
	}
	if len(out) != 1 {
		return false, errors.Wrapf(ErrContractCallFailed, "get returned %d values", len(out))
	}
	value, ok := out[0].(bool)
	if !ok {
		return false, errors.Wrapf(ErrContractCallFailed, "get returned %T", out[0])
	}
	return value, nil
}
