// Package testcontract provides tiny hand assembled contracts used by tests that need real
// EVM execution without a solidity compiler.
package testcontract

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-optimism/infra/op-contest/artifacts"
)

// StorageABI describes a contract holding one uint256 slot, initialized by the constructor.
const StorageABI = `[
  {"type":"constructor","inputs":[{"name":"initial","type":"uint256"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"get","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"set","inputs":[{"name":"x","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"}
]`

// StorageBytecode is the creation code for StorageABI.
//
// init:    CODECOPY the trailing constructor word, SSTORE it to slot 0, return the runtime.
// runtime: calldata longer than a selector stores word 1 to slot 0, anything else returns slot 0.
const StorageBytecode = "0x" +
	"602060203803600039600051600055601a601b600039601a6000f3" +
	"3660041060125760005460005260206000f35b60043560005500"

// ReverterABI describes a contract whose every call reverts.
const ReverterABI = `[
  {"type":"function","name":"fail","inputs":[],"outputs":[],"stateMutability":"nonpayable"}
]`

// ReverterBytecode is the creation code for ReverterABI.
const ReverterBytecode = "0x" + "6004600c60003960046000f3" + "600080fd"

// Storage returns a fresh storage artifact named name.
func Storage(name string) *artifacts.Artifact {
	return &artifacts.Artifact{
		Name:     name,
		ABI:      json.RawMessage(StorageABI),
		Bytecode: common.FromHex(StorageBytecode),
	}
}

// Reverter returns a fresh reverting artifact named name.
func Reverter(name string) *artifacts.Artifact {
	return &artifacts.Artifact{
		Name:     name,
		ABI:      json.RawMessage(ReverterABI),
		Bytecode: common.FromHex(ReverterBytecode),
	}
}

// Set returns an artifact set with the given storage contracts plus a "Reverter".
func Set(storageNames ...string) artifacts.Set {
	set := artifacts.Set{"Reverter": Reverter("Reverter")}
	for _, name := range storageNames {
		set[name] = Storage(name)
	}
	return set
}
