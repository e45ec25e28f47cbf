package deployer

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressResolver maps a contract name referenced as "$Name" to its address.
type AddressResolver func(name string) (common.Address, bool)

// ConvertArgs converts loosely typed values, as decoded from YAML or JSON, into the Go values
// the ABI encoder expects for args.
func ConvertArgs(args abi.Arguments, values []any, resolve AddressResolver) ([]any, error) {
	if len(values) != len(args) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(args), len(values))
	}
	out := make([]any, len(values))
	for i, arg := range args {
		v, err := convertValue(arg.Type, values[i], resolve)
		if err != nil {
			name := arg.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, arg.Type, err)
		}
		out[i] = v
	}
	return out, nil
}

func convertValue(t abi.Type, v any, resolve AddressResolver) (any, error) {
	switch t.T {
	case abi.IntTy, abi.UintTy:
		return convertInteger(t, v)
	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
	case abi.StringTy:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case abi.AddressTy:
		return convertAddress(v, resolve)
	case abi.BytesTy:
		return toBytes(v)
	case abi.FixedBytesTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%d bytes do not fit into bytes%d", len(b), t.Size)
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	case abi.SliceTy, abi.ArrayTy:
		items, ok := v.([]any)
		if !ok {
			break
		}
		var out reflect.Value
		if t.T == abi.SliceTy {
			out = reflect.MakeSlice(t.GetType(), len(items), len(items))
		} else {
			if len(items) != t.Size {
				return nil, fmt.Errorf("expected %d elements, got %d", t.Size, len(items))
			}
			out = reflect.New(t.GetType()).Elem()
		}
		for i, item := range items {
			conv, err := convertValue(*t.Elem, item, resolve)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(reflect.ValueOf(conv))
		}
		return out.Interface(), nil
	default:
		return nil, fmt.Errorf("unsupported type %s", t)
	}
	return nil, fmt.Errorf("cannot use %T value %v", v, v)
}

func convertInteger(t abi.Type, v any) (any, error) {
	n, err := ToBigInt(v)
	if err != nil {
		return nil, err
	}
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s overflows uint%d", n, t.Size)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, fmt.Errorf("%s overflows int%d", n, t.Size)
		}
	}
	// The encoder wants *big.Int for wide or odd sized integers and the exact Go type,
	// e.g. uint8 or int32, for the others.
	if t.GetType() == reflect.TypeOf(n) {
		return n, nil
	}
	var rv reflect.Value
	if t.T == abi.UintTy {
		rv = reflect.ValueOf(n.Uint64())
	} else {
		rv = reflect.ValueOf(n.Int64())
	}
	return rv.Convert(t.GetType()).Interface(), nil
}

// ToBigInt parses an integer given as a number, a decimal string or a 0x hex string.
func ToBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return new(big.Int).Set(n), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("%v is not an integer", n)
		}
		b, _ := big.NewFloat(n).Int(nil)
		return b, nil
	case string:
		b, ok := new(big.Int).SetString(strings.TrimSpace(n), 0)
		if !ok {
			return nil, fmt.Errorf("%q is not an integer", n)
		}
		return b, nil
	}
	return nil, fmt.Errorf("cannot use %T value %v as integer", v, v)
}

func convertAddress(v any, resolve AddressResolver) (common.Address, error) {
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case string:
		if name, ok := refName(a); ok {
			if resolve != nil {
				if addr, ok := resolve(name); ok {
					return addr, nil
				}
			}
			return common.Address{}, fmt.Errorf("unknown contract reference %s", a)
		}
		if !common.IsHexAddress(a) {
			return common.Address{}, fmt.Errorf("invalid address %q", a)
		}
		return common.HexToAddress(a), nil
	}
	return common.Address{}, fmt.Errorf("cannot use %T value %v as address", v, v)
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		if !strings.HasPrefix(b, "0x") {
			return []byte(b), nil
		}
		return hexutil.Decode(b)
	}
	return nil, fmt.Errorf("cannot use %T value %v as bytes", v, v)
}
