package verifier

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"trustclient/errcode"
	"trustclient/plugin"
	"trustclient/rpc"
)

var (
	registryContract = common.HexToAddress("0xac1b824795e1eb1f6e609fe0da9b9af8beaab60f")
	whitelistAddr    = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func verification(t *testing.T, method string, params []any, result string) *plugin.Verification {
	t.Helper()
	req, err := rpc.NewRequest(method, params...)
	require.NoError(t, err)
	return &plugin.Verification{
		ChainID:  1,
		Request:  req,
		Response: &rpc.Response{JSONRPC: rpc.Version, Result: json.RawMessage(result)},
	}
}

func TestNodeListChecks(t *testing.T) {
	v := NewRegistry(map[uint64]Expectation{1: {Contract: registryContract}})
	good := `{"nodes":[{"url":"https://a.test","address":"0x00000000000000000000000000000000000000a1"},{"url":"https://b.test","address":"0x00000000000000000000000000000000000000b2"}],"contract":"` + registryContract.Hex() + `","lastBlockNumber":10}`

	cases := []struct {
		name    string
		params  []any
		result  string
		wantErr bool
	}{
		{"well formed", []any{0, "0x00", []string{}}, good, false},
		{"within limit", []any{2, "0x00", []string{}}, good, false},
		{"over limit", []any{1, "0x00", []string{}}, good, true},
		{"missing last block", []any{0}, `{"nodes":[]}`, true},
		{"duplicate", []any{0}, `{"nodes":[{"url":"https://a.test","address":"0x00000000000000000000000000000000000000a1"},{"url":"https://b.test","address":"0x00000000000000000000000000000000000000a1"}],"lastBlockNumber":1}`, true},
		{"bad url", []any{0}, `{"nodes":[{"url":"ftp://a.test","address":"0x00000000000000000000000000000000000000a1"}],"lastBlockNumber":1}`, true},
		{"foreign contract", []any{0}, `{"nodes":[],"contract":"0x00000000000000000000000000000000000000ff","lastBlockNumber":1}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Verify(verification(t, methodNodeList, tc.params, tc.result))
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, errcode.InvalidData, errcode.CodeOf(err))
		})
	}
}

func TestMalformedNodeListParams(t *testing.T) {
	v := NewRegistry(nil)
	good := `{"nodes":[],"lastBlockNumber":1}`

	vf := verification(t, methodNodeList, nil, good)
	vf.Request.Params = json.RawMessage(`{"limit":1}`)
	require.Equal(t, errcode.Invalid, errcode.CodeOf(v.Verify(vf)))

	vf = verification(t, methodNodeList, []any{"many"}, good)
	require.Equal(t, errcode.Invalid, errcode.CodeOf(v.Verify(vf)))

	vf = verification(t, methodNodeList, nil, good)
	vf.Request.Params = nil
	require.NoError(t, v.Verify(vf))
}

func TestWhitelistContractMustMatch(t *testing.T) {
	v := NewRegistry(nil)
	param := "0x" + common.Bytes2Hex(whitelistAddr.Bytes())

	ok := `{"nodes":[],"contract":"` + whitelistAddr.Hex() + `","lastBlockNumber":5}`
	require.NoError(t, v.Verify(verification(t, methodWhitelist, []any{param}, ok)))

	other := `{"nodes":[],"contract":"0x00000000000000000000000000000000000000ff","lastBlockNumber":5}`
	require.Error(t, v.Verify(verification(t, methodWhitelist, []any{param}, other)))

	require.Error(t, v.Verify(verification(t, methodWhitelist, []any{param}, `{"nodes":[]}`)))
}

func TestOtherMethodsAreNotHandled(t *testing.T) {
	v := NewRegistry(nil)
	err := v.Verify(verification(t, "eth_blockNumber", nil, `"0x1"`))
	require.True(t, errors.Is(err, plugin.ErrNotHandled))
}
