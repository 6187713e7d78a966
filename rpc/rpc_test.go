package rpc

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuantityDecodesAllForms(t *testing.T) {
	var meta ResponseMeta
	raw := `{"lastNodeList":"0x1f","lastWhiteList":12,"currentBlock":"300","lastValidatorChange":null}`
	require.NoError(t, json.Unmarshal([]byte(raw), &meta))
	require.Equal(t, Quantity(31), meta.LastNodeList)
	require.Equal(t, Quantity(12), meta.LastWhiteList)
	require.Equal(t, Quantity(300), meta.CurrentBlock)
	require.Zero(t, meta.LastValidatorChange)
}

func TestQuantitySaturatesLargeDeposits(t *testing.T) {
	q, err := ParseQuantity("0x1000000000000000000000000")
	require.NoError(t, err)
	require.Equal(t, Quantity(math.MaxUint64), q)

	q, err = ParseQuantity("0x0000ff")
	require.NoError(t, err)
	require.Equal(t, Quantity(255), q)

	_, err = ParseQuantity("0xzz")
	require.Error(t, err)
}

func TestParseRequestsSingleAndBatch(t *testing.T) {
	reqs, batch, err := ParseRequests([]byte(`{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber","params":[]}`))
	require.NoError(t, err)
	require.False(t, batch)
	require.Len(t, reqs, 1)
	require.Equal(t, "eth_blockNumber", reqs[0].Method)

	reqs, batch, err = ParseRequests([]byte(` [{"method":"a"},{"method":"b","in3":{"rpc":"http://localhost:8545"}}]`))
	require.NoError(t, err)
	require.True(t, batch)
	require.Len(t, reqs, 2)
	require.Equal(t, "http://localhost:8545", reqs[1].In3.RPC)

	_, _, err = ParseRequests([]byte(`[{"params":[]}]`))
	require.Error(t, err)
	_, _, err = ParseRequests(nil)
	require.ErrorIs(t, err, ErrEmptyPayload)
}

func TestParseResponsesChecksBatchLength(t *testing.T) {
	_, err := ParseResponses([]byte(`[{"id":1,"result":"0x1"}]`), 2)
	require.ErrorIs(t, err, ErrBatchLength)

	out, err := ParseResponses([]byte(`{"id":1,"result":null,"in3":{"lastNodeList":5}}`), 1)
	require.NoError(t, err)
	require.True(t, out[0].HasResult())
	require.Equal(t, Quantity(5), out[0].In3.LastNodeList)

	_, err = ParseResponses([]byte(`{"id":1}`), 1)
	require.Error(t, err)
	_, err = ParseResponses([]byte(`not json`), 1)
	require.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"error":"Error: connection refused"}`), &resp))
	require.NotNil(t, resp.Error)
	require.False(t, resp.Error.IsUserError())

	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"error":{"code":-32602,"message":"invalid argument 0"}}`), &resp))
	require.True(t, resp.Error.IsUserError())
	require.Equal(t, "rpc error -32602: invalid argument 0", resp.Error.Error())

	var target *Error
	require.True(t, errors.As(error(resp.Error), &target))
	require.False(t, (&Error{}).IsUserError())
}

func TestEncodeResponsesKeepsShape(t *testing.T) {
	single := []*Response{{JSONRPC: Version, ID: json.RawMessage("1"), Result: json.RawMessage(`"0x1"`)}}
	data, err := EncodeResponses(single, false)
	require.NoError(t, err)
	require.Equal(t, byte('{'), data[0])

	data, err = EncodeResponses(single, true)
	require.NoError(t, err)
	require.Equal(t, byte('['), data[0])
}

func TestNewRequestDefaultsToEmptyParams(t *testing.T) {
	req, err := NewRequest("eth_blockNumber")
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(req.Params))
}
