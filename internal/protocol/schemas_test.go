package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"levelverse.io/internal/protocol"
)

func newValidator(t *testing.T) *protocol.Validator {
	t.Helper()
	v, err := protocol.NewValidator()
	require.NoError(t, err)
	return v
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var perr *protocol.ProtoError
	require.True(t, errors.As(err, &perr), "expected ProtoError, got %v", err)
	return perr.Code
}

func TestValidateMessages(t *testing.T) {
	v := newValidator(t)

	require.NoError(t, v.ValidateMessage(protocol.TypeHello, []byte(`{"type":"HELLO","protocol_version":"1.0","token":"abc","resume":true}`)))
	require.NoError(t, v.ValidateMessage(protocol.TypeHello, []byte(`{"type":"HELLO","protocol_version":"1.0"}`)))
	require.NoError(t, v.ValidateMessage(protocol.TypeSub, []byte(`{"type":"SUB","id":"1","name":"levels"}`)))
	require.NoError(t, v.ValidateMessage(protocol.TypeUnsub, []byte(`{"type":"UNSUB","id":"1"}`)))
	require.NoError(t, v.ValidateMessage(protocol.TypeMethod, []byte(`{"type":"METHOD","id":"m1","method":"createLevel","params":[]}`)))

	err := v.ValidateMessage(protocol.TypeHello, []byte(`{"type":"HELLO"}`))
	require.Equal(t, protocol.ErrBadRequest, codeOf(t, err))

	err = v.ValidateMessage(protocol.TypeSub, []byte(`{"type":"SUB","id":"1","name":"levels","extra":1}`))
	require.Equal(t, protocol.ErrBadRequest, codeOf(t, err))

	err = v.ValidateMessage(protocol.TypeSub, []byte(`{"type":`))
	require.Equal(t, protocol.ErrProtoBadRequest, codeOf(t, err))

	err = v.ValidateMessage("PING", []byte(`{"type":"PING"}`))
	require.Equal(t, protocol.ErrProtoBadRequest, codeOf(t, err))
}

func TestValidateParams(t *testing.T) {
	v := newValidator(t)

	ok := []struct {
		method string
		params string
	}{
		{protocol.MethodCreateLevel, ``},
		{protocol.MethodCreateLevel, `[]`},
		{protocol.MethodCreateLevel, `[null]`},
		{protocol.MethodCreateLevel, `["lvl_tpl"]`},
		{protocol.MethodUpdateLevel, `["Garden",{"x":10,"y":-3.5},false]`},
		{protocol.MethodToggleLevelEditionPermission, `["usr_bob"]`},
		{protocol.MethodIncreaseLevelVisits, `["lvl_1"]`},
	}
	for _, tc := range ok {
		require.NoError(t, v.ValidateParams(tc.method, json.RawMessage(tc.params)), "%s %s", tc.method, tc.params)
	}

	bad := []struct {
		method string
		params string
	}{
		{protocol.MethodCreateLevel, `[42]`},
		{protocol.MethodCreateLevel, `["a","b"]`},
		{protocol.MethodCreateLevel, `["has space"]`},
		{protocol.MethodUpdateLevel, `["Garden",{"x":10},false]`},
		{protocol.MethodUpdateLevel, `["Garden",{"x":10,"y":1}]`},
		{protocol.MethodUpdateLevel, `["Garden",{"x":"1","y":1},false]`},
		{protocol.MethodToggleLevelEditionPermission, `[]`},
		{protocol.MethodIncreaseLevelVisits, `[{"id":"lvl_1"}]`},
	}
	for _, tc := range bad {
		err := v.ValidateParams(tc.method, json.RawMessage(tc.params))
		require.Error(t, err, "%s %s", tc.method, tc.params)
		require.Equal(t, protocol.ErrBadRequest, codeOf(t, err))
	}

	err := v.ValidateParams("deleteEverything", json.RawMessage(`[]`))
	require.Equal(t, protocol.ErrUnknownMethod, codeOf(t, err))
}
