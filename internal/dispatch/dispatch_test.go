package dispatch

import (
	"testing"

	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

var stateChange = protocol.Header{Type: protocol.AREQ, Subsystem: protocol.SubsystemZDO, ID: 0xC0}

func stateMsg(state uint8) protocol.Message {
	return protocol.Message{
		Header:  stateChange,
		Command: "ZDO.StateChangeInd",
		Fields:  protocol.Fields{protocol.F("State", protocol.U8(state))},
		Known:   true,
	}
}

func TestDispatchBroadcastsInRegistrationOrder(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	var order []string
	r.Subscribe(protocol.MatchHeader(stateChange), Every, func(protocol.Message) { order = append(order, "a") })
	r.Subscribe(nil, Every, func(protocol.Message) { order = append(order, "b") })
	r.Subscribe(protocol.MatchSubsystem(protocol.AREQ, protocol.SubsystemAF), Every, func(protocol.Message) {
		order = append(order, "never")
	})
	r.Subscribe(protocol.MatchPartial(stateChange, protocol.Fields{protocol.F("State", protocol.U8(9))}), Every,
		func(protocol.Message) { order = append(order, "c") })

	require.Equal(t, 3, r.Dispatch(stateMsg(9)))
	require.Equal(t, []string{"a", "b", "c"}, order)

	order = nil
	require.Equal(t, 2, r.Dispatch(stateMsg(8)))
	require.Equal(t, []string{"a", "b"}, order)
}

func TestOnceListenerRemovedAfterFiring(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	fired := 0
	r.Subscribe(protocol.MatchHeader(stateChange), Once, func(protocol.Message) { fired++ })
	keep := r.Subscribe(nil, Every, func(protocol.Message) {})
	require.Equal(t, 2, r.Len())

	r.Dispatch(protocol.Message{Header: protocol.Header{Type: protocol.AREQ, Subsystem: protocol.SubsystemSYS}})
	require.Equal(t, 0, fired)
	require.Equal(t, 2, r.Len())

	r.Dispatch(stateMsg(9))
	r.Dispatch(stateMsg(9))
	require.Equal(t, 1, fired)
	require.Equal(t, 1, r.Len())

	require.True(t, r.Unsubscribe(keep))
	require.False(t, r.Unsubscribe(keep))
	require.Equal(t, 0, r.Dispatch(stateMsg(9)))
}
