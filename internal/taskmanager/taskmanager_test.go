package taskmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ptpipe/ptpipe/internal/orderedqueue"
	"github.com/ptpipe/ptpipe/internal/ptpacket"
)

func appendPSB(buf []byte) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, 0x02, 0x82)
	}
	return buf
}

// appendPTW mirrors ptpacket's decoder exactly: extended-opcode byte 0x02,
// PTW marker 0x12, then an 8-byte little-endian payload.
func appendPTW(buf []byte, payload uint64) []byte {
	buf = append(buf, 0x02, 0x12)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(payload>>(8*uint(i))))
	}
	return buf
}

func TestCallbackDispatchesBetweenTwoPSBs(t *testing.T) {
	var region []byte
	region = appendPSB(region)
	region = appendPTW(region, 0x11)
	region = appendPSB(region)
	region = append(region, 0xFF) // trailing noise past the consumed range

	q := orderedqueue.New[[]uint64]()
	m := New[uint64](context.Background(), 2, 4096, func() ptpacket.Parser[uint64] { return ptpacket.NewPtwParser() }, q)
	defer m.Close()

	want := len(region) - 1 - 16 // everything up to (not including) the second PSB
	consumed := m.Callback(false)(region)
	require.Equal(t, want, consumed)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if batch, ok := q.Recv(); ok {
			require.Equal(t, []uint64{0x11}, batch)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for decoded batch")
}

func TestCallbackOneSyncNotTerminatingRequestsMore(t *testing.T) {
	var region []byte
	region = appendPSB(region)
	region = append(region, 0xAA, 0xBB)

	q := orderedqueue.New[[]uint64]()
	m := New[uint64](context.Background(), 1, 4096, func() ptpacket.Parser[uint64] { return ptpacket.NewPtwParser() }, q)
	defer m.Close()

	require.Zero(t, m.Callback(false)(region), "request more data")
	require.Zero(t, m.TaskCount(), "nothing spawned yet")
}

func TestCallbackOneSyncTerminatingConsumesAll(t *testing.T) {
	var region []byte
	region = appendPSB(region)
	region = appendPTW(region, 0x22)

	q := orderedqueue.New[[]uint64]()
	m := New[uint64](context.Background(), 1, 4096, func() ptpacket.Parser[uint64] { return ptpacket.NewPtwParser() }, q)
	defer m.Close()

	consumed := m.Callback(true)(region)
	require.Equal(t, len(region), consumed)
}

func TestCallbackNoSyncIsFatal(t *testing.T) {
	q := orderedqueue.New[[]uint64]()
	m := New[uint64](context.Background(), 1, 4096, func() ptpacket.Parser[uint64] { return ptpacket.NewPtwParser() }, q)
	defer m.Close()

	region := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.Zero(t, m.Callback(false)(region))
	require.Error(t, m.FatalErr(), "expected a fatal error when no PSB is found")
}
