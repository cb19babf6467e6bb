//go:build linux

package ioloop

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrEncoding(t *testing.T) {
	ip, port, err := ParseIPv4Addr("127.0.0.1:8080")
	require.NoError(t, err)
	enc := EncodeAddr(ip, port)
	assert.Equal(t, [6]byte{127, 0, 0, 1, byte(port), byte(port >> 8)}, enc)
}

func TestTCPListenConnectAcceptReadWrite(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	listenerIdx, err := l.TCPListen("127.0.0.1:0")
	require.NoError(t, err)

	addr, port, err := l.LocalAddr(listenerIdx)
	require.NoError(t, err)

	connIdx, err := l.TCPConnect(formatAddr(addr, port))
	require.NoError(t, err)

	var acceptedIdx int
	var gotAccept, gotWritable bool
	deadline := time.After(2 * time.Second)
	for !gotAccept || !gotWritable {
		select {
		case resp := <-l.Responses():
			require.Equal(t, KindEvent, resp.Kind)
			if resp.Token == listenerIdx && resp.Readiness.Readable {
				acceptedIdx, err = l.TCPAccept(listenerIdx)
				require.NoError(t, err)
				gotAccept = true
			}
			if resp.Token == connIdx && resp.Readiness.Writable {
				gotWritable = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for accept/writable events")
		}
	}

	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8}
	n, err := l.WriteConn(connIdx, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	deadline = time.After(2 * time.Second)
	for {
		select {
		case resp := <-l.Responses():
			if resp.Token == acceptedIdx && resp.Readiness.Readable {
				n, err := l.ReadConn(acceptedIdx, buf)
				require.NoError(t, err)
				if n == len(payload) {
					assert.Equal(t, payload, buf)
					return
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for readable event on accepted connection")
		}
	}
}

func formatAddr(ip [4]byte, port uint16) string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], port)
}

func TestFileOpenWriteReadRoundTrip(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	const oRdwr, oCreat = 2, 64
	l.SubmitOpen(1, "greeting.txt", oRdwr|oCreat, 0o644)
	resp := <-l.Responses()
	require.Equal(t, KindFileRef, resp.Kind)
	fd := resp.FD

	l.SubmitWrite(2, fd, []byte("Hello"))
	resp = <-l.Responses()
	require.Equal(t, KindSuccess, resp.Kind)

	l.SubmitRead(3, fd, make([]byte, 5), 0)
	resp = <-l.Responses()
	require.Equal(t, KindRead, resp.Kind)
	assert.Equal(t, []byte("Hello"), resp.Buf)
}

func TestPathCannotEscapeChrootRoot(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	l.SubmitOpen(1, "../../etc/passwd", 0, 0o644)
	resp := <-l.Responses()
	assert.Equal(t, KindError, resp.Kind)
}

func TestLookupLocalhost(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	l.SubmitLookupIP(1, "localhost")
	resp := <-l.Responses()
	require.Equal(t, KindIps, resp.Kind)
	require.Len(t, resp.IPs, 1)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, resp.IPs[0])
}

func TestHasPendingWorkTracksSubmissionsAndAcks(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	assert.False(t, l.HasPendingWork())

	l.SubmitLookupIP(1, "localhost")
	assert.True(t, l.HasPendingWork())

	resp := <-l.Responses()
	require.Equal(t, KindIps, resp.Kind)
	require.EqualValues(t, 1, resp.ID)
	l.AckCompletion()
	assert.False(t, l.HasPendingWork())
}
