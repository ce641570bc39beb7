package tnt

import (
	"context"
	"encoding/base64"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/vmihailenco/msgpack.v2"
)

// decodeRequestHeader reads just enough of a request frame to route a
// scripted response: its command code and sync tag. The body is
// skipped rather than decoded, since most scenarios here only care
// about which operation was sent.
func decodeRequestHeader(payload []byte) (CommandCode, uint64, error) {
	d := bytesDecoder(payload)
	l, err := d.DecodeMapLen()
	if err != nil {
		return 0, 0, err
	}
	var code CommandCode
	var sync uint64
	for ; l > 0; l-- {
		key, err := d.DecodeUint64()
		if err != nil {
			return 0, 0, err
		}
		v, err := d.DecodeUint64()
		if err != nil {
			return 0, 0, err
		}
		switch HeaderKey(key) {
		case KeyCode:
			code = CommandCode(v)
		case KeySync:
			sync = v
		}
	}
	if err := d.Skip(); err != nil {
		return 0, 0, err
	}
	return code, sync, nil
}

func writeScriptedResponse(conn net.Conn, code ResponseCode, sync uint64, body func(enc *msgpack.Encoder) error) error {
	frame, err := encodeFrame(CommandCode(code), sync, body)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

func writeTestGreeting(conn net.Conn) error {
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(i + 1)
	}
	encoded := base64.StdEncoding.EncodeToString(salt)

	version := "Tarantool 2.10.0 (Binary)"
	line1 := version + strings.Repeat(" ", 64-len(version)-1) + "\n"
	line2 := encoded + strings.Repeat(" ", 63-len(encoded)) + "\n"

	_, err := conn.Write([]byte(line1 + line2))
	return err
}

// serveScript accepts one connection, writes the greeting, then
// answers every request frame via respond until the socket closes.
func serveScript(t *testing.T, respond func(code CommandCode, sync uint64) (ResponseCode, func(*msgpack.Encoder) error)) (host string, port int) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if err := writeTestGreeting(conn); err != nil {
			return
		}
		for {
			payload, err := readFrame(conn)
			if err != nil {
				return
			}
			code, sync, err := decodeRequestHeader(payload)
			if err != nil {
				return
			}
			rc, body := respond(code, sync)
			if err := writeScriptedResponse(conn, rc, sync, body); err != nil {
				return
			}
		}
	}()

	h, p, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(p)
	require.NoError(t, err)
	return h, portNum
}

func okForEverything(CommandCode, uint64) (ResponseCode, func(*msgpack.Encoder) error) {
	return OkResponse, nil
}

func testOpts() Opts {
	opts := DefaultOpts()
	opts.Logger = discardLogger{}
	return opts
}

func TestConnectZeroConnectTimeoutFailsFast(t *testing.T) {
	opts := testOpts()
	opts.ConnectTimeout = 0
	_, err := Connect("127.0.0.1", 1, opts)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, Timeout, kind)
}

func TestConnectZeroReadTimeoutFailsFast(t *testing.T) {
	opts := testOpts()
	opts.ReadTimeout = 0
	_, err := Connect("127.0.0.1", 1, opts)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, Timeout, kind)
}

func TestConnectAndPingRoundTrip(t *testing.T) {
	host, port := serveScript(t, okForEverything)

	conn, err := Connect(host, port, testOpts())
	require.NoError(t, err)
	defer conn.Close()

	resp, err := conn.Ping()
	require.NoError(t, err)
	require.Equal(t, OkResponse, resp.Header.Code)
}

func TestConnectAnonymousNeverSendsAuth(t *testing.T) {
	var sawAuth atomic.Bool
	host, port := serveScript(t, func(code CommandCode, sync uint64) (ResponseCode, func(*msgpack.Encoder) error) {
		if code == AuthCommand {
			sawAuth.Store(true)
		}
		return OkResponse, nil
	})

	opts := testOpts()
	conn, err := Connect(host, port, opts)
	require.NoError(t, err)
	defer conn.Close()

	require.False(t, sawAuth.Load())
}

func TestConnectWithCredentialsSendsAuthFirst(t *testing.T) {
	var firstCode atomic.Int32
	first := true
	host, port := serveScript(t, func(code CommandCode, sync uint64) (ResponseCode, func(*msgpack.Encoder) error) {
		if first {
			firstCode.Store(int32(code))
			first = false
		}
		return OkResponse, nil
	})

	opts := testOpts()
	opts.User = "jake"
	opts.Password = "qwerty"
	conn, err := Connect(host, port, opts)
	require.NoError(t, err)
	defer conn.Close()

	require.EqualValues(t, AuthCommand, firstCode.Load())
}

func TestDispatchServerErrorKeepsConnectionUsable(t *testing.T) {
	host, port := serveScript(t, func(code CommandCode, sync uint64) (ResponseCode, func(*msgpack.Encoder) error) {
		if code == InsertCommand {
			return ErrorResponse, func(enc *msgpack.Encoder) error {
				enc.EncodeMapLen(1)
				enc.EncodeUint64(uint64(KeyError))
				return enc.EncodeString("duplicate key exists")
			}
		}
		return OkResponse, nil
	})

	conn, err := Connect(host, port, testOpts())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Insert(uint32(512), []interface{}{1, "vlad"})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ServerError, kind)
	require.Contains(t, err.Error(), "duplicate key exists")

	_, err = conn.Ping()
	require.NoError(t, err)
}

// blackHoleServer accepts one connection, sends the greeting, and
// then reads frames without ever answering them, so dispatch calls
// against it can only complete via cancellation or Close.
func blackHoleServer(t *testing.T) (host string, port int) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if err := writeTestGreeting(conn); err != nil {
			return
		}
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	h, p, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(p)
	require.NoError(t, err)
	return h, portNum
}

func TestCloseFailsPendingWithClosed(t *testing.T) {
	host, port := blackHoleServer(t)

	opts := testOpts()
	opts.ReadTimeout = 2 * time.Second
	conn, err := Connect(host, port, opts)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := conn.SelectContext(context.Background(), uint32(512), nil, []interface{}{1}, SelectOpts{})
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-result:
		require.Error(t, err)
		kind, ok := KindOf(err)
		require.True(t, ok)
		require.Equal(t, Closed, kind)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not unblock after Close")
	}
}

func TestSelectContextCancellationUnblocksDispatch(t *testing.T) {
	host, port := blackHoleServer(t)

	opts := testOpts()
	opts.ReadTimeout = 2 * time.Second
	conn, err := Connect(host, port, opts)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = conn.SelectContext(ctx, uint32(512), nil, []interface{}{1}, SelectOpts{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, Timeout, kind)
}

func TestSelectUnknownSpaceNameFailsNotResolved(t *testing.T) {
	host, port := serveScript(t, okForEverything)

	conn, err := Connect(host, port, testOpts())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Select("examples", nil, []interface{}{1}, SelectOpts{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, NotResolved, kind)
}
