package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twoshard/enclave-signer/dispatcher"
	apperrors "github.com/twoshard/enclave-signer/errors"
	"github.com/twoshard/enclave-signer/keystore"
	"github.com/twoshard/enclave-signer/mpc"
	"github.com/twoshard/enclave-signer/session"
)

func startServer(t *testing.T, cfg Config) net.Addr {
	t.Helper()

	sessions := session.NewManager(time.Minute, zerolog.Nop())
	d := dispatcher.New(sessions, keystore.NewMemory(), mpc.NewEngine(), zerolog.Nop())
	server := NewServer(d, cfg, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go server.Serve(ctx, ln) //nolint:errcheck // shut down via cancel

	return ln.Addr()
}

// roundTrip sends raw bytes in the given chunks and returns the single
// response line.
func roundTrip(t *testing.T, addr net.Addr, chunks ...[]byte) *dispatcher.Response {
	t.Helper()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	for _, chunk := range chunks {
		_, err = conn.Write(chunk)
		require.NoError(t, err)
		// Give the server a chance to consume each fragment separately.
		time.Sleep(2 * time.Millisecond)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp dispatcher.Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return &resp
}

func TestSingleChunkRequest(t *testing.T) {
	addr := startServer(t, Config{})

	resp := roundTrip(t, addr, []byte(`{"endpoint":"health","requestId":"h-1"}`))
	require.True(t, resp.Success)
	assert.Equal(t, "h-1", resp.RequestID)
}

func TestChunkedRequestMatchesSingleChunk(t *testing.T) {
	addr := startServer(t, Config{})
	payload := `{"endpoint":"health","requestId":"h-2"}`

	whole := roundTrip(t, addr, []byte(payload))

	// The same request split into 1-byte fragments must produce the
	// identical logical response.
	chunks := make([][]byte, 0, len(payload))
	for i := 0; i < len(payload); i++ {
		chunks = append(chunks, []byte{payload[i]})
	}
	fragmented := roundTrip(t, addr, chunks...)

	assert.Equal(t, whole.Success, fragmented.Success)
	assert.Equal(t, whole.RequestID, fragmented.RequestID)
	wholeData, err := json.Marshal(whole.Data)
	require.NoError(t, err)
	fragmentedData, err := json.Marshal(fragmented.Data)
	require.NoError(t, err)
	assert.JSONEq(t, string(wholeData), string(fragmentedData))
}

func TestMalformedJSON(t *testing.T) {
	addr := startServer(t, Config{})

	resp := roundTrip(t, addr, []byte(`{"endpoint": nope}`))
	require.False(t, resp.Success)
	assert.Equal(t, apperrors.CodeInvalidRequest, resp.Error.Code)
}

func TestNonObjectRequest(t *testing.T) {
	addr := startServer(t, Config{})

	resp := roundTrip(t, addr, []byte(`[1,2,3]`))
	require.False(t, resp.Success)
	assert.Equal(t, apperrors.CodeInvalidRequest, resp.Error.Code)
}

func TestBufferCapExceeded(t *testing.T) {
	addr := startServer(t, Config{MaxBufferBytes: 64})

	// An unterminated string can never parse; it must be rejected once the
	// buffer cap is crossed, with exactly one error response.
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`"` + strings.Repeat("a", 200)))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var resp dispatcher.Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.Success)
	assert.Equal(t, apperrors.CodeInvalidRequest, resp.Error.Code)

	// The server closes after the single response.
	_, err = reader.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnectionClosedAfterResponse(t *testing.T) {
	addr := startServer(t, Config{})

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"endpoint":"health"}`))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	_, err = reader.ReadBytes('\n')
	require.NoError(t, err)

	// One-shot transport: a second request on the same connection is never
	// answered because the server has closed its side.
	_, _ = conn.Write([]byte(`{"endpoint":"health"}`))
	_, err = reader.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestAbandonedPartialRequest(t *testing.T) {
	addr := startServer(t, Config{})

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)

	_, err = conn.Write([]byte(`{"endpoint":"hea`))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	conn.Close()

	var resp dispatcher.Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.Success)
	assert.Equal(t, apperrors.CodeInvalidRequest, resp.Error.Code)
}

// TestFullSigningFlowOverTransport drives account creation and signing the
// way a client does it: one connection per request.
func TestFullSigningFlowOverTransport(t *testing.T) {
	addr := startServer(t, Config{})
	client := mpc.NewCounterparty()

	send := func(endpoint string, body any) map[string]json.RawMessage {
		t.Helper()
		req := map[string]any{"endpoint": endpoint}
		if body != nil {
			req["body"] = body
		}
		raw, err := json.Marshal(req)
		require.NoError(t, err)

		resp := roundTrip(t, addr, raw)
		require.True(t, resp.Success, "endpoint %s failed: %+v", endpoint, resp.Error)

		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &fields))
		return fields
	}
	str := func(fields map[string]json.RawMessage, key string) string {
		t.Helper()
		var s string
		require.NoError(t, json.Unmarshal(fields[key], &s))
		return s
	}
	bin := func(fields map[string]json.RawMessage, key string) []byte {
		t.Helper()
		var b []byte
		require.NoError(t, json.Unmarshal(fields[key], &b))
		return b
	}

	start := send("createAccount/start", nil)
	sessionID := str(start, "sessionId")

	send("createAccount/step", map[string]any{"sessionId": sessionID, "message": client.DKGRound1()})
	step := send("createAccount/step", map[string]any{"sessionId": sessionID, "message": client.DKGRound2()})
	ack, err := client.DKGRound3(bin(step, "message"))
	require.NoError(t, err)
	done := send("createAccount/step", map[string]any{"sessionId": sessionID, "message": ack})

	accountID := str(done, "accountId")
	require.NotEmpty(t, accountID)
	assert.Regexp(t, `^0x[0-9a-fA-F]{40}$`, str(done, "address"))

	digest := make([]byte, 32)
	for i := range digest {
		digest[i] = byte(i)
	}
	signStart := send("sign/start", map[string]any{"accountId": accountID, "digest": digest})
	signDone := send("sign/step", map[string]any{
		"sessionId": str(signStart, "sessionId"),
		"message":   client.SignRound1(),
	})
	assert.Len(t, bin(signDone, "serverPartial"), 64)
	assert.Equal(t, fmt.Sprintf("%q", "DONE"), string(signDone["status"]))
}
