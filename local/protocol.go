package local

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// JSON-RPC 2.0 messages exchanged with the sidecar, one per line.

const jsonrpcVersion = "2.0"

// Method names understood by a sidecar.
const (
	MethodInit     = "init"
	MethodComplete = "complete"
	MethodShutdown = "shutdown"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      *int64          `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Sidecar error codes (range -32000 to -32099).
const (
	CodeBackendError    = -32000
	CodeModelNotFound   = -32001
	CodeConnectionError = -32003
	CodeRateLimited     = -32004
	CodeUnauthorized    = -32005
	CodeQuotaExhausted  = -32006
)

// ErrorData is the optional data member of a sidecar error. A sidecar
// relaying an HTTP backend reports the backend's status and error type.
type ErrorData struct {
	Status int    `json:"status,omitempty"`
	Name   string `json:"name,omitempty"`
}

// InitParams configure the sidecar once after it starts.
type InitParams struct {
	Backend string         `json:"backend,omitempty"`
	Host    string         `json:"host,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// InitResult reports whether the sidecar can serve requests.
type InitResult struct {
	Ready   bool   `json:"ready"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

// CompleteParams are the parameters of a completion call.
type CompleteParams struct {
	Model        string         `json:"model"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Messages     []MessageParam `json:"messages"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Temperature  *float64       `json:"temperature,omitempty"`
	Credential   string         `json:"credential,omitempty"`
}

// MessageParam is one conversation turn.
type MessageParam struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompleteResult is the sidecar's answer to a completion call.
type CompleteResult struct {
	Content      string      `json:"content"`
	Model        string      `json:"model,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        UsageResult `json:"usage"`
}

// UsageResult tracks token usage.
type UsageResult struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ShutdownResult acknowledges a shutdown call.
type ShutdownResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// errProtocol marks a broken stream: the sidecar closed its output or
// wrote something that is not a JSON-RPC message.
var errProtocol = errors.New("sidecar protocol failure")

type reply struct {
	resp rpcResponse
	err  error
}

// Protocol speaks line-delimited JSON-RPC over a reader/writer pair. A
// single reader goroutine routes replies to their callers by ID, so calls
// may run concurrently. Safe for concurrent use.
type Protocol struct {
	writer  io.Writer
	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan reply
	broken  error
	done    chan struct{}
}

// NewProtocol creates a protocol handler over r and w and starts reading r.
// Reading stops when r returns an error; every call then fails.
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	p := &Protocol{
		writer:  w,
		pending: make(map[int64]chan reply),
		done:    make(chan struct{}),
	}
	go p.read(r)
	return p
}

// Done is closed once the reader stops.
func (p *Protocol) Done() <-chan struct{} {
	return p.done
}

// Call sends method with params and decodes the reply into result.
// It returns when the reply arrives or ctx is done, whichever is first.
// A reply carrying an error object is returned as *RPCError.
func (p *Protocol) Call(ctx context.Context, method string, params, result any) error {
	id := p.nextID.Add(1)
	ch := make(chan reply, 1)

	p.mu.Lock()
	if p.broken != nil {
		err := p.broken
		p.mu.Unlock()
		return err
	}
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.send(rpcRequest{JSONRPC: jsonrpcVersion, Method: method, Params: params, ID: id}); err != nil {
		p.forget(id)
		return fmt.Errorf("%w: send %s: %w", errProtocol, method, err)
	}

	select {
	case <-ctx.Done():
		p.forget(id)
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if r.resp.Error != nil {
			return r.resp.Error
		}
		if result != nil && len(r.resp.Result) > 0 {
			if err := json.Unmarshal(r.resp.Result, result); err != nil {
				return fmt.Errorf("%w: decode %s result: %w", errProtocol, method, err)
			}
		}
		return nil
	}
}

func (p *Protocol) forget(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Protocol) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err = p.writer.Write(data)
	return err
}

// read routes replies until r fails. Notifications, replies to abandoned
// calls and unparseable lines are dropped.
func (p *Protocol) read(r io.Reader) {
	defer close(p.done)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			p.route(line)
		}
		if err != nil {
			p.fail(fmt.Errorf("%w: read: %w", errProtocol, err))
			return
		}
	}
}

func (p *Protocol) route(line []byte) {
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
		return
	}
	p.mu.Lock()
	ch, ok := p.pending[*resp.ID]
	delete(p.pending, *resp.ID)
	p.mu.Unlock()
	if ok {
		ch <- reply{resp: resp}
	}
}

func (p *Protocol) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broken = err
	for id, ch := range p.pending {
		ch <- reply{err: err}
		delete(p.pending, id)
	}
}
