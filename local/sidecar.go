package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// waitDelay bounds how long output is drained after the process exits.
const waitDelay = time.Second

// ErrNotReady indicates the sidecar answered init without becoming ready.
var ErrNotReady = errors.New("sidecar not ready")

// sidecar is one running sidecar process.
type sidecar struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	protocol *Protocol
	logger   *slog.Logger

	exited  chan struct{}
	exitErr error

	stopOnce sync.Once
}

// startSidecar launches the configured command, wires the protocol to its
// pipes and waits for init to report ready. The process is not tied to
// ctx; ctx only bounds the startup handshake.
func startSidecar(ctx context.Context, s settings, logger *slog.Logger) (*sidecar, error) {
	cmd := exec.Command(s.command, s.args...)
	cmd.Dir = s.workdir
	if len(s.env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range s.env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// Output goes through in-process pipes closed after Wait, so replies
	// written just before exit are still delivered.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.command, err)
	}

	sc := &sidecar{
		cmd:      cmd,
		stdin:    stdin,
		protocol: NewProtocol(stdoutR, stdin),
		logger:   logger.With(slog.String("sidecar", s.command)),
		exited:   make(chan struct{}),
	}
	go sc.logStderr(stderrR)
	go sc.wait(stdoutW, stderrW)

	initCtx, cancel := context.WithTimeout(ctx, s.startupTimeout)
	defer cancel()
	var res InitResult
	err = sc.protocol.Call(initCtx, MethodInit, InitParams{Backend: s.backend, Host: s.host, Options: s.initOptions}, &res)
	if err == nil && !res.Ready {
		err = ErrNotReady
		if res.Message != "" {
			err = fmt.Errorf("%w: %s", ErrNotReady, res.Message)
		}
	}
	if err != nil {
		sc.kill()
		return nil, fmt.Errorf("initialize sidecar: %w", err)
	}

	sc.logger.Debug("sidecar started", slog.Int("pid", cmd.Process.Pid), slog.String("version", res.Version))
	return sc, nil
}

// running reports whether the process is alive and its output still open.
func (sc *sidecar) running() bool {
	select {
	case <-sc.exited:
		return false
	case <-sc.protocol.Done():
		return false
	default:
		return true
	}
}

// stop asks the sidecar to shut down, closes its stdin and kills it if it
// has not exited within grace.
func (sc *sidecar) stop(grace time.Duration) error {
	var shutdownErr error
	sc.stopOnce.Do(func() {
		if sc.running() {
			ctx, cancel := context.WithTimeout(context.Background(), grace)
			var res ShutdownResult
			shutdownErr = sc.protocol.Call(ctx, MethodShutdown, nil, &res)
			cancel()
			if shutdownErr == nil && !res.Success {
				shutdownErr = fmt.Errorf("sidecar shutdown: %s", res.Message)
			}
		}
		_ = sc.stdin.Close()

		select {
		case <-sc.exited:
		case <-time.After(grace):
			_ = sc.cmd.Process.Kill()
			<-sc.exited
		}
		sc.logger.Debug("sidecar stopped")
	})
	return shutdownErr
}

func (sc *sidecar) kill() {
	sc.stopOnce.Do(func() {
		_ = sc.stdin.Close()
		_ = sc.cmd.Process.Kill()
		<-sc.exited
	})
}

func (sc *sidecar) wait(outputs ...*io.PipeWriter) {
	sc.exitErr = sc.cmd.Wait()
	for _, w := range outputs {
		_ = w.Close()
	}
	close(sc.exited)
}

func (sc *sidecar) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		sc.logger.Debug("sidecar stderr", slog.String("line", scanner.Text()))
	}
	_, _ = io.Copy(io.Discard, r)
}
