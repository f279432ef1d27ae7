package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const stopGracePeriod = 5 * time.Second

// Process is a server started in the background.
type Process interface {
	// Stop terminates the server and waits for it to exit.
	Stop() error
	// Output returns the captured stdout and stderr so far.
	Output() (stdout, stderr string)
}

// Runner starts the built server without waiting for it to exit.
type Runner interface {
	Start(ctx context.Context) (Process, error)
}

// CommandRunner launches a fixed command in a fixed working directory with
// PORT exported to the child.
type CommandRunner struct {
	Command []string
	Dir     string
	Port    int
}

// NewCommandRunner validates the command line.
func NewCommandRunner(command []string, dir string, port int) (*CommandRunner, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("run command is empty")
	}
	return &CommandRunner{Command: append([]string(nil), command...), Dir: dir, Port: port}, nil
}

// Start implements Runner. The child is not tied to ctx: it keeps running
// until Stop is called.
func (r *CommandRunner) Start(_ context.Context) (Process, error) {
	cmd := exec.Command(r.Command[0], r.Command[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = os.Environ()
	if r.Port > 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", r.Port))
	}
	setProcessGroup(cmd)

	proc := &commandProcess{cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &lockedBuffer{mu: &proc.mu, buf: &proc.stdout}
	cmd.Stderr = &lockedBuffer{mu: &proc.mu, buf: &proc.stderr}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q in %s: %w", strings.Join(r.Command, " "), r.Dir, err)
	}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.done)
	}()
	return proc, nil
}

type commandProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error

	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer

	stopOnce sync.Once
}

func (p *commandProcess) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		terminate(p.cmd)
		select {
		case <-p.done:
		case <-time.After(stopGracePeriod):
			kill(p.cmd)
			<-p.done
		}
	})
	return nil
}

func (p *commandProcess) Output() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout.String(), p.stderr.String()
}

type lockedBuffer struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

var _ Runner = (*CommandRunner)(nil)
