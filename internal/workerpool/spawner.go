package workerpool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"
)

// HostSpawner launches worker processes directly on the host, one OS
// process per worker (mirrors sandbox.HostRunner's exec.Command usage).
type HostSpawner struct {
	BinaryPath string
	Args       []string
	Env        []string
}

// execProcHandle adapts an *exec.Cmd to ProcHandle.
type execProcHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (h *execProcHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *execProcHandle) Stdout() io.Reader     { return h.stdout }
func (h *execProcHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execProcHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *execProcHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	// Kill the whole process group, same precaution host_unix.go takes for
	// sandboxed command execution.
	return syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
}

// Spawn starts one worker subprocess.
func (s *HostSpawner) Spawn(ctx context.Context) (ProcHandle, error) {
	cmd := exec.Command(s.BinaryPath, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker pool: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker pool: stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("worker pool: start: %w", err)
	}
	return &execProcHandle{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// DockerSpawner launches each worker in its own container, attached over a
// hijacked stdin/stdout stream. Grounded on sandbox.DockerRunner's client
// setup and resource-limit/security-option shape, adapted from one-shot
// RunCmd execution to a long-lived attached process.
type DockerSpawner struct {
	Client *client.Client
	Image  string
	CPU    string
	Memory string
	Log    *slog.Logger
}

// NewDockerSpawner dials the local Docker daemon the same way
// sandbox.NewDockerRunner does.
func NewDockerSpawner(image, cpu, memory string) (*DockerSpawner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("worker pool: docker client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("worker pool: docker daemon not accessible: %w", err)
	}
	return &DockerSpawner{Client: cli, Image: image, CPU: cpu, Memory: memory}, nil
}

type dockerProcHandle struct {
	cli         *client.Client
	containerID string
	conn        io.ReadWriteCloser
	statusCh    <-chan container.WaitResponse
	errCh       <-chan error
}

func (h *dockerProcHandle) Stdin() io.WriteCloser { return nopCloseWriter{h.conn} }
func (h *dockerProcHandle) Stdout() io.Reader     { return h.conn }
func (h *dockerProcHandle) Pid() int              { return 0 }

func (h *dockerProcHandle) Wait() error {
	select {
	case err := <-h.errCh:
		return err
	case status := <-h.statusCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("worker container exited with status %d", status.StatusCode)
		}
		return nil
	}
}

func (h *dockerProcHandle) Kill() error {
	_ = h.conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.cli.ContainerKill(ctx, h.containerID, "SIGKILL")
	return h.cli.ContainerRemove(ctx, h.containerID, container.RemoveOptions{Force: true})
}

// nopCloseWriter lets us hand out an io.WriteCloser for stdin without
// closing the whole bidirectional hijacked connection when the caller is
// done writing a single frame.
type nopCloseWriter struct{ io.Writer }

func (nopCloseWriter) Close() error { return nil }

// Spawn starts a worker container and attaches to its stdin/stdout.
func (s *DockerSpawner) Spawn(ctx context.Context) (ProcHandle, error) {
	if err := s.ensureImage(ctx); err != nil {
		return nil, err
	}

	cfg := &container.Config{
		Image:        s.Image,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   parseMemoryBytes(s.Memory),
			NanoCPUs: parseCPUCount(s.CPU) * 1_000_000_000,
		},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: false,
		AutoRemove:     false,
	}

	created, err := s.Client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("worker pool: create worker container: %w", err)
	}

	attach, err := s.Client.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("worker pool: attach worker container: %w", err)
	}

	if err := s.Client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		attach.Close()
		return nil, fmt.Errorf("worker pool: start worker container: %w", err)
	}

	statusCh, errCh := s.Client.ContainerWait(context.Background(), created.ID, container.WaitConditionNotRunning)

	return &dockerProcHandle{
		cli:         s.Client,
		containerID: created.ID,
		conn:        attach.Conn,
		statusCh:    statusCh,
		errCh:       errCh,
	}, nil
}

func (s *DockerSpawner) ensureImage(ctx context.Context) error {
	if _, _, err := s.Client.ImageInspectWithRaw(ctx, s.Image); err == nil {
		return nil
	}
	reader, err := s.Client.ImagePull(ctx, s.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("worker pool: pull worker image %s: %w", s.Image, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func parseMemoryBytes(memStr string) int64 {
	memStr = strings.ToLower(strings.TrimSpace(memStr))
	if memStr == "" {
		return 0
	}
	if b, err := units.RAMInBytes(memStr); err == nil {
		return b
	}
	return 0
}

func parseCPUCount(cpuStr string) int64 {
	cpuStr = strings.TrimSpace(cpuStr)
	if cpuStr == "" {
		return 1
	}
	if v, err := strconv.ParseFloat(cpuStr, 64); err == nil && v > 0 {
		return int64(v)
	}
	return 1
}

// isDockerAvailable pings the daemon through the Docker API client; unlike
// sandbox.IsDockerAvailable, it does not run the docker CLI.
func isDockerAvailable(ctx context.Context) bool {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return false
	}
	defer cli.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = cli.Ping(pingCtx)
	return err == nil
}

// NewDefaultSpawner selects Docker or host-process isolation the way
// sandbox.NewDefaultRunner picks between ModeDocker/ModeHost/ModeAuto,
// driven by ATLAS_WORKER_ISOLATION (docker|host|auto, default auto).
func NewDefaultSpawner(binaryPath string, args []string, log *slog.Logger) Spawner {
	if log == nil {
		log = slog.Default()
	}
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("ATLAS_WORKER_ISOLATION")))
	if mode == "" {
		mode = "auto"
	}
	image := os.Getenv("ATLAS_WORKER_IMAGE")
	if image == "" {
		image = "atlas2-worker:latest"
	}
	cpu := os.Getenv("ATLAS_WORKER_CPU")
	memory := os.Getenv("ATLAS_WORKER_MEMORY")

	useDocker := false
	switch mode {
	case "docker":
		useDocker = true
	case "host":
		useDocker = false
	case "auto":
		useDocker = isDockerAvailable(context.Background())
	default:
		log.Warn("unknown ATLAS_WORKER_ISOLATION value, defaulting to host", "value", mode)
	}

	if useDocker {
		ds, err := NewDockerSpawner(image, cpu, memory)
		if err != nil {
			log.Warn("docker worker isolation requested but unavailable, falling back to host process spawner", "err", err)
		} else {
			ds.Log = log
			return ds
		}
	}
	return &HostSpawner{BinaryPath: binaryPath, Args: args}
}
