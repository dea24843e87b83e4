package exec

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"codecollab/internal/models"
)

const stdinFile = "input.txt"

type SandboxLimits struct {
	MemoryB  int64
	NanoCPUs int64
}

type dockerClient interface {
	ImageInspectWithRaw(ctx context.Context, image string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.ContainerCreateCreatedBody, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerKill(ctx context.Context, containerID string, signal string) error
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options types.CopyToContainerOptions) error
	ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecStart(ctx context.Context, execID string, config types.ExecStartCheck) error
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
}

var newDockerClient = func() (dockerClient, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// DockerSandbox runs each submission in a throwaway network-less container.
// Wall time is bounded by the caller's context.
type DockerSandbox struct {
	cli    dockerClient
	limits SandboxLimits
}

func NewDockerSandbox(limits SandboxLimits) (*DockerSandbox, error) {
	cli, err := newDockerClient()
	if err != nil {
		return nil, err
	}
	if limits.MemoryB == 0 {
		limits.MemoryB = 512 * 1024 * 1024
	}
	if limits.NanoCPUs == 0 {
		limits.NanoCPUs = 1_000_000_000
	}
	return &DockerSandbox{cli: cli, limits: limits}, nil
}

func (s *DockerSandbox) Submit(ctx context.Context, sub Submission) (models.ExecuteResult, error) {
	spec := sub.Language
	if spec.Image == "" {
		return models.ExecuteResult{}, &models.AppError{
			Kind:    models.KindUnsupportedLanguage,
			Message: "Language is not available in the local sandbox",
			Details: map[string]string{"language": string(spec.Name)},
		}
	}

	if err := s.ensureImage(ctx, spec.Image); err != nil {
		return models.ExecuteResult{}, translateDockerErr(err)
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{
			{Type: mount.TypeTmpfs, Target: "/tmp"},
		},
		Resources: container.Resources{
			Memory:   s.limits.MemoryB,
			NanoCPUs: s.limits.NanoCPUs,
		},
		SecurityOpt: []string{"no-new-privileges"},
	}
	conf := &container.Config{
		Image:      spec.Image,
		Cmd:        []string{"/bin/sh", "-c", "sleep infinity"},
		WorkingDir: "/workspace",
		Env:        []string{"PYTHONDONTWRITEBYTECODE=1", "GOCACHE=/tmp/gocache"},
	}

	create, err := s.cli.ContainerCreate(ctx, conf, hostCfg, nil, nil, "")
	if err != nil {
		return models.ExecuteResult{}, translateDockerErr(err)
	}
	cid := create.ID
	defer func() {
		_ = s.cli.ContainerRemove(context.Background(), cid, types.ContainerRemoveOptions{Force: true})
	}()

	if err := s.cli.ContainerStart(ctx, cid, types.ContainerStartOptions{}); err != nil {
		return models.ExecuteResult{}, translateDockerErr(err)
	}

	files := map[string][]byte{
		spec.FileName: []byte(sub.Code),
		stdinFile:     []byte(sub.Stdin),
	}
	if err := s.copyFiles(ctx, cid, files); err != nil {
		_ = s.cli.ContainerKill(context.Background(), cid, "SIGKILL")
		return models.ExecuteResult{}, translateDockerErr(err)
	}

	var res models.ExecuteResult
	if spec.CompileCmd != "" {
		stdout, stderr, exit, err := s.exec(ctx, cid, spec.CompileCmd)
		if err != nil {
			_ = s.cli.ContainerKill(context.Background(), cid, "SIGKILL")
			return models.ExecuteResult{}, err
		}
		if exit != 0 {
			res.CompileOutput = stdout + stderr
			res.Status = "Compilation Error"
			return res, nil
		}
	}

	stdout, stderr, exit, err := s.exec(ctx, cid, spec.RunCmd+" < "+stdinFile)
	if err != nil {
		_ = s.cli.ContainerKill(context.Background(), cid, "SIGKILL")
		return models.ExecuteResult{}, err
	}
	res.Output = stdout
	res.Stderr = stderr
	res.Status = "Accepted"
	if exit != 0 {
		res.Status = fmt.Sprintf("Runtime Error (exit %d)", exit)
	}
	return res, nil
}

func (s *DockerSandbox) ensureImage(ctx context.Context, image string) error {
	_, _, err := s.cli.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return err
	}
	pullCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	reader, err := s.cli.ImagePull(pullCtx, image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// exec runs command through sh and returns its demultiplexed output.
func (s *DockerSandbox) exec(ctx context.Context, cid, command string) (stdout, stderr string, exit int, err error) {
	execResp, err := s.cli.ContainerExecCreate(ctx, cid, types.ExecConfig{
		Cmd:          []string{"/bin/sh", "-c", command},
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", -1, translateDockerErr(err)
	}
	attach, err := s.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return "", "", -1, translateDockerErr(err)
	}
	defer attach.Close()
	if err := s.cli.ContainerExecStart(ctx, execResp.ID, types.ExecStartCheck{}); err != nil {
		return "", "", -1, translateDockerErr(err)
	}

	var out, errOut strings.Builder
	if _, err := stdcopy.StdCopy(&out, &errOut, attach.Reader); err != nil && ctx.Err() != nil {
		return "", "", -1, ctx.Err()
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", "", -1, translateDockerErr(err)
	}
	return out.String(), errOut.String(), inspect.ExitCode, nil
}

func (s *DockerSandbox) copyFiles(ctx context.Context, cid string, files map[string][]byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name: "workspace/" + name,
			Mode: 0o644,
			Size: int64(len(content)),
		}); err != nil {
			return err
		}
		if _, err := tw.Write(content); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return s.cli.CopyToContainer(ctx, cid, "/", &buf, types.CopyToContainerOptions{})
}

var errDockerUnavailable = errors.New("docker daemon unreachable")

func translateDockerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if client.IsErrConnectionFailed(err) {
		return models.WrapError(models.KindExternalService, "Sandbox unavailable", errDockerUnavailable)
	}
	return models.WrapError(models.KindExternalService, "Sandbox error", err)
}
