// Package docker runs chute services as Docker containers.
//
// Every container is named <chute>-<service> and labelled with the chute it
// belongs to, so all containers of a chute, or all containers managed by the
// agent, can be found again without local bookkeeping.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
	"github.com/edgechute/chuted/pkg/chute"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

// Container labels.
const (
	LabelChute   = "chuted.chute"
	LabelService = "chuted.service"
	LabelVersion = "chuted.version"
)

// API is the part of the Docker client the runtime uses. *client.Client
// implements it.
type API interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	Close() error
}

// Runtime manages the containers of chutes.
type Runtime struct {
	api         API
	logger      zerolog.Logger
	stopTimeout int
	pull        bool
	network     string
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithStopTimeout sets how many seconds a container gets to exit on stop.
func WithStopTimeout(seconds int) Option {
	return func(r *Runtime) {
		r.stopTimeout = seconds
	}
}

// WithPull makes Build pull prebuilt images instead of relying on the local cache.
func WithPull(pull bool) Option {
	return func(r *Runtime) {
		r.pull = pull
	}
}

// WithNetwork attaches every container to a named Docker network.
func WithNetwork(name string) Option {
	return func(r *Runtime) {
		r.network = name
	}
}

// New creates a runtime on top of a Docker API.
func New(api API, logger zerolog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		api:         api,
		logger:      logger.With().Str("component", "docker").Logger(),
		stopTimeout: 10,
		pull:        true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect creates a runtime talking to the Docker daemon at host, or the
// daemon named by the environment when host is empty.
func Connect(host string, logger zerolog.Logger, opts ...Option) (*Runtime, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		clientOpts = append(clientOpts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return New(cli, logger, opts...), nil
}

// Close releases the client connection.
func (r *Runtime) Close() error {
	return r.api.Close()
}

// ContainerName returns the name of the container running a chute service.
func ContainerName(chuteName, service string) string {
	return chuteName + "-" + service
}

// ImageName returns the image a service runs. Services built from source get
// a local image tagged with the chute version.
func ImageName(c *chute.Chute, svc *chute.Service) string {
	if svc.Image != "" {
		return svc.Image
	}
	version := c.Version
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("chuted/%s-%s:%s", c.Name, svc.Name, version)
}

// Build makes the images of every service available locally, building from
// source or pulling as needed.
func (r *Runtime) Build(ctx context.Context, c *chute.Chute) error {
	for _, svc := range c.ServiceList() {
		ref := ImageName(c, svc)
		logger := r.logger.With().Str("chute", c.Name).Str("service", svc.Name).Str("image", ref).Logger()

		if svc.Source != "" {
			logger.Info().Str("source", svc.Source).Msg("building image")
			if err := r.build(ctx, c, svc, ref); err != nil {
				return err
			}
			continue
		}
		if !r.pull {
			continue
		}

		logger.Info().Msg("pulling image")
		reader, err := r.api.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("failed to pull image %s: %w", ref, err)
		}
		err = drain(reader, logger)
		reader.Close()
		if err != nil {
			return fmt.Errorf("failed to pull image %s: %w", ref, err)
		}
	}
	return nil
}

func (r *Runtime) build(ctx context.Context, c *chute.Chute, svc *chute.Service, ref string) error {
	tar, err := archive.TarWithOptions(svc.Source, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context for %s: %w", svc.Name, err)
	}
	defer tar.Close()

	resp, err := r.api.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       []string{ref},
		Dockerfile: svc.Dockerfile,
		Remove:     true,
		Labels: map[string]string{
			LabelChute:   c.Name,
			LabelService: svc.Name,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if err := drain(resp.Body, r.logger); err != nil {
		return fmt.Errorf("failed to build image %s: %w", ref, err)
	}
	return nil
}

// Start creates and starts a container for every service. Existing containers
// with the same names are replaced.
func (r *Runtime) Start(ctx context.Context, c *chute.Chute) error {
	webPort, webService, err := c.WebPortAndService()
	if err != nil {
		return fmt.Errorf("invalid web configuration for %s: %w", c.Name, err)
	}

	for _, svc := range c.ServiceList() {
		name := ContainerName(c.Name, svc.Name)
		if err := r.removeContainer(ctx, name); err != nil {
			return err
		}

		config := &container.Config{
			Image: ImageName(c, svc),
			Cmd:   svc.Command,
			Env:   mapToEnvList(svc.Environment),
			Labels: map[string]string{
				LabelChute:   c.Name,
				LabelService: svc.Name,
				LabelVersion: c.Version,
			},
		}

		hostConfig, err := buildHostConfig(c.HostConfig())
		if err != nil {
			return fmt.Errorf("invalid host_config for %s: %w", c.Name, err)
		}
		if webService != nil && webService.Name == svc.Name {
			port := nat.Port(strconv.Itoa(webPort) + "/tcp")
			config.ExposedPorts = nat.PortSet{port: struct{}{}}
			if hostConfig.PortBindings == nil {
				hostConfig.PortBindings = nat.PortMap{}
			}
			if _, ok := hostConfig.PortBindings[port]; !ok {
				hostConfig.PortBindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0"}}
			}
		}

		netConfig := &network.NetworkingConfig{}
		if r.network != "" {
			hostConfig.NetworkMode = container.NetworkMode(r.network)
		}

		resp, err := r.api.ContainerCreate(ctx, config, hostConfig, netConfig, &v1.Platform{}, name)
		if err != nil {
			return fmt.Errorf("failed to create container %s: %w", name, err)
		}
		if err := r.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start container %s: %w", name, err)
		}

		r.logger.Info().
			Str("chute", c.Name).
			Str("container", name).
			Str("id", shortID(resp.ID)).
			Msg("container started")
	}
	return nil
}

// Stop stops the containers of every service. Missing containers are ignored.
func (r *Runtime) Stop(ctx context.Context, c *chute.Chute) error {
	timeout := r.stopTimeout
	for _, svc := range c.ServiceList() {
		name := ContainerName(c.Name, svc.Name)
		err := r.api.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
		if err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to stop container %s: %w", name, err)
		}
		r.logger.Info().Str("chute", c.Name).Str("container", name).Msg("container stopped")
	}
	return nil
}

// Remove stops and removes the containers of every service.
func (r *Runtime) Remove(ctx context.Context, c *chute.Chute) error {
	for _, svc := range c.ServiceList() {
		if err := r.removeContainer(ctx, ContainerName(c.Name, svc.Name)); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll removes every container managed by the agent and returns how many
// were removed. It keeps going past failures and reports them together.
func (r *Runtime) RemoveAll(ctx context.Context) (int, error) {
	containers, err := r.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelChute)),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	var errs []error
	removed := 0
	for _, ctr := range containers {
		err := r.api.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{Force: true})
		if err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("failed to remove container %s: %w", containerName(ctr), err))
			continue
		}
		removed++
	}

	r.logger.Info().Int("removed", removed).Msg("removed all chute containers")
	return removed, errors.Join(errs...)
}

// Containers returns the names of the containers belonging to a chute.
func (r *Runtime) Containers(ctx context.Context, chuteName string) ([]string, error) {
	containers, err := r.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelChute+"="+chuteName)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	names := make([]string, 0, len(containers))
	for _, ctr := range containers {
		names = append(names, containerName(ctr))
	}
	sort.Strings(names)
	return names, nil
}

func (r *Runtime) removeContainer(ctx context.Context, name string) error {
	err := r.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	if err == nil {
		r.logger.Debug().Str("container", name).Msg("container removed")
	}
	return nil
}

// buildHostConfig translates the host_config section of a chute.
func buildHostConfig(hc map[string]any) (*container.HostConfig, error) {
	out := &container.HostConfig{}

	if v, ok := hc["restart_policy"].(string); ok {
		out.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(v)}
	} else {
		out.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyUnlessStopped}
	}

	if v, ok := hc["network_mode"].(string); ok {
		out.NetworkMode = container.NetworkMode(v)
	}
	if v, ok := hc["privileged"].(bool); ok {
		out.Privileged = v
	}

	if binds, ok := hc["binds"].([]any); ok {
		for _, b := range binds {
			s, ok := b.(string)
			if !ok {
				return nil, fmt.Errorf("bind %v is not a string", b)
			}
			out.Binds = append(out.Binds, s)
		}
	}

	if ports, ok := hc["port_bindings"].(map[string]any); ok {
		out.PortBindings = nat.PortMap{}
		for containerPort, hostPort := range ports {
			port := nat.Port(containerPort)
			if !strings.Contains(containerPort, "/") {
				port = nat.Port(containerPort + "/tcp")
			}
			out.PortBindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprint(hostPort)}}
		}
	}

	return out, nil
}

// drain consumes a build or pull progress stream and returns the first error
// reported in it.
func drain(r io.Reader, logger zerolog.Logger) error {
	return jsonmessage.DisplayJSONMessagesStream(r, io.Discard, 0, false, func(msg jsonmessage.JSONMessage) {
		logger.Debug().Str("id", msg.ID).Msg("aux progress message")
	})
}

func mapToEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

func containerName(ctr types.Container) string {
	if len(ctr.Names) > 0 {
		return strings.TrimPrefix(ctr.Names[0], "/")
	}
	return shortID(ctr.ID)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
