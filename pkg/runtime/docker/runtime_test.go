package docker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/edgechute/chuted/pkg/chute"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

// fakeAPI records calls and keeps a table of containers by name.
type fakeAPI struct {
	calls      []string
	containers map[string]types.Container
	created    map[string]*container.Config
	hosts      map[string]*container.HostConfig
	buildTags  []string
	buildBody  string
	pullBody   string
	stopErr    error
	removeErr  map[string]error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		containers: make(map[string]types.Container),
		created:    make(map[string]*container.Config),
		hosts:      make(map[string]*container.HostConfig),
		removeErr:  make(map[string]error),
		buildBody:  `{"stream":"Step 1/1 : FROM scratch"}` + "\n",
		pullBody:   `{"status":"Pulling from library/nginx"}` + "\n",
	}
}

func (f *fakeAPI) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.calls = append(f.calls, "build "+strings.Join(options.Tags, ","))
	f.buildTags = append(f.buildTags, options.Tags...)
	_, _ = io.Copy(io.Discard, buildContext)
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.buildBody))}, nil
}

func (f *fakeAPI) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	f.calls = append(f.calls, "pull "+ref)
	return io.NopCloser(strings.NewReader(f.pullBody)), nil
}

func (f *fakeAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error) {
	f.calls = append(f.calls, "create "+containerName)
	f.created[containerName] = config
	f.hosts[containerName] = hostConfig
	f.containers[containerName] = types.Container{
		ID:     "id-" + containerName,
		Names:  []string{"/" + containerName},
		Labels: config.Labels,
	}
	return container.CreateResponse{ID: "id-" + containerName}, nil
}

func (f *fakeAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.calls = append(f.calls, "start "+containerID)
	return nil
}

func (f *fakeAPI) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.calls = append(f.calls, "stop "+containerID)
	if f.stopErr != nil {
		return f.stopErr
	}
	if _, ok := f.containers[containerID]; !ok {
		return errdefs.NotFound(errors.New("no such container"))
	}
	return nil
}

func (f *fakeAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.calls = append(f.calls, "remove "+containerID)
	if err := f.removeErr[containerID]; err != nil {
		return err
	}
	for name, ctr := range f.containers {
		if name == containerID || ctr.ID == containerID {
			delete(f.containers, name)
			return nil
		}
	}
	return errdefs.NotFound(errors.New("no such container"))
}

func (f *fakeAPI) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	var out []types.Container
	for _, ctr := range f.containers {
		matched := true
		for _, label := range options.Filters.Get("label") {
			key, value, hasValue := strings.Cut(label, "=")
			v, ok := ctr.Labels[key]
			if !ok || (hasValue && v != value) {
				matched = false
			}
		}
		if matched {
			out = append(out, ctr)
		}
	}
	return out, nil
}

func (f *fakeAPI) Close() error { return nil }

func testChute() *chute.Chute {
	c := chute.New("web")
	c.Version = "3"
	c.AddService(&chute.Service{Name: "main", Image: "nginx:1.25", Environment: map[string]string{"B": "2", "A": "1"}})
	c.AddService(&chute.Service{Name: "worker", Image: "busybox:1.36", Command: []string{"sleep", "1d"}})
	c.Config["web"] = map[string]any{"port": 80}
	return c
}

func TestImageName(t *testing.T) {
	c := chute.New("web")
	tests := []struct {
		name    string
		version string
		svc     *chute.Service
		want    string
	}{
		{name: "prebuilt", svc: &chute.Service{Name: "main", Image: "nginx:1.25"}, want: "nginx:1.25"},
		{name: "source with version", version: "7", svc: &chute.Service{Name: "main", Source: "/src"}, want: "chuted/web-main:7"},
		{name: "source without version", svc: &chute.Service{Name: "api", Source: "/src"}, want: "chuted/web-api:latest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.Version = tt.version
			if got := ImageName(c, tt.svc); got != tt.want {
				t.Errorf("ImageName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildPullsAndBuilds(t *testing.T) {
	api := newFakeAPI()
	rt := New(api, zerolog.Nop())

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "Dockerfile"), []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := chute.New("web")
	c.Version = "2"
	c.AddService(&chute.Service{Name: "api", Source: src})
	c.AddService(&chute.Service{Name: "main", Image: "nginx:1.25"})

	if err := rt.Build(context.Background(), c); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{"build chuted/web-api:2", "pull nginx:1.25"}
	if strings.Join(api.calls, ";") != strings.Join(want, ";") {
		t.Errorf("calls = %v, want %v", api.calls, want)
	}
}

func TestBuildReportsStreamError(t *testing.T) {
	api := newFakeAPI()
	api.pullBody = `{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}` + "\n"
	rt := New(api, zerolog.Nop())

	err := rt.Build(context.Background(), testChute())
	if err == nil || !strings.Contains(err.Error(), "manifest unknown") {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestBuildWithoutPull(t *testing.T) {
	api := newFakeAPI()
	rt := New(api, zerolog.Nop(), WithPull(false))

	if err := rt.Build(context.Background(), testChute()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(api.calls) != 0 {
		t.Errorf("expected no calls, got %v", api.calls)
	}
}

func TestStartCreatesLabelledContainers(t *testing.T) {
	api := newFakeAPI()
	rt := New(api, zerolog.Nop(), WithNetwork("chutes"))
	c := testChute()

	if err := rt.Start(context.Background(), c); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for _, name := range []string{"web-main", "web-worker"} {
		cfg, ok := api.created[name]
		if !ok {
			t.Fatalf("container %s not created", name)
		}
		if cfg.Labels[LabelChute] != "web" || cfg.Labels[LabelVersion] != "3" {
			t.Errorf("%s labels = %v", name, cfg.Labels)
		}
		if api.hosts[name].NetworkMode != "chutes" {
			t.Errorf("%s network = %q", name, api.hosts[name].NetworkMode)
		}
	}

	mainCfg := api.created["web-main"]
	if strings.Join(mainCfg.Env, ",") != "A=1,B=2" {
		t.Errorf("env = %v, want sorted A=1,B=2", mainCfg.Env)
	}
	if _, ok := mainCfg.ExposedPorts["80/tcp"]; !ok {
		t.Errorf("web port not exposed on main: %v", mainCfg.ExposedPorts)
	}
	if len(api.created["web-worker"].ExposedPorts) != 0 {
		t.Error("worker should not expose the web port")
	}
}

func TestStartReplacesExisting(t *testing.T) {
	api := newFakeAPI()
	rt := New(api, zerolog.Nop())
	c := testChute()

	if err := rt.Start(context.Background(), c); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	api.calls = nil
	if err := rt.Start(context.Background(), c); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if api.calls[0] != "remove web-main" || api.calls[1] != "create web-main" {
		t.Errorf("expected remove before create, got %v", api.calls)
	}
}

func TestStartInvalidHostConfig(t *testing.T) {
	rt := New(newFakeAPI(), zerolog.Nop())
	c := testChute()
	c.Config["host_config"] = map[string]any{"binds": []any{42}}

	if err := rt.Start(context.Background(), c); err == nil {
		t.Fatal("expected host_config error")
	}
}

func TestStopIgnoresMissing(t *testing.T) {
	api := newFakeAPI()
	rt := New(api, zerolog.Nop())

	if err := rt.Stop(context.Background(), testChute()); err != nil {
		t.Fatalf("Stop of missing containers should succeed, got %v", err)
	}

	api.stopErr = errors.New("daemon unavailable")
	if err := rt.Stop(context.Background(), testChute()); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestRemoveAndRemoveAll(t *testing.T) {
	api := newFakeAPI()
	rt := New(api, zerolog.Nop())

	web := testChute()
	other := chute.New("other")
	other.AddService(&chute.Service{Name: "main", Image: "redis:7"})
	for _, c := range []*chute.Chute{web, other} {
		if err := rt.Start(context.Background(), c); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	}
	api.containers["unmanaged"] = types.Container{ID: "id-unmanaged", Names: []string{"/unmanaged"}}

	names, err := rt.Containers(context.Background(), "web")
	if err != nil {
		t.Fatalf("Containers failed: %v", err)
	}
	if strings.Join(names, ",") != "web-main,web-worker" {
		t.Errorf("Containers = %v", names)
	}

	if err := rt.Remove(context.Background(), other); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := api.containers["other-main"]; ok {
		t.Error("other-main should be removed")
	}

	n, err := rt.RemoveAll(context.Background())
	if err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d containers, want 2", n)
	}
	if _, ok := api.containers["unmanaged"]; !ok {
		t.Error("unmanaged container must survive RemoveAll")
	}
}

func TestRemoveAllCollectsErrors(t *testing.T) {
	api := newFakeAPI()
	rt := New(api, zerolog.Nop())
	if err := rt.Start(context.Background(), testChute()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	api.removeErr["id-web-main"] = errors.New("device busy")

	n, err := rt.RemoveAll(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
}

func TestBuildHostConfig(t *testing.T) {
	hc, err := buildHostConfig(map[string]any{
		"restart_policy": "always",
		"port_bindings":  map[string]any{"8080": 18080, "53/udp": "5353"},
		"binds":          []any{"/data:/data"},
	})
	if err != nil {
		t.Fatalf("buildHostConfig failed: %v", err)
	}
	if hc.RestartPolicy.Name != container.RestartPolicyAlways {
		t.Errorf("restart policy = %q", hc.RestartPolicy.Name)
	}
	if hc.PortBindings["8080/tcp"][0].HostPort != "18080" {
		t.Errorf("8080 binding = %v", hc.PortBindings["8080/tcp"])
	}
	if hc.PortBindings["53/udp"][0].HostPort != "5353" {
		t.Errorf("53/udp binding = %v", hc.PortBindings["53/udp"])
	}
	if len(hc.Binds) != 1 {
		t.Errorf("binds = %v", hc.Binds)
	}

	def, _ := buildHostConfig(nil)
	if def.RestartPolicy.Name != container.RestartPolicyUnlessStopped {
		t.Errorf("default restart policy = %q", def.RestartPolicy.Name)
	}
}
