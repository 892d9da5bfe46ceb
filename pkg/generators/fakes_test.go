package generators

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/edgechute/chuted/pkg/chute"
	"github.com/edgechute/chuted/pkg/netconf"
	"github.com/edgechute/chuted/pkg/policy"
	"github.com/edgechute/chuted/pkg/stores"
	"github.com/edgechute/chuted/pkg/system"
)

// journal is shared by the fakes so tests can check the global call order.
type journal struct {
	calls []string
	fail  map[string]error
}

func newJournal() *journal {
	return &journal{fail: make(map[string]error)}
}

func (j *journal) record(call string) error {
	j.calls = append(j.calls, call)
	return j.fail[call]
}

func (j *journal) String() string {
	return strings.Join(j.calls, ", ")
}

type fakeRuntime struct {
	j       *journal
	removed int
}

func (f *fakeRuntime) Build(ctx context.Context, c *chute.Chute) error {
	return f.j.record("build " + c.Name + "@" + c.Version)
}

func (f *fakeRuntime) Start(ctx context.Context, c *chute.Chute) error {
	return f.j.record("start " + c.Name + "@" + c.Version)
}

func (f *fakeRuntime) Stop(ctx context.Context, c *chute.Chute) error {
	return f.j.record("stop " + c.Name + "@" + c.Version)
}

func (f *fakeRuntime) Remove(ctx context.Context, c *chute.Chute) error {
	return f.j.record("remove " + c.Name + "@" + c.Version)
}

func (f *fakeRuntime) RemoveAll(ctx context.Context) (int, error) {
	if err := f.j.record("removeall containers"); err != nil {
		return 0, err
	}
	return f.removed, nil
}

type fakeNetwork struct {
	j       *journal
	files   map[string]string
	reloads int
}

func newFakeNetwork(j *journal) *fakeNetwork {
	return &fakeNetwork{j: j, files: make(map[string]string)}
}

func (f *fakeNetwork) Apply(name string, net map[string]any) (bool, *netconf.Snapshot, error) {
	if err := f.j.record("netconf apply " + name); err != nil {
		return false, nil, err
	}
	prev, existed := f.files[name]
	snap := &netconf.Snapshot{Path: name, Existed: existed, Content: []byte(prev)}

	if net == nil {
		delete(f.files, name)
		return existed, snap, nil
	}
	content := fmt.Sprint(net)
	f.files[name] = content
	return !existed || prev != content, snap, nil
}

func (f *fakeNetwork) Restore(snap *netconf.Snapshot) error {
	if err := f.j.record("netconf restore " + snap.Path); err != nil {
		return err
	}
	if !snap.Existed {
		delete(f.files, snap.Path)
		return nil
	}
	f.files[snap.Path] = string(snap.Content)
	return nil
}

func (f *fakeNetwork) Reload(ctx context.Context) error {
	if err := f.j.record("netconf reload"); err != nil {
		return err
	}
	f.reloads++
	return nil
}

type fakeStore struct {
	j      *journal
	chutes map[string]*chute.Chute
}

func newFakeStore(j *journal) *fakeStore {
	return &fakeStore{j: j, chutes: make(map[string]*chute.Chute)}
}

func (f *fakeStore) GetChute(ctx context.Context, name string) (*chute.Chute, error) {
	c, ok := f.chutes[name]
	if !ok {
		return nil, fmt.Errorf("chute %s: %w", name, stores.ErrNotFound)
	}
	return c, nil
}

func (f *fakeStore) SaveChute(ctx context.Context, c *chute.Chute) error {
	if err := f.j.record("save " + c.Name + "@" + c.Version); err != nil {
		return err
	}
	f.chutes[c.Name] = c
	return nil
}

func (f *fakeStore) DeleteChute(ctx context.Context, name string) error {
	if err := f.j.record("delete " + name); err != nil {
		return err
	}
	if _, ok := f.chutes[name]; !ok {
		return fmt.Errorf("chute %s: %w", name, stores.ErrNotFound)
	}
	delete(f.chutes, name)
	return nil
}

func (f *fakeStore) DeleteAllChutes(ctx context.Context) (int64, error) {
	if err := f.j.record("removeall chutes"); err != nil {
		return 0, err
	}
	n := int64(len(f.chutes))
	f.chutes = make(map[string]*chute.Chute)
	return n, nil
}

func (f *fakeStore) ListChutes(ctx context.Context) ([]*chute.Chute, error) {
	names := make([]string, 0, len(f.chutes))
	for name := range f.chutes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*chute.Chute, 0, len(names))
	for _, name := range names {
		out = append(out, f.chutes[name])
	}
	return out, nil
}

// fakeRunner answers shutdown commands with a fixed exit code.
type fakeRunner struct {
	j        *journal
	exitCode int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*system.Result, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	if err := f.j.record(line); err != nil {
		return nil, err
	}
	return &system.Result{ExitCode: f.exitCode}, nil
}

type fakePolicy struct {
	result *policy.Result
	err    error
	inputs []*policy.Input
}

func (f *fakePolicy) Evaluate(ctx context.Context, input *policy.Input) (*policy.Result, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

var errBoom = errors.New("boom")
