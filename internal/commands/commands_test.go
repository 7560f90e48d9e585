package commands

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/kiwi/internal/config"
	"evalgo.org/kiwi/internal/credentials"
	"evalgo.org/kiwi/internal/dispatch"
	"evalgo.org/kiwi/internal/dispatch/dispatchtest"
	"evalgo.org/kiwi/internal/orchestration"
	"evalgo.org/kiwi/models"
)

var (
	testInfra = models.Infrastructure{ID: 5, Type: models.InfraKubernetes}
	testHops  = []models.Hop{{Host: "10.0.0.5", Port: 22}}
)

func newTestPrompter(input string) (*prompter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	p := &prompter{in: bufio.NewReader(strings.NewReader(input)), out: out}
	p.readPassword = p.readLine
	return p, out
}

func newTestOrchestrator(t *testing.T) (*orchestration.Orchestrator, *dispatchtest.Fake) {
	t.Helper()
	fake := dispatchtest.New()
	store := credentials.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	orch := orchestration.New(orchestration.Deps{
		Client:      fake,
		Credentials: credentials.NewManager(store, credentials.InsertOnly),
		Polling: config.PollingConfig{
			BackupInterval:  time.Millisecond,
			RestoreInterval: time.Millisecond,
			InstallInterval: time.Millisecond,
			BackupTimeout:   time.Second,
			RestoreTimeout:  time.Second,
			InstallTimeout:  time.Second,
		},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return orch, fake
}

func fetchNamespaces(orch *orchestration.Orchestrator) func(ctx context.Context) (*orchestration.Result, error) {
	return func(ctx context.Context) (*orchestration.Result, error) {
		return orch.FetchNamespaces(ctx, orchestration.NamespacesRequest{Infra: testInfra, Hops: testHops})
	}
}

func TestParseMappings(t *testing.T) {
	m, err := parseMappings([]string{"shop=shop-restored", "db=db"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"shop": "shop-restored", "db": "db"}, m)

	m, err = parseMappings(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	for _, bad := range []string{"shop", "=x", "x=", ""} {
		_, err := parseMappings([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", "12"})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 12}, ids)

	for _, bad := range []string{"0", "-4", "abc"} {
		_, err := parseIDs([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestPrompterUsesPrefill(t *testing.T) {
	p, out := newTestPrompter("\nsecret\nroot\npw2\n")

	rows, err := p.ask(models.AuthSessionView{
		Purpose: models.PurposeBackup,
		Hops:    []models.Hop{{Host: "gw", Port: 22}, {Host: "10.0.0.5", Port: 2222}},
		Prefill: []models.CredentialInput{{Username: "ops"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.CredentialInput{
		{Username: "ops", Password: "secret"},
		{Username: "root", Password: "pw2"},
	}, rows)
	assert.Contains(t, out.String(), "username [ops]")
	assert.Contains(t, out.String(), "10.0.0.5:2222")
}

func TestRunInteractiveContinuesParkedOperation(t *testing.T) {
	orch, fake := newTestOrchestrator(t)
	fake.Reply(dispatch.ActionFetchNamespaces, []string{"default", "shop"})
	p, _ := newTestPrompter("ops\npw\n")

	res, err := runInteractive(context.Background(), orch, p, fetchNamespaces(orch))
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "shop"}, res.Namespaces)
	assert.Empty(t, orch.Sessions())
	assert.Equal(t, 1, fake.Count(dispatch.ActionFetchNamespaces))

	keys, err := orch.Credentials().Store().Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRunInteractiveAsksAgainOnIncompleteRows(t *testing.T) {
	orch, fake := newTestOrchestrator(t)
	fake.Reply(dispatch.ActionFetchNamespaces, []string{"default"})
	p, out := newTestPrompter("ops\n\nops\npw\n")

	res, err := runInteractive(context.Background(), orch, p, fetchNamespaces(orch))
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, res.Namespaces)
	assert.Equal(t, 2, strings.Count(out.String(), "Credentials required"))
}

func TestRunInteractiveCancelsWhenInputEnds(t *testing.T) {
	orch, fake := newTestOrchestrator(t)
	p, _ := newTestPrompter("")

	_, err := runInteractive(context.Background(), orch, p, fetchNamespaces(orch))
	require.Error(t, err)
	assert.Empty(t, orch.Sessions())
	assert.Zero(t, fake.Count(dispatch.ActionFetchNamespaces))
}

func TestWaiterKeepsEarlySettle(t *testing.T) {
	w := newWaiter()
	w.JobSettled(orchestration.Outcome{JobID: "backup-1", Succeeded: true})
	w.InstallationSettled(models.InstallationStatus{InfraID: 7, EngineState: models.EngineActive})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := w.waitJob(ctx, "backup-1")
	require.NoError(t, err)
	assert.True(t, out.Succeeded)

	st, err := w.waitInstall(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.EngineActive, st.EngineState)

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = w.waitJob(short, "backup-2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
