package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	daerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
	"github.com/wehubfusion/Daedalus/pkg/telemetry"
)

func step(id string) *graph.Node {
	return &graph.Node{ID: id, Name: "step " + id, Kind: "step",
		Inputs:  []graph.Socket{graph.ExecIn("Exec")},
		Outputs: []graph.Socket{graph.ExecOut("Then")}}
}

func execute(t *testing.T, g *graph.Graph, bindings runtime.KindMap) (*Report, error) {
	t.Helper()
	b := NewBuilder()
	rt, err := runtime.New(bindings, runtime.DefaultConfig().
		WithObserver(b).
		WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	_, err = rt.Execute(context.Background(), g)
	return b.Report(), err
}

func TestReportOfCompletedRun(t *testing.T) {
	bindings := runtime.KindMap{
		"step": runtime.BindingFunc(func(_ context.Context, nc *runtime.NodeContext) error {
			nc.Feedback("hello from " + nc.Node().ID)
			return nil
		}),
	}
	g := graph.NewBuilder("report").
		Add(step("A")).Add(step("B")).
		Exec("A", "Then", "B", "Exec").
		Build()

	r, err := execute(t, g, bindings)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, "report", r.Graph)
	assert.NotEmpty(t, r.RunID)
	assert.Nil(t, r.Error)
	assert.Equal(t, []string{"A", "B"}, r.Order())

	a := r.Nodes["A"]
	assert.Equal(t, StatusSuccess, a.Meta.Status)
	assert.Equal(t, "step A", a.Meta.Name)
	assert.Equal(t, "step", a.Meta.Kind)
	assert.Equal(t, 1, a.Meta.Runs)
	assert.Equal(t, []string{"hello from A"}, a.Feedback)
}

func TestReportOfFailedRun(t *testing.T) {
	bindings := runtime.KindMap{
		"step": runtime.BindingFunc(func(context.Context, *runtime.NodeContext) error { return nil }),
		"boom": runtime.BindingFunc(func(context.Context, *runtime.NodeContext) error {
			return errors.New("exploded")
		}),
	}
	bad := step("B")
	bad.Kind = "boom"
	g := graph.NewBuilder("failing").
		Add(step("A")).Add(bad).Add(step("C")).
		Exec("A", "Then", "B", "Exec").
		Exec("B", "Then", "C", "Exec").
		Build()

	r, err := execute(t, g, bindings)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, daerrors.CodeNodeFailed, r.Error.Code)
	assert.False(t, r.Error.Fatal)

	require.NotNil(t, r.Nodes["B"].Error)
	assert.Equal(t, StatusFailed, r.Nodes["B"].Meta.Status)
	assert.Contains(t, r.Nodes["B"].Error.Message, "exploded")
	assert.NotContains(t, r.Nodes, "C")
}

func TestReportMarksMissingBindingFatal(t *testing.T) {
	r, err := execute(t, graph.NewBuilder("missing").Add(step("A")).Build(), runtime.KindMap{})
	require.Error(t, err)
	require.NotNil(t, r.Error)
	assert.True(t, r.Error.Fatal)
	assert.Equal(t, daerrors.CodeMissingBinding, r.Error.Code)
}

func TestBuilderCountsRepeatedExecutions(t *testing.T) {
	b := NewBuilder()
	ctx := context.Background()
	b.OnEvent(ctx, telemetry.Event{Type: telemetry.RunStarted, RunID: "r1", Graph: "g"})
	for i := 0; i < 3; i++ {
		b.OnEvent(ctx, telemetry.Event{Type: telemetry.NodeStarted, NodeID: "L"})
		b.OnEvent(ctx, telemetry.Event{Type: telemetry.NodeCompleted, NodeID: "L", Duration: 10 * time.Millisecond})
	}
	b.OnEvent(ctx, telemetry.Event{Type: telemetry.NodeSkipped, NodeID: "S"})
	b.OnEvent(ctx, telemetry.Event{Type: telemetry.NodeSkipped, NodeID: "L"})
	b.OnEvent(ctx, telemetry.Event{Type: telemetry.RunStopped, Message: "enough", Duration: time.Second})

	r := b.Report()
	assert.Equal(t, StatusStopped, r.Status)
	assert.Equal(t, "enough", r.StopReason)
	assert.EqualValues(t, 1000, r.DurationMs)
	assert.Equal(t, 3, r.Nodes["L"].Meta.Runs)
	assert.EqualValues(t, 30, r.Nodes["L"].Meta.ExecutionTimeMs)
	assert.Equal(t, StatusSuccess, r.Nodes["L"].Meta.Status)
	assert.Equal(t, StatusSkipped, r.Nodes["S"].Meta.Status)

	b.Reset()
	assert.Empty(t, b.Report().Nodes)
}

func TestBuilderIsSafeForConcurrentUse(t *testing.T) {
	b := NewBuilder()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("n%d", i%5)
			b.OnEvent(context.Background(), telemetry.Event{Type: telemetry.NodeCompleted, NodeID: id})
			_ = b.Report()
		}(i)
	}
	wg.Wait()
	r := b.Report()
	total := 0
	for _, n := range r.Nodes {
		total += n.Meta.Runs
	}
	assert.Equal(t, 20, total)
}

type memoryBlob struct {
	mu    sync.Mutex
	blobs map[string][]byte
	meta  map[string]map[string]string
}

func newMemoryBlob() *memoryBlob {
	return &memoryBlob{blobs: make(map[string][]byte), meta: make(map[string]map[string]string)}
}

func (m *memoryBlob) Upload(_ context.Context, path string, data []byte, meta map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = data
	m.meta[path] = meta
	return "memory://" + path, nil
}

func (m *memoryBlob) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func TestStoreRoundTrip(t *testing.T) {
	blob := newMemoryBlob()
	s := NewStore(blob, zaptest.NewLogger(t))
	r := &Report{RunID: "run-1", Graph: "g", Status: StatusCompleted, Nodes: map[string]*NodeReport{
		"A": {Meta: NodeMeta{NodeID: "A", Status: StatusSuccess, Runs: 1}},
	}}

	u, err := s.Save(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "memory://reports/g/run-1/report.json", u)
	assert.Equal(t, "1", blob.meta["reports/g/run-1/report.json"]["node_count"])

	var raw map[string]any
	require.NoError(t, json.Unmarshal(blob.blobs["reports/g/run-1/report.json"], &raw))
	assert.Contains(t, raw["nodes"], "A")

	loaded, err := s.Load(context.Background(), "g", "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.Equal(t, 1, loaded.Nodes["A"].Meta.Runs)

	_, err = s.Load(context.Background(), "g", "other")
	assert.Error(t, err)
	_, err = s.Save(context.Background(), &Report{})
	assert.Error(t, err)
}

func TestNewAzureBlobClient(t *testing.T) {
	tests := []struct {
		name             string
		connectionString string
		containerName    string
		errContains      string
	}{
		{"empty connection string", "", "reports", "connection string is required"},
		{"empty container", "AccountName=test;AccountKey=dGVzdA==", "", "container name is required"},
		{"missing key", "AccountName=test", "reports", "account name and key are required"},
		{"valid", "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net", "reports", ""},
		{"azurite", "AccountName=devstoreaccount1;AccountKey=dGVzdA==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1/", "reports", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewAzureBlobClient(tt.connectionString, tt.containerName, nil)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestExtractBlobPath(t *testing.T) {
	svc := "https://acct.blob.core.windows.net"
	tests := []struct {
		ref, want string
	}{
		{"reports/g/r/report.json", "reports/g/r/report.json"},
		{svc + "/c/reports/g/r/report.json", "reports/g/r/report.json"},
		{svc + "/c/reports/g%20x/r/report.json?sig=abc", "reports/g x/r/report.json"},
		{"/c/reports/a.json", "reports/a.json"},
	}
	for _, tt := range tests {
		got, err := extractBlobPath(svc, "c", tt.ref)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := extractBlobPath(svc, "c", "  ")
	assert.Error(t, err)
}

func TestParseConnectionString(t *testing.T) {
	p := parseConnectionString("AccountName=a; AccountKey=k==;;BlobEndpoint=http://x")
	assert.Equal(t, "a", p["AccountName"])
	assert.Equal(t, "k==", p["AccountKey"])
	assert.Equal(t, "http://x", p["BlobEndpoint"])
}
