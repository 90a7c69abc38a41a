package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/bootstrap"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/config"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/validate"
)

func testConfig(overrideDB string) config.Config {
	return config.Config{
		MetricsNamespace: "test",
		Stores: config.Stores{
			GraphAdapter:   config.AdapterMemory,
			VectorAdapter:  config.AdapterMemory,
			LexicalAdapter: config.AdapterMemory,
			OverrideDBPath: overrideDB,
		},
		Cache: config.Cache{Adapter: config.AdapterMemory},
		AI:    config.AI{Adapter: config.AdapterOpenAI},
		Validation: config.Validation{
			LexicalTolerance: validate.DefaultLexicalTolerance,
			GraphTolerance:   validate.DefaultGraphTolerance,
		},
	}
}

func useServices(t *testing.T, open func(ctx context.Context) (*bootstrap.Services, error)) {
	t.Helper()
	prev := openServices
	openServices = open
	t.Cleanup(func() { openServices = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate_EmptyNamespaceIsConsistent(t *testing.T) {
	useServices(t, func(ctx context.Context) (*bootstrap.Services, error) {
		return bootstrap.New(ctx, testConfig(""))
	})

	out, err := execute(t, "validate", "docs", "--json")
	require.NoError(t, err)

	var r validate.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "docs", r.Namespace)
	assert.True(t, r.Consistent)
}

func TestValidate_DriftFails(t *testing.T) {
	useServices(t, func(ctx context.Context) (*bootstrap.Services, error) {
		s, err := bootstrap.New(ctx, testConfig(""))
		if err != nil {
			return nil, err
		}
		err = s.Vectors.Upsert(ctx, "docs", []store.VectorRecord{
			{ChunkID: "c1", Embedding: []float32{1, 0}},
			{ChunkID: "c2", Embedding: []float32{0, 1}},
			{ChunkID: "c3", Embedding: []float32{1, 1}},
		})
		return s, err
	})

	out, err := execute(t, "validate", "docs")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConsistencyWarning)
	assert.Contains(t, out, "vector chunks:      3")
	assert.Contains(t, out, "consistent:         false")
}

func TestValidate_RequiresNamespace(t *testing.T) {
	_, err := execute(t, "validate")
	assert.Error(t, err)
}

func TestOverride_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "overrides.db")
	useServices(t, func(ctx context.Context) (*bootstrap.Services, error) {
		return bootstrap.New(ctx, testConfig(db))
	})

	_, err := execute(t, "override", "set", "starred in", "acted in")
	require.NoError(t, err)

	seed := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte("overrides:\n  founded by: founder of\n"), 0o600))
	_, err = execute(t, "override", "import", seed)
	require.NoError(t, err)

	out, err := execute(t, "override", "list")
	require.NoError(t, err)
	assert.Equal(t, "FOUNDED_BY -> FOUNDER_OF\nSTARRED_IN -> ACTED_IN\n", out)

	_, err = execute(t, "override", "delete", "starred in")
	require.NoError(t, err)
	out, err = execute(t, "override", "list")
	require.NoError(t, err)
	assert.Equal(t, "FOUNDED_BY -> FOUNDER_OF\n", out)
}

func TestMigrateUp_RejectsNegativeSteps(t *testing.T) {
	_, err := execute(t, "migrate", "up", "--steps", "-1")
	assert.EqualError(t, err, "--steps must not be negative")
}

func TestMigrateUp_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := execute(t, "migrate", "up")
	assert.EqualError(t, err, "DATABASE_URL is not set")
}
