package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios(t *testing.T) {
	files, err := FindScenarios("testdata", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join("testdata", "invalid", "broken.yml"),
		filepath.Join("testdata", "invalid", "failing.yaml"),
		filepath.Join("testdata", "scenarios", "member_lifecycle.yaml"),
		filepath.Join("testdata", "scenarios", "rejected_mutations.yaml"),
	}, files)

	files, err = FindScenarios("testdata/scenarios", "member_*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("testdata", "scenarios", "member_lifecycle.yaml")}, files)

	_, err = FindScenarios("testdata", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestRunSuite(t *testing.T) {
	files, err := FindScenarios("testdata", "")
	require.NoError(t, err)

	res, err := RunSuite(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Passed)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Failures, 2)

	byPath := map[string]string{}
	for _, f := range res.Failures {
		byPath[filepath.Base(f.Path)] = f.Error
	}
	assert.Contains(t, byPath["broken.yml"], "failed to load scenario")
	assert.Contains(t, byPath["failing.yaml"], "rows mismatch")
}

func TestRunSuite_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := RunSuite(ctx, []string{"testdata/scenarios/member_lifecycle.yaml"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Total)
}
