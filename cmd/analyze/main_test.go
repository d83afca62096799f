package main

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const sampleCSV = "../../testdata/transactions.csv"

func runAnalyze(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAll(t *testing.T) {
	out, err := runAnalyze(t, "all", "--file", sampleCSV, "--iterations", "200")
	require.NoError(t, err)

	var analysis domain.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &analysis))
	require.NotNil(t, analysis.Risk)
	require.NotNil(t, analysis.Forecast)
	require.NotNil(t, analysis.Simulation)
	require.NotNil(t, analysis.Anomalies)

	assert.Len(t, analysis.Risk.Components, 5)
	assert.Len(t, analysis.Risk.Rules, 5)
	assert.Len(t, analysis.Forecast.Horizons, 3)
	assert.Equal(t, 200, analysis.Simulation.Iterations)
	assert.NotEmpty(t, analysis.Fingerprint)
}

func TestForecastHorizons(t *testing.T) {
	out, err := runAnalyze(t, "forecast", "-f", sampleCSV, "--horizons", "90,30")
	require.NoError(t, err)

	var result domain.ForecastResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Horizons, 2)
	assert.Equal(t, 90, result.Horizons[0].HorizonDays)
	assert.Equal(t, 30, result.Horizons[1].HorizonDays)
	assert.Equal(t, 3, result.Metadata.HistoricPoints, "three months of history")
}

func TestSimulateDeterministic(t *testing.T) {
	first, err := runAnalyze(t, "simulate", "-f", sampleCSV, "--iterations", "300", "--seed", "7")
	require.NoError(t, err)
	second, err := runAnalyze(t, "simulate", "-f", sampleCSV, "--iterations", "300", "--seed", "7")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var result domain.SimulationResult
	require.NoError(t, json.Unmarshal([]byte(first), &result))
	assert.Equal(t, uint64(7), result.Seed)
	assert.Equal(t, 300, result.Iterations)
}

func TestRiskAndAnomalies(t *testing.T) {
	out, err := runAnalyze(t, "risk", "-f", sampleCSV)
	require.NoError(t, err)
	assert.Contains(t, out, `"survival_probability"`)
	assert.Contains(t, out, "AI Risk Narrative:")

	out, err = runAnalyze(t, "anomalies", "-f", sampleCSV)
	require.NoError(t, err)
	assert.Contains(t, out, `"flags"`)
	assert.Contains(t, out, `"spending_spikes"`)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"MissingFile", []string{"risk"}},
		{"UnreadableFile", []string{"risk", "-f", "does-not-exist.csv"}},
		{"BadHorizon", []string{"forecast", "-f", sampleCSV, "--horizons", "0"}},
		{"HorizonAboveLimit", []string{"forecast", "-f", sampleCSV, "--horizons", "30,100000"}},
		{"IterationsAboveLimit", []string{"simulate", "-f", sampleCSV, "--iterations", "1000001"}},
		{"BadOverdueReference", []string{"risk", "-f", sampleCSV, "--overdue-reference", "yesterday"}},
		{"BadNarrator", []string{"risk", "-f", sampleCSV, "--narrator", "oracle"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runAnalyze(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
