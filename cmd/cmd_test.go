package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/tierkit/internal/report"
	"github.com/abhisek/tierkit/internal/trend"
)

// resetFlags puts every flag of c and its children back to its default so
// rootCmd can be executed more than once in a test binary.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Setenv("TIERKIT_DB", filepath.Join(t.TempDir(), "unused.db"))

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeProjects(t *testing.T, values map[string]float64) string {
	t.Helper()
	var rows []map[string]any
	for id, v := range values {
		row := map[string]any{"record_id": id}
		for _, f := range []string{"spec_volatility", "verification_difficulty", "interdependence", "data_sensitivity", "supplier_power", "frequency_tempo"} {
			row[f] = v
		}
		rows = append(rows, row)
	}
	data, err := json.Marshal(rows)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "projects.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestParseConstants(t *testing.T) {
	got, err := parseConstants([]string{"housing_min_address_changes=3", " access_min_avoidable_ed_visits = 4.5 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"housing_min_address_changes": 3, "access_min_avoidable_ed_visits": 4.5}, got)

	got, err = parseConstants(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, bad := range []string{"novalue", "=3", "x=abc"} {
		_, err := parseConstants([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestClassify_JSONOutput(t *testing.T) {
	path := writeProjects(t, map[string]float64{"sepsis": 5, "chatbot": 1})

	stdout, _, err := execute(t, "classify", "coasean", path, "--format", "json")
	require.NoError(t, err)

	var doc report.Document
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Equal(t, "coasean", doc.Domain)
	assert.Equal(t, 2, doc.Total)
	assert.Equal(t, map[string]int{"STRONG_BUILD": 1, "STRONG_BUY": 1}, doc.TierCounts)
	assert.Empty(t, doc.RunID)
}

func TestClassify_FlagErrors(t *testing.T) {
	path := writeProjects(t, map[string]float64{"sepsis": 5})

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"csv with reconcile", []string{"classify", "sdoh", path, "--format", "csv", "--reconcile"}, "--reconcile-out"},
		{"stdin without format", []string{"classify", "coasean", "-"}, "--input-format"},
		{"bad format", []string{"classify", "coasean", path, "--format", "xml"}, "unknown output format"},
		{"bad set", []string{"classify", "coasean", path, "--set", "oops"}, "want name=value"},
		{"unknown domain", []string{"classify", "nope", path}, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

var savedRun = regexp.MustCompile(`saved run ([0-9a-f-]{36})`)

func TestClassify_SaveListAndDiff(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	_, stderr, err := execute(t, "--db", db, "classify", "coasean", writeProjects(t, map[string]float64{"sepsis": 3, "chatbot": 1}), "--format", "json", "--save")
	require.NoError(t, err)
	m := savedRun.FindStringSubmatch(stderr)
	require.Len(t, m, 2, stderr)
	base := m[1]

	_, stderr, err = execute(t, "--db", db, "classify", "coasean", writeProjects(t, map[string]float64{"sepsis": 5, "chatbot": 1}), "--format", "json", "--save")
	require.NoError(t, err)
	m = savedRun.FindStringSubmatch(stderr)
	require.Len(t, m, 2, stderr)
	head := m[1]

	stdout, _, err := execute(t, "--db", db, "runs", "list", "--domain", "coasean")
	require.NoError(t, err)
	assert.Contains(t, stdout, base[:8])
	assert.Contains(t, stdout, head[:8])

	stdout, _, err = execute(t, "--db", db, "runs", "diff", base[:8], head, "--json")
	require.NoError(t, err)
	var d trend.Diff
	require.NoError(t, json.Unmarshal([]byte(stdout), &d))
	require.Len(t, d.Moves, 1)
	assert.Equal(t, "sepsis", d.Moves[0].RecordID)
	assert.Equal(t, "STRONG_BUILD", d.Moves[0].ToTier)
	assert.Equal(t, 1, d.Stable)

	stdout, _, err = execute(t, "--db", db, "runs", "prune", "--domain", "coasean", "--keep", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Deleted 1 run(s)")

	_, _, err = execute(t, "--db", db, "runs", "show", base)
	assert.Error(t, err)
}

func TestDomainsList(t *testing.T) {
	stdout, _, err := execute(t, "domains", "list")
	require.NoError(t, err)
	for _, name := range []string{"authrisk", "buyvsbuild", "coasean", "goldcard", "sdoh", "friction", "readiness", "readmission", "vendor"} {
		assert.Contains(t, stdout, name)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "tierkit "+version+"\n", stdout)
}
