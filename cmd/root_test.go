package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag of cmd and its subcommands to its default.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command with args against a fresh store in a temp
// directory and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("ETFADVISOR_LOG_LEVEL", "error")
	if os.Getenv("ETFADVISOR_STORE_DATABASE_URL") == "" {
		t.Setenv("ETFADVISOR_STORE_DATABASE_URL", filepath.Join(t.TempDir(), "test.db"))
	}

	resetFlags(rootCmd)
	cfgFile = ""
	t.Cleanup(func() { cfgFile = "" })

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// writeFixtures writes a nine-instrument table and a three-client table.
func writeFixtures(t *testing.T) (instruments, clients string) {
	t.Helper()
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("ID,Category,Return 1Y,Return 3Y,Volatility,Expense Ratio,AUM,Sharpe 3Y\n")
	for i := 1; i <= 9; i++ {
		fmt.Fprintf(&b, "ETF%02d,%s,%d,%d,%d,%.2f,%d,%.1f\n",
			i, []string{"bonds", "equity", "commodities"}[(i-1)/3], i, i*2, i*3, 0.05*float64(10-i), 1000*(10-i), 0.1*float64(i%4))
	}
	// rejected: missing volatility
	b.WriteString("ETF99,equity,1,2,,0.1,100,0.2\n")
	instruments = filepath.Join(dir, "instruments.csv")
	require.NoError(t, os.WriteFile(instruments, []byte(b.String()), 0o644))

	clients = filepath.Join(dir, "clients.csv")
	require.NoError(t, os.WriteFile(clients, []byte(
		"id,age,annual_income,net_worth,horizon_years,risk_tolerance,periodic_contribution\n"+
			"C-1,30,50000,10000,30,high,300\n"+
			"C-2,60,80000,500000,3,1,100\n"+
			"C-3,45,60000,80000,10,Media,0\n"), 0o644))
	return instruments, clients
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"score", "allocate", "recommend", "project", "runs", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "etf-advisor", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "scored", "stats"} {
		assert.True(t, names[name], "expected runs subcommand %q not found", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
	require.NotNil(t, serveCmd.Flags().Lookup("reload-cron"))
}

func TestOutputFlags(t *testing.T) {
	for _, cmd := range []*cobra.Command{scoreCmd, allocateCmd, recommendCmd, projectCmd, runsScoredCmd} {
		for _, name := range []string{"format", "output", "lang"} {
			assert.NotNil(t, cmd.Flags().Lookup(name), "%s should have --%s", cmd.Name(), name)
		}
	}
	assert.Equal(t, "table", scoreCmd.Flags().Lookup("format").DefValue)
}

func TestInvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: mysql\n"), 0o644))

	_, _, err := execute(t, "allocate", "--config", path, "--clients", "x.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b ,"))
	assert.Nil(t, splitAndTrim(""))
}
