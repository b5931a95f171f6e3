package cli_test

import (
	"path/filepath"
	"testing"

	"github.com/calvinalkan/tablecache/internal/cli"
)

func Test_Invalid_Global_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--invalid-flag", "shell")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "--invalid-flag")

	cli.AssertContains(t, stderr, "Global flags:")
	cli.AssertContains(t, stderr, "--cwd")
	cli.AssertContains(t, stderr, "--config")
	cli.AssertContains(t, stderr, "--table-root")
	cli.AssertContains(t, stderr, "--scope")
}

func Test_Empty_Table_Root_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("--table-root=", "print-config")

	cli.AssertContains(t, stderr, "table_root cannot be empty")
	cli.AssertContains(t, stderr, "Global flags:")
}

func Test_Usage_Printed_When_No_Command_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun()

	cli.AssertContains(t, stdout, "Usage: tablecache")
	cli.AssertContains(t, stdout, "shell")
	cli.AssertContains(t, stdout, "print-config")
}

func Test_Unknown_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("frobnicate")

	cli.AssertContains(t, stderr, "unknown command: frobnicate")
}

func Test_Command_Help_When_Help_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("shell", "--help")

	cli.AssertContains(t, stdout, "Usage: tablecache shell [flags]")
	cli.AssertContains(t, stdout, "--no-history")
}

func Test_Create_And_Info_Round_Trip_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stdout := c.MustRun("create", "t1", "nested/t2")
	cli.AssertContains(t, stdout, "created t1 ("+c.TablePath("t1")+")")
	cli.AssertContains(t, stdout, "created t2 ("+c.TablePath(filepath.Join("nested", "t2"))+")")

	stdout = c.MustRun("info", "t1")
	cli.AssertContains(t, stdout, "name=t1")
	cli.AssertContains(t, stdout, "path="+c.TablePath("t1"))
	cli.AssertContains(t, stdout, "version=0")

	stderr := c.MustFail("create", "t1")
	cli.AssertContains(t, stderr, "table exists")
}

func Test_Info_Fails_When_Table_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("info", "ghost")

	cli.AssertContains(t, stderr, "no table")
}

func Test_Create_Resolves_Against_Table_Root_When_Flag_Set(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("--table-root", "tables", "create", "t1")

	cli.AssertContains(t, stdout, filepath.Join(c.Dir, "tables", "t1"))
}

func Test_Print_Config_Defaults_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "table_root="+c.Dir)
	cli.AssertContains(t, stdout, "scope=process-wide")
	cli.AssertContains(t, stdout, "lock_timeout=2s")
	cli.AssertContains(t, stdout, "create_missing=false")
	cli.AssertContains(t, stdout, "(defaults only)")
}

func Test_Print_Config_From_Config_File_With_Comments_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".tablecache.json", `{
		// per-thread by default here
		"scope": "thread",
		"table_root": "data",
	}`)
	c.WriteFile("data/.keep", "")

	stdout := c.MustRun("print-config")
	cli.AssertContains(t, stdout, "scope=per-thread")
	cli.AssertContains(t, stdout, "table_root="+filepath.Join(c.Dir, "data"))
	cli.AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, ".tablecache.json"))
}

func Test_Print_Config_Flags_Override_File_When_Both_Set(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("custom.json", `{"scope": "thread", "lock_timeout": "1s"}`)

	stdout := c.MustRun("-c", "custom.json", "--scope=process", "--log-level=debug", "print-config")
	cli.AssertContains(t, stdout, "scope=process-wide")
	cli.AssertContains(t, stdout, "lock_timeout=1s")
	cli.AssertContains(t, stdout, "log_level=DEBUG")
}

func Test_Print_Config_Warns_When_Table_Root_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, code := c.Run("--table-root", "missing", "print-config")

	if code != 1 {
		t.Fatalf("exit code = %d, want 1 for warning", code)
	}

	cli.AssertContains(t, stdout, "table_root="+filepath.Join(c.Dir, "missing"))
	cli.AssertContains(t, stderr, "warning: table root does not exist")
}

func Test_Command_Alias_Runs_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("create", "t1")

	cli.AssertContains(t, c.MustRun("stat", "t1"), "name=t1")
	cli.AssertContains(t, c.MustRun("config"), "scope=process-wide")
}

func Test_Command_Rejects_Argument_Count_When_Wrong(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stderr := c.MustFail("create")
	cli.AssertContains(t, stderr, "usage: tablecache create <table>... (missing arguments)")
	cli.AssertContains(t, stderr, "Usage: tablecache create")

	stderr = c.MustFail("print-config", "extra")
	cli.AssertContains(t, stderr, `unexpected argument "extra"`)
}
