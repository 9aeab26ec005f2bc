package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/campusdesk/campusdesk/pkg/config"
	"github.com/campusdesk/campusdesk/pkg/records"
)

// testConfig writes a config using a SQLite primary under a temp dir.
func testConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Storage.Backend = backend
	cfg.Telemetry.LogLevel = "disabled"
	cfg.CSV.BOM = false

	path := filepath.Join(dir, "desk.yaml")
	if err := cfg.Write(path); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

type result struct {
	out    string
	stderr string
	err    error
}

func runDesk(t *testing.T, cfgPath string, stdin string, args ...string) result {
	t.Helper()
	cmd, closeSession := newRootCommand("test", "none", "today")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))

	err := cmd.ExecuteContext(context.Background())
	if cerr := closeSession(context.Background()); cerr != nil {
		t.Fatalf("failed to close session: %v", cerr)
	}
	return result{out: out.String(), stderr: errOut.String(), err: err}
}

func mustRun(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	res := runDesk(t, cfgPath, "", args...)
	if res.err != nil {
		t.Fatalf("desk %s failed: %v", strings.Join(args, " "), res.err)
	}
	return res.out
}

func TestRecordLifecycle(t *testing.T) {
	cfg := testConfig(t, "sqlite")

	out := mustRun(t, cfg, "record", "add", "professors", "PROF001",
		"--set", "name=Kim Chulsoo", "--set", "department=Computer Engineering",
		"--set", "position=Professor", "--set", "office=Eng 410")
	if !strings.Contains(out, "Added professors record PROF001") {
		t.Errorf("unexpected add output: %q", out)
	}
	mustRun(t, cfg, "record", "add", "professors", "PROF002",
		"--set", "name=Lee Younghee", "--set", "department=Mathematics", "--set", "position=Lecturer")

	out = mustRun(t, cfg, "record", "get", "professors", "PROF001")
	for _, want := range []string{"Professor ID: PROF001\n", "Name: Kim Chulsoo\n", "Office: Eng 410\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Email:") {
		t.Error("empty fields must not be printed")
	}

	mustRun(t, cfg, "record", "update", "professors", "PROF001", "--set", "office=Eng 500")
	out = mustRun(t, cfg, "record", "get", "professors", "PROF001")
	if !strings.Contains(out, "Office: Eng 500\n") || !strings.Contains(out, "Name: Kim Chulsoo\n") {
		t.Errorf("update must merge fields:\n%s", out)
	}

	out = mustRun(t, cfg, "record", "list", "professors", "--where", "department=mathematics")
	if !strings.Contains(out, "PROF002 | Lee Younghee") || strings.Contains(out, "PROF001") {
		t.Errorf("unexpected filtered list:\n%s", out)
	}

	out = mustRun(t, cfg, "record", "list", "professors", "--sort", "name", "--desc", "--fields", "name")
	if i, j := strings.Index(out, "PROF002 | Lee Younghee"), strings.Index(out, "PROF001 | Kim Chulsoo"); i < 0 || j < 0 || i > j {
		t.Errorf("expected descending name order:\n%s", out)
	}
	if !strings.Contains(out, "2 record(s)") {
		t.Errorf("missing record count:\n%s", out)
	}

	out = mustRun(t, cfg, "record", "delete", "professors", "PROF002")
	if !strings.Contains(out, "Deleted professors record PROF002") {
		t.Errorf("unexpected delete output: %q", out)
	}
	res := runDesk(t, cfg, "", "record", "get", "professors", "PROF002")
	if ExitCode(res.err) != ExitNotFound {
		t.Errorf("expected not found after delete, got %v", res.err)
	}
}

func TestGeneratedKeyAndDefaults(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	mustRun(t, cfg, "record", "add", "students", "S001", "--set", "name=Kim", "--set", "class=1", "--set", "major=CS")

	res := runDesk(t, cfg, "", "--json", "record", "add", "counselings", "--set", "title=Course planning", "--set", "student_id=S001")
	if res.err != nil {
		t.Fatalf("add failed: %v", res.err)
	}
	var env struct {
		Success bool `json:"success"`
		Data    struct {
			Key    string            `json:"key"`
			Fields map[string]string `json:"fields"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(res.out), &env); err != nil {
		t.Fatalf("invalid JSON %q: %v", res.out, err)
	}
	if !env.Success || !strings.HasPrefix(env.Data.Key, "counseling-") {
		t.Errorf("expected generated counseling key, got %+v", env)
	}
	if env.Data.Fields["status"] != "pending" || env.Data.Fields["priority"] != "normal" {
		t.Errorf("expected defaults, got %v", env.Data.Fields)
	}
}

func TestScoreCommands(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	mustRun(t, cfg, "record", "add", "students", "S001", "--set", "name=Kim", "--set", "class=1", "--set", "major=CS")

	mustRun(t, cfg, "score", "add", "S001", "Math=80", "Science=90", "--at", "2024-03-01")
	mustRun(t, cfg, "score", "add", "S001", "Math=86", "--at", "2024-04-01")

	out := mustRun(t, cfg, "score", "average", "S001")
	if !strings.Contains(out, "Average: 88.0 (B+)") {
		t.Errorf("average must use the latest reading per subject:\n%s", out)
	}

	out = mustRun(t, cfg, "score", "history", "S001", "--subject", "Math")
	if strings.Count(out, "Math") != 2 || strings.Index(out, "86.0") > strings.Index(out, "80.0") {
		t.Errorf("expected both Math readings, newest first:\n%s", out)
	}

	out = mustRun(t, cfg, "score", "subject", "Math")
	if !strings.Contains(out, "Math average: 86.0") {
		t.Errorf("unexpected subject average: %q", out)
	}

	res := runDesk(t, cfg, "", "score", "add", "S001", "Math=101")
	if ExitCode(res.err) != ExitValidation {
		t.Errorf("expected validation error for out-of-range score, got %v", res.err)
	}
	res = runDesk(t, cfg, "", "score", "add", "S001", "Math")
	if ExitCode(res.err) != ExitUsage {
		t.Errorf("expected usage error for missing value, got %v", res.err)
	}
	res = runDesk(t, cfg, "", "score", "add", "S404", "Math=70")
	if ExitCode(res.err) != ExitValidation {
		t.Errorf("expected validation error for unknown student, got %v", res.err)
	}

	out = mustRun(t, cfg, "record", "delete", "students", "S001")
	if !strings.Contains(out, "score entries removed: 3") {
		t.Errorf("delete must cascade score history:\n%s", out)
	}
	out = mustRun(t, cfg, "score", "average", "S001")
	if !strings.Contains(out, "No scores recorded for S001") {
		t.Errorf("history must be gone after delete:\n%s", out)
	}
}

func TestCounselingCascade(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	mustRun(t, cfg, "record", "add", "counselings", "C1", "--set", "title=Plan", "--set", "student_id=S1")
	mustRun(t, cfg, "record", "add", "feedbacks", "F1", "--set", "counseling_id=C1", "--set", "content=ok")
	mustRun(t, cfg, "record", "add", "feedbacks", "F2", "--set", "counseling_id=C1", "--set", "content=again")
	mustRun(t, cfg, "record", "add", "feedbacks", "F3", "--set", "counseling_id=C9", "--set", "content=other")

	out := mustRun(t, cfg, "record", "delete", "counselings", "C1")
	if !strings.Contains(out, "feedbacks removed: 2") {
		t.Errorf("delete must cascade feedback:\n%s", out)
	}
	out = mustRun(t, cfg, "record", "list", "feedbacks")
	if !strings.Contains(out, "F3") || strings.Contains(out, "F1") {
		t.Errorf("unrelated feedback must survive:\n%s", out)
	}
}

func TestExitCodes(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	mustRun(t, cfg, "record", "add", "students", "S001", "--set", "name=Kim", "--set", "class=1", "--set", "major=CS")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"duplicate key", []string{"record", "add", "students", "S001", "--set", "name=X", "--set", "class=1", "--set", "major=CS"}, ExitDataErr},
		{"missing record", []string{"record", "get", "students", "S999"}, ExitNotFound},
		{"unknown collection", []string{"record", "list", "teachers"}, ExitValidation},
		{"missing required field", []string{"record", "add", "students", "S002", "--set", "name=Lee"}, ExitValidation},
		{"bad assignment", []string{"record", "add", "students", "S003", "--set", "name"}, ExitUsage},
		{"unknown flag", []string{"record", "list", "students", "--bogus"}, ExitUsage},
		{"wrong arg count", []string{"record", "get", "students"}, ExitUsage},
		{"empty update", []string{"record", "update", "students", "S001"}, ExitUsage},
		{"bad status", []string{"record", "add", "counselings", "C1", "--set", "title=T", "--set", "student_id=S001", "--set", "status=done"}, ExitValidation},
		{"unknown report", []string{"report", "grades"}, ExitValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runDesk(t, cfg, "", tc.args...)
			if got := ExitCode(res.err); got != tc.want {
				t.Errorf("expected exit code %d, got %d (%v)", tc.want, got, res.err)
			}
		})
	}
}

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{errors.New("boom"), ExitError},
		{records.NewInternalError("disk", nil), ExitError},
		{records.NewConnectivityError("down", nil), ExitError},
		{records.NewNotFoundError("students", "S1"), ExitNotFound},
		{records.NewDuplicateKeyError("students", "S1"), ExitDataErr},
		{records.NewPartialCascadeError("students", "S1", records.CascadeResult{}, errors.New("x")), ExitDataErr},
		{records.NewValidationError("bad"), ExitValidation},
		{records.NewCanceledError(context.Canceled), ExitError},
		{newUsageError("usage"), ExitUsage},
		{errors.Join(errors.New("a"), records.NewNotFoundError("students", "S1")), ExitNotFound},
	}
	for _, tc := range tests {
		if got := ExitCode(tc.err); got != tc.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestJSONError(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	cmd, closeSession := newRootCommand("test", "none", "today")
	defer closeSession(context.Background())

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfg, "--json", "record", "get", "students", "S1"})
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if err := writeJSONError(cmd, err); err != nil {
		t.Fatalf("writeJSONError failed: %v", err)
	}

	var env struct {
		Success bool `json:"success"`
		Error   struct {
			Code  int    `json:"code"`
			Class string `json:"class"`
			Key   string `json:"key"`
		} `json:"error"`
	}
	if err := json.Unmarshal(out.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if env.Success || env.Error.Code != ExitNotFound || env.Error.Class != "not_found" || env.Error.Key != "S1" {
		t.Errorf("unexpected error envelope: %+v", env)
	}
}

func TestStatus(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	mustRun(t, cfg, "record", "add", "students", "S001", "--set", "name=Kim", "--set", "class=1", "--set", "major=CS")
	mustRun(t, cfg, "score", "add", "S001", "Math=70")

	out := mustRun(t, cfg, "status")
	for _, want := range []string{"Mode: remote\n", "Backend: sqlite\n", "students         1 records, 1 scores\n", "professors       0 records\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	mem := testConfig(t, "memory")
	out = mustRun(t, mem, "status")
	if !strings.Contains(out, "Mode: local\n") || strings.Contains(out, "Warning") {
		t.Errorf("memory backend runs local without a warning:\n%s", out)
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "desk.toml")

	res := runDesk(t, path, "", "init", "--data-dir", filepath.Join(dir, "data"), "--backend", "bolt")
	if res.err != nil {
		t.Fatalf("init failed: %v", res.err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config must load: %v", err)
	}
	if cfg.Storage.Backend != "bolt" || cfg.DataDir != filepath.Join(dir, "data") {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if _, err := os.Stat(cfg.DataDir); err != nil {
		t.Errorf("data directory must exist: %v", err)
	}

	res = runDesk(t, path, "", "init")
	if ExitCode(res.err) != ExitUsage {
		t.Errorf("init over an existing config needs --force, got %v", res.err)
	}
	res = runDesk(t, path, "", "init", "--force", "--backend", "mongo")
	if ExitCode(res.err) != ExitUsage {
		t.Errorf("mongo without a URI must be rejected, got %v", res.err)
	}

	cfg.Telemetry.LogLevel = "disabled"
	if err := cfg.Write(path); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	out := mustRun(t, path, "status")
	if !strings.Contains(out, "Backend: bolt\n") {
		t.Errorf("unexpected status:\n%s", out)
	}
}

func TestCSVCommands(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	dir := t.TempDir()
	template := filepath.Join(dir, "professors.csv")

	mustRun(t, cfg, "csv", "template", "professors", template)
	out := mustRun(t, cfg, "csv", "import", "professors", template, "--dry-run")
	if !strings.Contains(out, "Dry run: 3 records would be imported") {
		t.Errorf("unexpected dry run:\n%s", out)
	}
	if out := mustRun(t, cfg, "record", "list", "professors"); !strings.Contains(out, "No records found") {
		t.Errorf("dry run must not import:\n%s", out)
	}

	out = mustRun(t, cfg, "csv", "import", "professors", template)
	if !strings.Contains(out, "Successfully imported: 3") {
		t.Errorf("unexpected import:\n%s", out)
	}

	res := runDesk(t, cfg, "", "csv", "import", "professors", template, "--strict")
	if ExitCode(res.err) != ExitValidation || !strings.Contains(res.out, "Duplicate IDs: 3") {
		t.Errorf("strict import of duplicates must fail: %v\n%s", res.err, res.out)
	}

	out = mustRun(t, cfg, "csv", "export", "professors", "--where", "department=Physics")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "Professor ID,Name") || !strings.HasPrefix(lines[1], "PROF003,Dr. Bob Johnson") {
		t.Errorf("unexpected export:\n%s", out)
	}
	if strings.HasPrefix(out, "\ufeff") {
		t.Error("config disables the BOM")
	}

	exported := filepath.Join(dir, "out", "all.csv")
	mustRun(t, cfg, "csv", "export", "professors", exported, "--bom")
	data, err := os.ReadFile(exported)
	if err != nil {
		t.Fatalf("export file missing: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\ufeff")) {
		t.Error("--bom must override the config")
	}
}

func TestReportCommand(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	out := mustRun(t, cfg, "report", "department")
	if out != "No professor data available\n" {
		t.Errorf("unexpected empty report: %q", out)
	}

	mustRun(t, cfg, "record", "add", "students", "S001", "--set", "name=Kim", "--set", "class=1", "--set", "major=CS")
	mustRun(t, cfg, "score", "add", "S001", "IoT Emb=91")
	out = mustRun(t, cfg, "report", "individual", "S001")
	if !strings.Contains(out, "IoT Emb        :   91.0 (A)") || !strings.Contains(out, "Capston Design :   No Score") {
		t.Errorf("unexpected individual report:\n%s", out)
	}

	res := runDesk(t, cfg, "", "report", "individual")
	if ExitCode(res.err) != ExitValidation {
		t.Errorf("individual report without a key must fail validation, got %v", res.err)
	}
}

func TestBackup(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	mustRun(t, cfg, "record", "add", "students", "S001", "--set", "name=Kim", "--set", "class=1", "--set", "major=CS")
	mustRun(t, cfg, "score", "add", "S001", "Math=70")

	dir := t.TempDir()
	snapshot := filepath.Join(dir, "snap.db")
	mustRun(t, cfg, "backup", "--out", snapshot)
	if info, err := os.Stat(snapshot); err != nil || info.Size() == 0 {
		t.Fatalf("snapshot missing: %v", err)
	}
	res := runDesk(t, cfg, "", "backup", "--out", snapshot)
	if ExitCode(res.err) != ExitUsage {
		t.Errorf("existing snapshot must not be overwritten, got %v", res.err)
	}

	dump := filepath.Join(dir, "dump")
	mustRun(t, cfg, "backup", "--format", "csv", "--out", dump)
	scores, err := os.ReadFile(filepath.Join(dump, "students-scores.csv"))
	if err != nil {
		t.Fatalf("score dump missing: %v", err)
	}
	if !strings.Contains(string(scores), "S001,Math,70,") {
		t.Errorf("unexpected score dump:\n%s", scores)
	}
	if _, err := os.Stat(filepath.Join(dump, "professors.csv")); err != nil {
		t.Errorf("every collection is dumped: %v", err)
	}

	mem := testConfig(t, "memory")
	res = runDesk(t, mem, "", "backup", "--format", "sqlite")
	if ExitCode(res.err) != ExitValidation {
		t.Errorf("sqlite backup from local storage must fail, got %v", res.err)
	}
}

func TestShell(t *testing.T) {
	cfg := testConfig(t, "memory")
	script := strings.Join([]string{
		`# local storage lives for the whole shell`,
		`record add students S001 --set name="Kim Minjun" --set class=1 --set major=CS`,
		`score add S001 "IoT Emb=90" "Capston Design=80"`,
		`desk score average S001`,
		`record get students S404`,
		`shell`,
		`record get students S001`,
		`exit`,
		`record get students S001`,
	}, "\n")

	res := runDesk(t, cfg, script, "shell")
	if res.err != nil {
		t.Fatalf("shell failed: %v", res.err)
	}
	if !strings.Contains(res.out, "Average: 85.0 (B+)") {
		t.Errorf("records must persist across shell lines:\n%s", res.out)
	}
	if strings.Count(res.out, "Name: Kim Minjun") != 1 {
		t.Errorf("quoted values must be kept and lines after exit ignored:\n%s", res.out)
	}
	if !strings.Contains(res.stderr, "[not_found]") || !strings.Contains(res.stderr, "already in a shell") {
		t.Errorf("errors must be reported and the loop continued:\n%s", res.stderr)
	}
}
