package dotenv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# local settings\n" +
		"VAI_RETELL_TEST_PROVIDER=openai\n" +
		"export VAI_RETELL_TEST_EXPORTED=ok\n" +
		"VAI_RETELL_TEST_EXISTING=from_file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("VAI_RETELL_TEST_EXISTING", "already_set")
	t.Setenv("VAI_RETELL_TEST_PROVIDER", "")
	os.Unsetenv("VAI_RETELL_TEST_PROVIDER")
	t.Setenv("VAI_RETELL_TEST_EXPORTED", "")
	os.Unsetenv("VAI_RETELL_TEST_EXPORTED")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if got := os.Getenv("VAI_RETELL_TEST_PROVIDER"); got != "openai" {
		t.Fatalf("provider=%q", got)
	}
	if got := os.Getenv("VAI_RETELL_TEST_EXPORTED"); got != "ok" {
		t.Fatalf("exported=%q", got)
	}
	if got := os.Getenv("VAI_RETELL_TEST_EXISTING"); got != "already_set" {
		t.Fatalf("existing=%q, want existing value preserved", got)
	}
}

func TestParse_ValueForms(t *testing.T) {
	input := strings.Join([]string{
		`BARE=plain value`,
		`COMMENTED=redis://localhost:6379 # local redis`,
		`HASH_IN_VALUE=abc#def`,
		`DOUBLE="hello\nworld \"quoted\""`,
		`SINGLE='raw \n stays'`,
		`EMPTY=`,
		`not an assignment`,
		`=missing_key`,
	}, "\n")

	entries, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Entry{
		{"BARE", "plain value"},
		{"COMMENTED", "redis://localhost:6379"},
		{"HASH_IN_VALUE", "abc#def"},
		{"DOUBLE", "hello\nworld \"quoted\""},
		{"SINGLE", `raw \n stays`},
		{"EMPTY", ""},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries=%+v", entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestParse_UnterminatedQuote(t *testing.T) {
	_, err := Parse(strings.NewReader("OK=1\nBAD=\"open\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("err=%v", err)
	}
}
