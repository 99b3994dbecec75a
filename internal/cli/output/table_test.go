package output

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTableFormatter_Table(t *testing.T) {
	table := &Table{
		Headers: []string{"NAME", "VALUE"},
		Rows: [][]string{
			{"key1", "value1"},
			{"key2", "value2"},
		},
	}

	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, table); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "key1") {
		t.Errorf("Format() = %q", out)
	}

	buf.Reset()
	if err := (&TableFormatter{NoHeaders: true}).Format(&buf, *table); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if strings.Contains(buf.String(), "NAME") {
		t.Error("headers rendered with NoHeaders")
	}
}

func TestTableFormatter_Map(t *testing.T) {
	data := map[string]any{
		"rpc": map[string]any{
			"http": map[string]any{"enabled": false, "addr": ":8545"},
		},
		"network": map[string]any{"seeds": []string{"a:1", "b:2"}},
		"shutdown": map[string]any{
			"release_timeout": time.Minute,
		},
		"chain": map[string]any{"test_chain_path": ""},
	}

	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []struct{ key, value string }{
		{"KEY", "VALUE"},
		{"chain.test_chain_path", "-"},
		{"network.seeds", "a:1,b:2"},
		{"rpc.http.addr", ":8545"},
		{"rpc.http.enabled", "false"},
		{"shutdown.release_timeout", "1m0s"},
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), buf.String())
	}
	for i, w := range want {
		fields := strings.Fields(lines[i])
		if len(fields) != 2 || fields[0] != w.key || fields[1] != w.value {
			t.Errorf("line %d = %q, want %s %s", i, lines[i], w.key, w.value)
		}
	}
}

func TestTableFormatter_Scalar(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, "v1.2.3"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "v1.2.3") {
		t.Errorf("Format() = %q", buf.String())
	}

	buf.Reset()
	if err := (&TableFormatter{}).Format(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("Format(nil) wrote %q", buf.String())
	}
}

func TestTable_AddRowAndHeaders(t *testing.T) {
	var table Table
	table.SetHeaders("A", "B")
	table.AddRow("1", "2")

	var buf bytes.Buffer
	if err := table.Render(&buf); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); !strings.HasPrefix(got, "A") || !strings.Contains(got, "1  2") {
		t.Errorf("Render() = %q", got)
	}
}
