package shellscan

import (
	"testing"
)

func TestParseString_SplitsCompoundCommands(t *testing.T) {
	script := `#!/bin/sh
echo start
curl -o /tmp/x https://example.com/x && sudo sh /tmp/x
cat .env | grep KEY
`
	cmds, err := ParseString(script)
	if err != nil {
		t.Fatal(err)
	}

	want := []Command{
		{Line: 2, Text: "echo start"},
		{Line: 3, Text: "curl -o /tmp/x https://example.com/x"},
		{Line: 3, Text: "sudo sh /tmp/x"},
		{Line: 4, Text: "cat .env"},
		{Line: 4, Text: "grep KEY"},
	}
	if len(cmds) != len(want) {
		t.Fatalf("expected %d commands, got %d: %+v", len(want), len(cmds), cmds)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("command %d = %+v, want %+v", i, cmds[i], want[i])
		}
	}
}

func TestParseString_FindsNestedCommands(t *testing.T) {
	cmds, err := ParseString("cleanup() { rm -rf /tmp/build; }\necho $(whoami)\n")
	if err != nil {
		t.Fatal(err)
	}
	var texts []string
	for _, c := range cmds {
		texts = append(texts, c.Text)
	}
	found := map[string]bool{}
	for _, s := range texts {
		found[s] = true
	}
	for _, s := range []string{"rm -rf /tmp/build", "whoami"} {
		if !found[s] {
			t.Errorf("expected %q among %v", s, texts)
		}
	}
}

func TestParseString_SkipsBareAssignments(t *testing.T) {
	cmds, err := ParseString("FOO=bar\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 0 {
		t.Errorf("expected no commands, got %+v", cmds)
	}
}

func TestParseString_SyntaxError(t *testing.T) {
	if _, err := ParseString("if then fi ((("); err == nil {
		t.Error("expected parse error")
	}
}
