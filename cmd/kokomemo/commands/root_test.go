package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/florianilch/kokomemo/internal/apitest"
)

type harness struct {
	t    *testing.T
	base []string
}

func newCLI(t *testing.T) *harness {
	api := apitest.New(t)
	return &harness{t: t, base: []string{
		"kokomemo",
		"--api--base-url", api.BaseURL,
		"--credentials--storage", "file",
		"--credentials--file", filepath.Join(t.TempDir(), "credentials.json"),
		"--log-level", "error",
	}}
}

func (c *harness) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var stdout bytes.Buffer
	cmd := newRootCommand(strings.NewReader(stdin), &stdout)
	err := cmd.Run(context.Background(), append(append([]string{}, c.base...), args...))
	return stdout.String(), err
}

func TestSessionCommands(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("", "whoami")
	if err != nil || out != "Not logged in.\n" {
		t.Fatalf("whoami before login = %q, %v", out, err)
	}

	out, err = c.run("", "login", "--service", "google", "--token", "valid-assertion")
	if err != nil || out != "Hello, Alice!\n" {
		t.Fatalf("login = %q, %v", out, err)
	}

	out, err = c.run("", "whoami")
	if err != nil || out != "Alice <alice@example.com>\n" {
		t.Fatalf("whoami after login = %q, %v", out, err)
	}

	out, err = c.run("", "request", "get", "/walls")
	if err != nil || !strings.Contains(out, `"name":"Inbox"`) {
		t.Fatalf("request = %q, %v", out, err)
	}

	out, err = c.run("", "logout")
	if err != nil || out != "Logged out.\n" {
		t.Fatalf("logout = %q, %v", out, err)
	}

	out, err = c.run("", "whoami")
	if err != nil || out != "Not logged in.\n" {
		t.Fatalf("whoami after logout = %q, %v", out, err)
	}
}

func TestLoginReadsAssertionFromStdin(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("valid-assertion\n", "login")
	if err != nil || out != "Hello, Alice!\n" {
		t.Fatalf("login = %q, %v", out, err)
	}
}

func TestLoginRejectedAssertion(t *testing.T) {
	c := newCLI(t)

	if _, err := c.run("", "login", "--token", "forged"); err == nil {
		t.Fatal("login accepted a forged assertion")
	}
	out, err := c.run("", "whoami")
	if err != nil || out != "Not logged in.\n" {
		t.Fatalf("whoami = %q, %v", out, err)
	}
}

func TestRequestValidatesArguments(t *testing.T) {
	c := newCLI(t)

	if _, err := c.run("", "request", "GET"); err == nil {
		t.Error("request accepted a missing path")
	}
	if _, err := c.run("", "request", "POST", "/walls", "--data", "{not json"); err == nil {
		t.Error("request accepted invalid JSON")
	}
}

func TestRequestWithBody(t *testing.T) {
	c := newCLI(t)
	if _, err := c.run("", "login", "--token", "valid-assertion"); err != nil {
		t.Fatalf("login: %v", err)
	}

	out, err := c.run("", "request", "--data", `{"name":"Ideas"}`, "POST", "/walls")
	if err != nil || !strings.Contains(out, `"name":"Ideas"`) {
		t.Fatalf("request = %q, %v", out, err)
	}
}
