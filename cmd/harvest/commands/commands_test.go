package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jmylchreest/refyne-harvest/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir()) // no stray .env

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "harvest ") {
		t.Errorf("output = %q", out)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("STATUS_API_SECRET", "s3cret")
	t.Setenv("LLM_PROVIDER", "openai")

	out, err := execute(t, "token", "--subject", "ops", "--scope", "run:read,run:cancel")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}

	v, _ := auth.NewVerifier("s3cret")
	claims, err := v.VerifyToken(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if diff := cmp.Diff([]string{auth.ScopeRead, auth.ScopeCancel}, claims.Scopes()); diff != "" {
		t.Errorf("scopes mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenCommand_NeedsSecret(t *testing.T) {
	t.Setenv("STATUS_API_SECRET", "")
	if _, err := execute(t, "token"); err == nil {
		t.Error("expected error without STATUS_API_SECRET")
	}
}

func TestReportCommand_RejectsUnknownFormat(t *testing.T) {
	if _, err := execute(t, "report", "--format", "pdf"); err == nil {
		t.Error("expected error for unknown format")
	}
}
