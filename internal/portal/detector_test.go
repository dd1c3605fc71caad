package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/browser/browsertest"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		selector  string
		body      string
		want      Kind
		wantLogin bool
	}{
		{name: "clean page", title: "Historia clínica", body: "paciente juan", want: KindNone},
		{name: "cloudflare title", title: "Just a moment...", want: KindBotCheck},
		{name: "interstitial selector", title: "Portal", selector: "#cf-browser-verification", want: KindBotCheck},
		{name: "gateway error", title: "502 Bad Gateway", want: KindServerError},
		{name: "expired message", title: "Portal", body: "su sesión ha expirado, ingrese de nuevo", want: KindSessionExpired, wantLogin: true},
		{name: "portal-specific message", title: "Portal", body: "token vencido", want: KindSessionExpired, wantLogin: true},
		{name: "login form", title: "Ingreso", selector: "#password", want: KindLoginForm, wantLogin: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage("https://portal.test/app")
			page.TitleValue = tt.title
			if tt.selector != "" {
				page.Add(browsertest.CSS(tt.selector), &browsertest.Element{})
			}
			page.EvalFunc = func(string, ...any) (any, error) { return tt.body, nil }

			det := NewDetector("#password", "Token vencido").Detect(context.Background(), page)

			if det.Kind != tt.want {
				t.Errorf("Kind = %s, want %s (match %q)", det.Kind, tt.want, det.Match)
			}
			if det.NeedsLogin() != tt.wantLogin {
				t.Errorf("NeedsLogin() = %v, want %v", det.NeedsLogin(), tt.wantLogin)
			}
		})
	}
}

func TestWaitForClear(t *testing.T) {
	page := browsertest.NewPage("")
	page.TitleValue = "Just a moment..."
	page.EvalFunc = func(string, ...any) (any, error) { return "", nil }

	go func() {
		time.Sleep(100 * time.Millisecond)
		page.SetTitle("Portal")
	}()

	det, err := NewDetector("").WaitForClear(context.Background(), page, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForClear() error = %v", err)
	}
	if det.Kind != KindNone {
		t.Errorf("Kind = %s, want none", det.Kind)
	}
}

func TestWaitForClear_Timeout(t *testing.T) {
	page := browsertest.NewPage("")
	page.TitleValue = "Checking your browser"

	det, err := NewDetector("").WaitForClear(context.Background(), page, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if det.Kind != KindBotCheck {
		t.Errorf("Kind = %s, want bot_check", det.Kind)
	}
}

func TestWaitForClear_ReturnsManualKinds(t *testing.T) {
	page := browsertest.NewPage("")
	page.TitleValue = "503 Service Unavailable"

	det, err := NewDetector("").WaitForClear(context.Background(), page, time.Second)
	if err != nil {
		t.Fatalf("WaitForClear() error = %v", err)
	}
	if det.Kind != KindServerError {
		t.Errorf("Kind = %s, want server_error", det.Kind)
	}
}
