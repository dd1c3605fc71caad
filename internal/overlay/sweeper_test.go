package overlay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jmylchreest/refyne-harvest/internal/browser"
	"github.com/jmylchreest/refyne-harvest/internal/browser/browsertest"
	"github.com/jmylchreest/refyne-harvest/internal/logging"
)

func newTestSweeper(extra ...string) *Sweeper {
	s := NewSweeper(logging.Discard(), extra...)
	s.settle = 0
	return s
}

func TestSweep_ClicksRecipeSelectorFirst(t *testing.T) {
	page := browsertest.NewPage("")
	page.EvalFunc = func(string, ...any) (any, error) { return false, nil }
	custom := &browsertest.Element{}
	page.Add(browsertest.CSS("#avisoModal .btn-close"), custom)

	if !newTestSweeper("#avisoModal .btn-close").Sweep(context.Background(), page) {
		t.Fatal("Sweep() = false, want true")
	}
	if custom.Clicks != 1 {
		t.Errorf("clicks = %d, want 1", custom.Clicks)
	}
	if page.Escapes != 1 {
		t.Errorf("escapes = %d, want 1", page.Escapes)
	}
}

func TestSweep_ScriptClickWhenNativeIntercepted(t *testing.T) {
	page := browsertest.NewPage("")
	page.EvalFunc = func(string, ...any) (any, error) { return false, nil }
	btn := &browsertest.Element{ClickErrs: []error{browser.ErrIntercepted}}
	page.Add(browsertest.CSS(`.swal2-container .swal2-confirm`), btn)

	if !newTestSweeper().Sweep(context.Background(), page) {
		t.Fatal("Sweep() = false, want true")
	}
	if btn.ScriptClicks != 1 {
		t.Errorf("script clicks = %d, want 1", btn.ScriptClicks)
	}
}

func TestSweep_TextFallback(t *testing.T) {
	page := browsertest.NewPage("")
	var tried []string
	page.EvalFunc = func(js string, args ...any) (any, error) {
		if len(args) == 1 {
			text := args[0].(string)
			tried = append(tried, text)
			return text == "Entendido", nil
		}
		return false, nil
	}

	if !newTestSweeper().Sweep(context.Background(), page) {
		t.Fatal("Sweep() = false, want true")
	}
	if got := strings.Join(tried, ","); got != "Aceptar,Aceptar todo,Entendido" {
		t.Errorf("texts tried = %s", got)
	}
}

func TestSweep_BackdropRemoval(t *testing.T) {
	page := browsertest.NewPage("")
	page.EvalFunc = func(js string, args ...any) (any, error) {
		return strings.Contains(js, "modal-backdrop"), nil
	}

	if !newTestSweeper().Sweep(context.Background(), page) {
		t.Error("Sweep() = false, want true after removing backdrop")
	}
}

func TestSweep_NothingToClear(t *testing.T) {
	page := browsertest.NewPage("")
	page.EvalFunc = func(string, ...any) (any, error) { return nil, errors.New("no page") }

	if newTestSweeper().Sweep(context.Background(), page) {
		t.Error("Sweep() = true on a clean page")
	}
}
