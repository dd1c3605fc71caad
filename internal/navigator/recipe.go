package navigator

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jmylchreest/refyne-harvest/internal/action"
	"github.com/jmylchreest/refyne-harvest/internal/config"
	"github.com/jmylchreest/refyne-harvest/internal/locator"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

// StepDef is one recipe action.
type StepDef struct {
	Action   string        `json:"action" yaml:"action"`
	Target   []locator.Def `json:"target" yaml:"target"`
	Value    string        `json:"value,omitempty" yaml:"value,omitempty"`
	OpensTab bool          `json:"opens_tab,omitempty" yaml:"opens_tab,omitempty"`
}

// CaptchaDef describes the login captcha.
type CaptchaDef struct {
	Image     []locator.Def `json:"image,omitempty" yaml:"image,omitempty"`
	Input     []locator.Def `json:"input,omitempty" yaml:"input,omitempty"`
	ErrorText string        `json:"error_text,omitempty" yaml:"error_text,omitempty"`
	Numeric   *bool         `json:"numeric,omitempty" yaml:"numeric,omitempty"`
	MinLen    int           `json:"min_len,omitempty" yaml:"min_len,omitempty"`
	MaxLen    int           `json:"max_len,omitempty" yaml:"max_len,omitempty"`
}

// RecipeDef is the file form of a portal recipe.
type RecipeDef struct {
	Name     string `json:"name" yaml:"name"`
	LoginURL string `json:"login_url" yaml:"login_url"`
	ListURL  string `json:"list_url" yaml:"list_url"`

	Username   []locator.Def `json:"username" yaml:"username"`
	Password   []locator.Def `json:"password" yaml:"password"`
	Submit     []locator.Def `json:"submit" yaml:"submit"`
	LoginError []locator.Def `json:"login_error,omitempty" yaml:"login_error,omitempty"`
	Landing    []locator.Def `json:"landing" yaml:"landing"`
	Captcha    CaptchaDef    `json:"captcha,omitempty" yaml:"captcha,omitempty"`

	// Rows is a CSS selector matching every subject row on the list page.
	Rows string `json:"rows" yaml:"rows"`
	// Row locates the i-th row (1-based) through the "{index}" placeholder.
	Row []locator.Def `json:"row" yaml:"row"`

	TargetSteps []StepDef `json:"target_steps" yaml:"target_steps"`
	BackSteps   []StepDef `json:"back_steps,omitempty" yaml:"back_steps,omitempty"`

	ContentSelector  string        `json:"content_selector,omitempty" yaml:"content_selector,omitempty"`
	NextPage         []locator.Def `json:"next_page,omitempty" yaml:"next_page,omitempty"`
	OverlaySelectors []string      `json:"overlay_selectors,omitempty" yaml:"overlay_selectors,omitempty"`
	ExpiredTexts     []string      `json:"expired_texts,omitempty" yaml:"expired_texts,omitempty"`
	// LoginProbe is a CSS selector present only on the login form.
	LoginProbe string `json:"login_probe,omitempty" yaml:"login_probe,omitempty"`

	Schema *schema.Def `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Step is a compiled recipe action.
type Step struct {
	Action   action.Action
	OpensTab bool
}

// Recipe is a compiled RecipeDef.
type Recipe struct {
	Name     string
	LoginURL string
	ListURL  string

	Username   locator.Spec
	Password   locator.Spec
	Submit     locator.Spec
	LoginError locator.Spec
	Landing    locator.Spec

	CaptchaImage     locator.Spec
	CaptchaInput     locator.Spec
	CaptchaErrorText string
	CaptchaNumeric   bool
	CaptchaMinLen    int
	CaptchaMaxLen    int

	Rows string
	Row  locator.Spec

	TargetSteps []Step
	BackSteps   []Step

	ContentSelector  string
	NextPage         locator.Spec
	OverlaySelectors []string
	ExpiredTexts     []string
	LoginProbe       string

	Schema *schema.Schema
}

// HasCaptcha reports whether the login form shows a captcha.
func (r *Recipe) HasCaptcha() bool {
	return !r.CaptchaImage.Empty() && !r.CaptchaInput.Empty()
}

// RowTarget returns the locator for the row at 0-based index i.
func (r *Recipe) RowTarget(i int) locator.Spec {
	return r.Row.Bind("index", strconv.Itoa(i+1))
}

// ErrInvalidRecipe is returned for recipes missing required parts.
var ErrInvalidRecipe = errors.New("invalid recipe")

// LoadRecipe reads and compiles a recipe file.
func LoadRecipe(path string) (*Recipe, error) {
	def, err := config.ReadFile[RecipeDef](path)
	if err != nil {
		return nil, err
	}
	r, err := def.Compile()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Compile validates d and builds its locators and steps.
func (d RecipeDef) Compile() (*Recipe, error) {
	var missing []string
	if d.LoginURL == "" {
		missing = append(missing, "login_url")
	}
	if d.ListURL == "" {
		missing = append(missing, "list_url")
	}
	if d.Rows == "" {
		missing = append(missing, "rows")
	}
	for name, defs := range map[string][]locator.Def{
		"username": d.Username, "password": d.Password, "submit": d.Submit,
		"landing": d.Landing, "row": d.Row,
	} {
		if len(defs) == 0 {
			missing = append(missing, name)
		}
	}
	if len(d.TargetSteps) == 0 {
		missing = append(missing, "target_steps")
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidRecipe, strings.Join(missing, ", "))
	}

	r := &Recipe{
		Name:             d.Name,
		LoginURL:         d.LoginURL,
		ListURL:          d.ListURL,
		CaptchaErrorText: strings.ToLower(strings.TrimSpace(d.Captcha.ErrorText)),
		CaptchaNumeric:   d.Captcha.Numeric == nil || *d.Captcha.Numeric,
		CaptchaMinLen:    d.Captcha.MinLen,
		CaptchaMaxLen:    d.Captcha.MaxLen,
		Rows:             d.Rows,
		ContentSelector:  d.ContentSelector,
		OverlaySelectors: d.OverlaySelectors,
		ExpiredTexts:     d.ExpiredTexts,
		LoginProbe:       d.LoginProbe,
	}
	if r.CaptchaErrorText == "" {
		r.CaptchaErrorText = "captcha"
	}

	specs := []struct {
		dst  *locator.Spec
		name string
		defs []locator.Def
	}{
		{&r.Username, "username", d.Username},
		{&r.Password, "password", d.Password},
		{&r.Submit, "submit", d.Submit},
		{&r.LoginError, "login_error", d.LoginError},
		{&r.Landing, "landing", d.Landing},
		{&r.CaptchaImage, "captcha.image", d.Captcha.Image},
		{&r.CaptchaInput, "captcha.input", d.Captcha.Input},
		{&r.Row, "row", d.Row},
		{&r.NextPage, "next_page", d.NextPage},
	}
	for _, s := range specs {
		spec, err := locator.FromDefs(s.name, s.defs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
		}
		*s.dst = spec
	}

	var err error
	if r.TargetSteps, err = compileSteps("target_steps", d.TargetSteps); err != nil {
		return nil, err
	}
	if r.BackSteps, err = compileSteps("back_steps", d.BackSteps); err != nil {
		return nil, err
	}

	if d.Schema != nil {
		if r.Schema, err = schema.FromDef(*d.Schema); err != nil {
			return nil, fmt.Errorf("%w: schema: %v", ErrInvalidRecipe, err)
		}
	}
	return r, nil
}

func compileSteps(name string, defs []StepDef) ([]Step, error) {
	steps := make([]Step, 0, len(defs))
	for i, sd := range defs {
		kind, err := action.ParseKind(sd.Action)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrInvalidRecipe, name, i, err)
		}
		target, err := locator.FromDefs(fmt.Sprintf("%s[%d]", name, i), sd.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
		}
		if target.Empty() {
			return nil, fmt.Errorf("%w: %s[%d]: no target", ErrInvalidRecipe, name, i)
		}
		steps = append(steps, Step{
			Action:   action.Action{Kind: kind, Target: target, Value: sd.Value},
			OpensTab: sd.OpensTab,
		})
	}
	return steps, nil
}
