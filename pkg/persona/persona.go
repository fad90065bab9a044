// Package persona provides the participants of a chat: the user's persona
// and the character the user talks to.
package persona

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
)

// Persona is the capability the chat needs from a participant. partner is
// the name of the other participant, empty when not known.
type Persona interface {
	Name() string
	Greetings(partner string) []string
	SystemPrompt(partner string) string
}

type Kind string

const (
	KindBasic Kind = "basic"
	KindCard  Kind = "card"
)

const (
	DefaultUserName        = "User"
	DefaultCharacterName   = "Luna"
	DefaultCharacterPrompt = "You are Luna, an helpfull AI assistant."
)

// Profile is a persona together with where it was loaded from.
type Profile struct {
	Persona
	Kind         Kind
	Path         string
	ModifiedTime time.Time
}

func DefaultUser() *Profile {
	return &Profile{
		Persona:      NewBasic(DefaultUserName, ""),
		Kind:         KindBasic,
		ModifiedTime: time.Now(),
	}
}

func DefaultCharacter() *Profile {
	return &Profile{
		Persona:      NewBasic(DefaultCharacterName, DefaultCharacterPrompt),
		Kind:         KindBasic,
		ModifiedTime: time.Now(),
	}
}

// Touch marks the profile as used now, so that it is picked by MostRecent.
func (p *Profile) Touch() error {
	p.ModifiedTime = time.Now()
	if p.Path == "" {
		return nil
	}
	return Touch(p.Path)
}

// ReplaceNames renders the {{char}} and {{user}} macros of s. Texts are
// rendered as templates with the hermetic sprig functions available, so
// that `{{char | upper}}` works as well. Functions reading the environment,
// the clock or randomness are not available. {{user}} is kept verbatim
// when partner is empty. Texts that are not valid templates, for example because they
// use macros of other frontends, fall back to plain substitution.
func ReplaceNames(s string, self string, partner string) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	user := func() string {
		if partner == "" {
			return "{{user}}"
		}
		return partner
	}

	t, err := template.New("persona").
		Funcs(sprig.HermeticTxtFuncMap()).
		Funcs(template.FuncMap{
			"char": func() string { return self },
			"user": user,
		}).
		Parse(s)
	if err == nil {
		buf := &bytes.Buffer{}
		if err = t.Execute(buf, nil); err == nil {
			return buf.String()
		}
	}

	ret := strings.ReplaceAll(s, "{{char}}", self)
	if partner != "" {
		ret = strings.ReplaceAll(ret, "{{user}}", partner)
	}
	return ret
}
