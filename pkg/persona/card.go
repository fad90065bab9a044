package persona

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

const (
	CardSpec        = "chara_card_v2"
	CardSpecVersion = "2.0"
)

// Card is a character card in the chara_card_v2 format.
type Card struct {
	Spec        string        `json:"spec"`
	SpecVersion string        `json:"spec_version"`
	Data        CharacterData `json:"data"`
}

var _ Persona = (*Card)(nil)

type Extensions map[string]interface{}

type CharacterData struct {
	Name                    string         `json:"name"`
	Description             string         `json:"description"`
	Personality             string         `json:"personality"`
	Scenario                string         `json:"scenario"`
	FirstMes                string         `json:"first_mes"`
	MesExample              string         `json:"mes_example"`
	CreatorNotes            string         `json:"creator_notes"`
	SystemPrompt            string         `json:"system_prompt"`
	PostHistoryInstructions string         `json:"post_history_instructions"`
	AlternateGreetings      []string       `json:"alternate_greetings"`
	Tags                    []string       `json:"tags"`
	Creator                 string         `json:"creator"`
	CharacterVersion        string         `json:"character_version"`
	Extensions              Extensions     `json:"extensions"`
	CharacterBook           *CharacterBook `json:"character_book,omitempty"`
}

// CharacterBook is the lorebook attached to a card.
type CharacterBook struct {
	Name              *string    `json:"name,omitempty"`
	Description       *string    `json:"description,omitempty"`
	ScanDepth         *int       `json:"scan_depth,omitempty"`
	TokenBudget       *int       `json:"token_budget,omitempty"`
	RecursiveScanning *bool      `json:"recursive_scanning,omitempty"`
	Extensions        Extensions `json:"extensions"`
	Entries           []Entry    `json:"entries"`
}

type Entry struct {
	Keys           []string   `json:"keys"`
	Content        string     `json:"content"`
	Extensions     Extensions `json:"extensions"`
	Enabled        bool       `json:"enabled"`
	InsertionOrder int        `json:"insertion_order"`
	CaseSensitive  *bool      `json:"case_sensitive,omitempty"`
	Name           *string    `json:"name,omitempty"`
	Priority       *int       `json:"priority,omitempty"`
	ID             *int       `json:"id,omitempty"`
	Comment        *string    `json:"comment,omitempty"`
	Selective      *bool      `json:"selective,omitempty"`
	SecondaryKeys  []string   `json:"secondary_keys,omitempty"`
	Constant       *bool      `json:"constant,omitempty"`
	Position       *string    `json:"position,omitempty"`
}

// NewBasicCard creates a card with only a name and a description.
func NewBasicCard(name, description string) *Card {
	return &Card{
		Spec:        CardSpec,
		SpecVersion: CardSpecVersion,
		Data: CharacterData{
			Name:               name,
			Description:        description,
			AlternateGreetings: []string{},
			Tags:               []string{},
			Extensions:         Extensions{},
		},
	}
}

func LoadCardFromJSON(data []byte) (*Card, error) {
	ret := &Card{}
	if err := json.Unmarshal(data, ret); err != nil {
		return nil, errors.Wrap(err, "could not parse character card")
	}
	if ret.Spec != CardSpec {
		return nil, errors.Errorf("unsupported card spec %q", ret.Spec)
	}
	if ret.Data.Name == "" {
		return nil, errors.New("character card has no name")
	}
	return ret, nil
}

func (c *Card) Name() string {
	return c.Data.Name
}

// Greetings returns the first message followed by the alternate greetings.
func (c *Card) Greetings(partner string) []string {
	greetings := append([]string{c.Data.FirstMes}, c.Data.AlternateGreetings...)
	ret := make([]string, 0, len(greetings))
	for _, g := range greetings {
		ret = append(ret, ReplaceNames(g, c.Data.Name, partner))
	}
	return ret
}

// SystemPrompt joins the card's system prompt, description, scenario and
// example messages, skipping empty ones.
func (c *Card) SystemPrompt(partner string) string {
	parts := []string{}
	for _, p := range []string{
		c.Data.SystemPrompt,
		c.Data.Description,
		c.Data.Scenario,
		c.Data.MesExample,
	} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return ReplaceNames(strings.Join(parts, "\n"), c.Data.Name, partner)
}
