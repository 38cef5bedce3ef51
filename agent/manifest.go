package agent

import (
	"encoding/json"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/a2a"
)

// SkillSpec is one entry of the skill manifest. Prices are atomic token
// units; schemas are free-form YAML mappings carried into the card as
// JSON.
type SkillSpec struct {
	SkillID       string         `yaml:"skillId"`
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	PriceAmount   string         `yaml:"priceAmount"`
	PriceCurrency string         `yaml:"priceCurrency"`
	InputSchema   map[string]any `yaml:"inputSchema"`
	OutputSchema  map[string]any `yaml:"outputSchema"`
	EndpointPath  string         `yaml:"endpointPath"`
}

type manifest struct {
	Skills []SkillSpec `yaml:"skills"`
}

// LoadManifest reads a skill manifest file.
func LoadManifest(path string) ([]SkillSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInvalidArgument, "read skill manifest", err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(raw []byte) ([]SkillSpec, error) {
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInvalidArgument, "parse skill manifest", err)
	}
	if len(m.Skills) == 0 {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "skill manifest declares no skills")
	}
	seen := make(map[string]struct{}, len(m.Skills))
	for _, s := range m.Skills {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[s.SkillID]; dup {
			return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "duplicate skill id %q", s.SkillID)
		}
		seen[s.SkillID] = struct{}{}
	}
	return m.Skills, nil
}

func (s SkillSpec) validate() error {
	switch {
	case s.SkillID == "":
		return agentmesh.E(agentmesh.KindInvalidArgument, "skill without skillId")
	case s.Name == "":
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "skill %q without name", s.SkillID)
	case s.EndpointPath == "" || s.EndpointPath[0] != '/':
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "skill %q needs an absolute endpointPath", s.SkillID)
	case s.PriceCurrency == "":
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "skill %q without priceCurrency", s.SkillID)
	}
	if _, err := s.price(); err != nil {
		return err
	}
	return nil
}

func (s SkillSpec) price() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s.PriceAmount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "skill %q has price %q, want a non-negative integer", s.SkillID, s.PriceAmount)
	}
	return amount, nil
}

// cardSkill converts a manifest entry into its card representation.
func (s SkillSpec) cardSkill() (a2a.Skill, error) {
	skill := a2a.Skill{
		SkillID:       s.SkillID,
		Name:          s.Name,
		Description:   s.Description,
		PriceAmount:   s.PriceAmount,
		PriceCurrency: s.PriceCurrency,
		EndpointPath:  s.EndpointPath,
	}
	if len(s.InputSchema) > 0 {
		raw, err := json.Marshal(s.InputSchema)
		if err != nil {
			return a2a.Skill{}, agentmesh.Wrap(agentmesh.KindInvalidArgument, "skill "+s.SkillID+" inputSchema", err)
		}
		skill.InputSchema = raw
	}
	if len(s.OutputSchema) > 0 {
		raw, err := json.Marshal(s.OutputSchema)
		if err != nil {
			return a2a.Skill{}, agentmesh.Wrap(agentmesh.KindInvalidArgument, "skill "+s.SkillID+" outputSchema", err)
		}
		skill.OutputSchema = raw
	}
	return skill, nil
}
