package risk

import (
	"fmt"
	"strings"

	"github.com/accessguard/iga/internal/models"
)

// CurrentRuleVersion is recorded on every campaign so past campaigns stay
// reproducible against the rule table active at their creation time.
const CurrentRuleVersion = "v1"

// Rule matches substrings of the role name or policy name,
// case-insensitively. Rules are evaluated in slice order and the first
// match wins, so the most privileged markers must come first.
type Rule struct {
	Name    string
	Tier    models.RiskTier
	Markers []string
}

type Classifier struct {
	version string
	rules   []Rule
}

// New returns a classifier for the given rule version. Unknown versions
// are a configuration error: classifying against the wrong table would
// silently change past campaigns' meaning.
func New(version string) (*Classifier, error) {
	rules, ok := ruleTables[version]
	if !ok {
		return nil, fmt.Errorf("%w: unknown risk rule version %q", models.ErrConfiguration, version)
	}
	return &Classifier{version: version, rules: rules}, nil
}

// MustCurrent returns a classifier for CurrentRuleVersion.
func MustCurrent() *Classifier {
	c, err := New(CurrentRuleVersion)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Classifier) Version() string {
	return c.version
}

// Classify maps (roleName, policyName) to a risk tier. Pure, total and
// deterministic: no I/O, no randomness, no dependence on call order.
func (c *Classifier) Classify(roleName, policyName string) models.RiskTier {
	role := strings.ToLower(roleName)
	policy := strings.ToLower(policyName)

	for _, rule := range c.rules {
		for _, marker := range rule.Markers {
			if strings.Contains(role, marker) || strings.Contains(policy, marker) {
				return rule.Tier
			}
		}
	}
	return models.RiskLow
}

// ruleTables holds every rule version ever shipped. Existing versions are
// append-only: edits go into a new version key.
var ruleTables = map[string][]Rule{
	"v1": rulesV1(),
}

func rulesV1() []Rule {
	return []Rule{
		{
			Name: "FULL_ADMIN",
			Tier: models.RiskHigh,
			Markers: []string{
				"administratoraccess",
				"admin",
				"root",
				"break-glass",
				"breakglass",
				"iamfullaccess",
			},
		},
		{
			Name: "PRIVILEGED_SCOPED",
			Tier: models.RiskMedium,
			Markers: []string{
				"poweruser",
				"fullaccess",
				"write",
				"delete",
				"manage",
			},
		},
	}
}
