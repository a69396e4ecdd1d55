// Package capability estimates whether a repository's configuration gives
// releases immutable-release protection. Assessment is pure: the repository
// context must already be resolved by the caller.
package capability

import (
	"sort"
	"strings"

	"github.com/davidahmann/retain/core/schema/v1/upstream"
)

type Level string

const (
	LevelUnsupported Level = "unsupported"
	LevelSupported   Level = "supported"
	LevelLikely      Level = "likely"
)

func (l Level) rank() int {
	switch l {
	case LevelLikely:
		return 2
	case LevelSupported:
		return 1
	default:
		return 0
	}
}

// Max returns the higher-confidence level.
func Max(a, b Level) Level {
	if b.rank() > a.rank() {
		return b
	}
	if a.rank() == 0 {
		return LevelUnsupported
	}
	return a
}

func (l Level) ImmutableReleasesEnabled() bool {
	return l.rank() > 0
}

type OwnerKind string

const (
	OwnerUser         OwnerKind = "User"
	OwnerOrganization OwnerKind = "Organization"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

// Security feature flags as reported by repository metadata.
const (
	FeatureSecretScanning               = "secret_scanning"
	FeatureSecretScanningPushProtection = "secret_scanning_push_protection"
	FeatureAdvancedSecurity             = "advanced_security"
	FeatureDependabotSecurityUpdates    = "dependabot_security_updates"
)

// Reasons recorded in an Assessment.
const (
	ReasonSecretScanning = "secret scanning enabled"
	ReasonPushProtection = "secret scanning push protection enabled"
	ReasonOrganization   = "organization-owned repository"
	ReasonPublic         = "public repository"
	ReasonUserOwned      = "user-owned repository"
)

type RepositoryContext struct {
	OwnerKind  OwnerKind
	Visibility Visibility
	features   map[string]struct{}
}

// NewRepositoryContext copies features so the context cannot be changed
// after construction.
func NewRepositoryContext(owner OwnerKind, visibility Visibility, features ...string) RepositoryContext {
	set := make(map[string]struct{}, len(features))
	for _, feature := range features {
		feature = strings.TrimSpace(feature)
		if feature != "" {
			set[feature] = struct{}{}
		}
	}
	return RepositoryContext{OwnerKind: owner, Visibility: visibility, features: set}
}

func (c RepositoryContext) Enabled(feature string) bool {
	_, ok := c.features[feature]
	return ok
}

// Features lists enabled flags in sorted order.
func (c RepositoryContext) Features() []string {
	out := make([]string, 0, len(c.features))
	for feature := range c.features {
		out = append(out, feature)
	}
	sort.Strings(out)
	return out
}

// FromRepository converts upstream repository metadata.
func FromRepository(repository upstream.Repository) RepositoryContext {
	owner := OwnerUser
	if strings.EqualFold(repository.Owner.Type, string(OwnerOrganization)) {
		owner = OwnerOrganization
	}
	visibility := Visibility(strings.ToLower(strings.TrimSpace(repository.Visibility)))
	switch visibility {
	case VisibilityPublic, VisibilityPrivate, VisibilityInternal:
	default:
		visibility = VisibilityPublic
		if repository.Private {
			visibility = VisibilityPrivate
		}
	}
	var features []string
	if security := repository.SecurityAndAnalysis; security != nil {
		if security.SecretScanning.Enabled() {
			features = append(features, FeatureSecretScanning)
		}
		if security.SecretScanningPushProtection.Enabled() {
			features = append(features, FeatureSecretScanningPushProtection)
		}
		if security.AdvancedSecurity.Enabled() {
			features = append(features, FeatureAdvancedSecurity)
		}
		if security.DependabotSecurityUpdates.Enabled() {
			features = append(features, FeatureDependabotSecurityUpdates)
		}
	}
	return NewRepositoryContext(owner, visibility, features...)
}

type Assessment struct {
	Level   Level    `json:"level"`
	Reasons []string `json:"reasons"`
}

// Assess classifies ctx. User-owned repositories cannot enable immutable
// releases and are unsupported whatever else is set. Otherwise the level is
// the maximum reached by the rules that fire.
func Assess(ctx RepositoryContext) Assessment {
	if ctx.OwnerKind != OwnerOrganization {
		return Assessment{Level: LevelUnsupported, Reasons: []string{ReasonUserOwned}}
	}
	level := LevelUnsupported
	reasons := []string{}
	if ctx.Enabled(FeatureSecretScanning) {
		level = Max(level, LevelLikely)
		reasons = append(reasons, ReasonSecretScanning)
	}
	if ctx.Enabled(FeatureSecretScanningPushProtection) {
		level = Max(level, LevelLikely)
		reasons = append(reasons, ReasonPushProtection)
	}
	level = Max(level, LevelSupported)
	reasons = append(reasons, ReasonOrganization)
	if ctx.Visibility == VisibilityPublic {
		level = Max(level, LevelSupported)
		reasons = append(reasons, ReasonPublic)
	}
	return Assessment{Level: level, Reasons: reasons}
}
