package stage

import "github.com/shipwright-dev/shipwright/internal/types"

// BuiltinTemplate returns the fixed stage flags for one of the five
// built-in template tiers (§4.5): fast skips design/review/compound-quality
// for low-risk quick wins, full enables every stage with an approval gate
// on merge only, enterprise enables every stage and gates plan/design/
// review/pr/merge/deploy, hotfix skips plan/design/review/compound-quality
// and runs intake/build/test/pr/merge/deploy/validate/monitor for incident
// response.
func BuiltinTemplate(name string) Template {
	switch name {
	case "fast":
		return Template{Name: "fast", Stages: fastStages()}
	case "hotfix":
		return Template{Name: "hotfix", Stages: hotfixStages()}
	case "full":
		return Template{Name: "full", Stages: fullStages()}
	case "enterprise":
		return Template{Name: "enterprise", Stages: enterpriseStages()}
	default:
		return Template{Name: "standard", Stages: standardStages()}
	}
}

func on(retries int) StageFlags  { return StageFlags{Enabled: true, Retries: retries} }
func off() StageFlags            { return StageFlags{Enabled: false} }
func gated(retries int) StageFlags {
	return StageFlags{Enabled: true, Gate: "approve", Retries: retries}
}

func fastStages() map[string]StageFlags {
	return map[string]StageFlags{
		string(types.StageIntake):          on(0),
		string(types.StagePlan):            off(),
		string(types.StageDesign):          off(),
		string(types.StageBuild):           on(1),
		string(types.StageTest):            on(1),
		string(types.StageReview):          off(),
		string(types.StageCompoundQuality): off(),
		string(types.StagePR):              on(1),
		string(types.StageMerge):           on(0),
		string(types.StageDeploy):          off(),
		string(types.StageValidate):        off(),
		string(types.StageMonitor):         off(),
	}
}

func standardStages() map[string]StageFlags {
	return map[string]StageFlags{
		string(types.StageIntake):          on(0),
		string(types.StagePlan):            on(1),
		string(types.StageDesign):          off(),
		string(types.StageBuild):           on(2),
		string(types.StageTest):            on(2),
		string(types.StageReview):          on(1),
		string(types.StageCompoundQuality): off(),
		string(types.StagePR):              on(1),
		string(types.StageMerge):           on(0),
		string(types.StageDeploy):          off(),
		string(types.StageValidate):        off(),
		string(types.StageMonitor):         off(),
	}
}

func fullStages() map[string]StageFlags {
	return map[string]StageFlags{
		string(types.StageIntake):          on(0),
		string(types.StagePlan):            on(1),
		string(types.StageDesign):          on(1),
		string(types.StageBuild):           on(3),
		string(types.StageTest):            on(3),
		string(types.StageReview):          on(2),
		string(types.StageCompoundQuality): on(1),
		string(types.StagePR):              on(1),
		string(types.StageMerge):           gated(0),
		string(types.StageDeploy):          on(1),
		string(types.StageValidate):        on(1),
		string(types.StageMonitor):         on(0),
	}
}

func enterpriseStages() map[string]StageFlags {
	return map[string]StageFlags{
		string(types.StageIntake):          on(0),
		string(types.StagePlan):            gated(1),
		string(types.StageDesign):          gated(1),
		string(types.StageBuild):           on(3),
		string(types.StageTest):            on(3),
		string(types.StageReview):          gated(2),
		string(types.StageCompoundQuality): on(2),
		string(types.StagePR):              gated(1),
		string(types.StageMerge):           gated(0),
		string(types.StageDeploy):          gated(1),
		string(types.StageValidate):        on(1),
		string(types.StageMonitor):         on(0),
	}
}

func hotfixStages() map[string]StageFlags {
	return map[string]StageFlags{
		string(types.StageIntake):          on(0),
		string(types.StagePlan):            off(),
		string(types.StageDesign):          off(),
		string(types.StageBuild):           on(2),
		string(types.StageTest):            on(2),
		string(types.StageReview):          off(),
		string(types.StageCompoundQuality): off(),
		string(types.StagePR):              on(0),
		string(types.StageMerge):           on(0),
		string(types.StageDeploy):          on(1),
		string(types.StageValidate):        on(1),
		string(types.StageMonitor):         on(0),
	}
}
