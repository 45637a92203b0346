package orchestrator

import (
	"fmt"
)

// 内置计划
const (
	PlanEnhancedSchemaV1 = "enhanced_schema_v1"
	PlanValidateOnly     = "validate_only"
)

// 内置步骤
const (
	StepValidateEnvironment = "validate_environment"
	StepLoadLegacy          = "load_legacy"
	StepBackupData          = "backup_data"
	StepMigrateRecords      = "migrate_records"
	StepVerifyMigration     = "verify_migration"
	StepUpdateVersion       = "update_version"
	StepEnableFlags         = "enable_flags"
	StepCleanup             = "cleanup"
	StepDryRun              = "dry_run"

	StepRestoreRecords = "restore_records"
	StepRestoreFlags   = "restore_flags"
)

func builtinPlans(o *Orchestrator) []*Plan {
	return []*Plan{
		{
			ID:          PlanEnhancedSchemaV1,
			Name:        "Enhanced schema v1",
			Description: "Migrate legacy trades to the enhanced schema with review workflow and notes",
			Steps: []Step{
				{ID: StepValidateEnvironment, Name: "Validate environment", Order: 1, Required: true,
					Description: "Check store access and target version", Run: o.stepValidateEnvironment},
				{ID: StepLoadLegacy, Name: "Load legacy records", Order: 2, Required: true,
					Dependencies: []string{StepValidateEnvironment}, Run: o.stepLoadLegacy},
				{ID: StepBackupData, Name: "Backup data", Order: 3, Required: true,
					Description:  "Save a full snapshot of the legacy collection",
					Dependencies: []string{StepLoadLegacy}, Run: o.stepBackupData},
				{ID: StepMigrateRecords, Name: "Migrate records", Order: 4, Required: true,
					Dependencies: []string{StepLoadLegacy, StepBackupData}, Run: o.stepMigrateRecords},
				{ID: StepVerifyMigration, Name: "Verify migration", Order: 5, Required: false,
					Dependencies: []string{StepMigrateRecords}, Run: o.stepVerifyMigration},
				{ID: StepUpdateVersion, Name: "Update version", Order: 6, Required: true,
					Dependencies: []string{StepMigrateRecords}, Run: o.stepUpdateVersion},
				{ID: StepEnableFlags, Name: "Enable schema flags", Order: 7, Required: true,
					Dependencies: []string{StepUpdateVersion}, Run: o.stepEnableFlags},
				{ID: StepCleanup, Name: "Cleanup", Order: 8, Required: false,
					Description: "Prune old backups", Run: o.stepCleanup},
			},
			RollbackSteps: []Step{
				{ID: StepRestoreRecords, Name: "Restore records", Order: 1, Required: true, Run: o.stepRestoreRecords},
				{ID: StepRestoreFlags, Name: "Restore flags", Order: 2, Required: true, Run: o.stepRestoreFlags},
			},
		},
		{
			ID:          PlanValidateOnly,
			Name:        "Validate only",
			Description: "Transform and validate legacy trades without writing anything",
			DryRun:      true,
			Steps: []Step{
				{ID: StepValidateEnvironment, Name: "Validate environment", Order: 1, Required: true,
					Run: o.stepValidateEnvironment},
				{ID: StepLoadLegacy, Name: "Load legacy records", Order: 2, Required: true,
					Dependencies: []string{StepValidateEnvironment}, Run: o.stepLoadLegacy},
				{ID: StepDryRun, Name: "Dry run", Order: 3, Required: true,
					Dependencies: []string{StepLoadLegacy}, Run: o.stepDryRun},
			},
		},
	}
}

// ValidatePlan 检查计划结构
// 步骤 ID 唯一，order 严格递增，依赖只能指向 order 更小的步骤
func ValidatePlan(p *Plan) error {
	if p == nil || p.ID == "" {
		return &PlanError{Err: fmt.Errorf("%w: missing plan id", ErrInvalidPlan)}
	}
	if len(p.Steps) == 0 {
		return &PlanError{PlanID: p.ID, Err: fmt.Errorf("%w: plan has no steps", ErrInvalidPlan)}
	}
	if err := validateSteps(p.ID, p.Steps, true); err != nil {
		return err
	}
	return validateSteps(p.ID, p.RollbackSteps, false)
}

func validateSteps(planID string, steps []Step, checkDeps bool) error {
	invalid := func(stepID, format string, args ...any) error {
		return &PlanError{
			PlanID: planID,
			StepID: stepID,
			Err:    fmt.Errorf("%w: %s", ErrInvalidPlan, fmt.Sprintf(format, args...)),
		}
	}

	orders := make(map[string]int, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			return invalid("", "step with order %d has no id", s.Order)
		}
		if _, dup := orders[s.ID]; dup {
			return invalid(s.ID, "duplicate step id")
		}
		orders[s.ID] = s.Order
	}

	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		if s.Run == nil {
			return invalid(s.ID, "step has no implementation")
		}
		if i > 0 && s.Order <= steps[i-1].Order {
			return invalid(s.ID, "order %d does not follow %d", s.Order, steps[i-1].Order)
		}
		if checkDeps {
			for _, dep := range s.Dependencies {
				if _, ok := seen[dep]; ok {
					continue
				}
				if _, exists := orders[dep]; exists {
					return invalid(s.ID, "dependency %s does not have a lower order", dep)
				}
				return invalid(s.ID, "unknown dependency %s", dep)
			}
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
