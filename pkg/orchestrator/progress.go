package orchestrator

import (
	"context"
	"math"

	"github.com/aretw0/stageflow/pkg/domain"
)

// Progress summarizes the checklist of one stage instance.
type Progress struct {
	InstanceID         string             `json:"instance_id"`
	StageID            string             `json:"stage_id"`
	Status             domain.StageStatus `json:"status"`
	CompletedItemCount int                `json:"completed_item_count"`
	TotalItems         int                `json:"total_items"`
	PercentComplete    float64            `json:"percent_complete"`
	Context            domain.Values      `json:"context"`
}

// SessionProgress summarizes how many workflow stages a session completed.
type SessionProgress struct {
	SessionID       string               `json:"session_id"`
	WorkflowID      string               `json:"workflow_id"`
	Status          domain.SessionStatus `json:"status"`
	CurrentStageID  string               `json:"current_stage_id,omitempty"`
	CompletedStages int                  `json:"completed_stages"`
	TotalStages     int                  `json:"total_stages"`
	PercentComplete float64              `json:"percent_complete"`
}

// Progress reports checklist progress for an instance.
//
// Only items of the stage's checklist count. A stage without a checklist
// counts as one item, done once the instance is completed.
func (o *Orchestrator) Progress(ctx context.Context, instanceID string) (*Progress, error) {
	inst, err := o.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	sess, err := o.repo.GetSession(ctx, inst.SessionID)
	if err != nil {
		return nil, err
	}
	stage, err := o.stageDefinition(ctx, sess, inst.StageID)
	if err != nil {
		return nil, err
	}

	done, total := checklistProgress(stage.Checklist, inst)
	return &Progress{
		InstanceID:         inst.ID,
		StageID:            inst.StageID,
		Status:             inst.Status,
		CompletedItemCount: done,
		TotalItems:         total,
		PercentComplete:    percent(done, total),
		Context:            inst.Context,
	}, nil
}

// SessionProgress reports completed stages against the workflow's stages.
// A malformed workflow counts zero stages.
func (o *Orchestrator) SessionProgress(ctx context.Context, sessionID string) (*SessionProgress, error) {
	sess, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var stageIDs []string
	_, g, err := o.graph(ctx, sess.WorkflowID)
	switch {
	case err == nil:
		stageIDs = g.StageIDs()
	case isMalformed(err):
		o.logger.Warn("ignoring malformed workflow definition", "workflow_id", sess.WorkflowID, "error", err)
	default:
		return nil, err
	}

	done := 0
	for _, id := range stageIDs {
		if sess.HasCompleted(id) {
			done++
		}
	}
	return &SessionProgress{
		SessionID:       sess.ID,
		WorkflowID:      sess.WorkflowID,
		Status:          sess.Status,
		CurrentStageID:  sess.CurrentStageID,
		CompletedStages: done,
		TotalStages:     len(stageIDs),
		PercentComplete: percent(done, len(stageIDs)),
	}, nil
}

func checklistProgress(checklist []string, inst *domain.StageInstance) (done, total int) {
	seen := make(map[string]bool, len(checklist))
	for _, item := range checklist {
		if seen[item] {
			continue
		}
		seen[item] = true
		total++
		if domain.Contains(inst.CompletedItems, item) {
			done++
		}
	}
	if total == 0 {
		total = 1
		if inst.Status == domain.StageCompleted {
			done = 1
		}
	}
	return done, total
}

// percent is done/total*100 rounded to two decimals, 0 when total is 0.
func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(done)/float64(total)*100*100) / 100
}
