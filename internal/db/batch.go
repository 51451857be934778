package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ldi/sprintboard/pkg/models"
)

// CommitPlan writes a session's staged sprint plan in one transaction:
// sprints first, then new tasks, then moves of existing tasks. The plan is
// cleared whether or not the commit succeeds.
func (db *DB) CommitPlan(ctx context.Context, sessionID string) (*StagedPlan, error) {
	plan := db.Staging.GetAndClear(sessionID)
	if plan.Empty() {
		return plan, nil
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		// project id + sprint name -> sprint id
		sprintIDs := make(map[string]string)
		key := func(projectID, name string) string { return projectID + ":" + name }

		// 1. Sprints
		for _, s := range plan.Sprints {
			if err := db.createSprint(ctx, tx, s); err != nil {
				return fmt.Errorf("failed to create staged sprint %s: %w", s.Name, err)
			}
			sprintIDs[key(s.ProjectID, s.Name)] = s.ID
		}

		resolve := func(projectID, name string) (string, error) {
			if id, ok := sprintIDs[key(projectID, name)]; ok {
				return id, nil
			}
			s, err := db.getSprintByName(ctx, tx, projectID, name)
			if err != nil {
				return "", err
			}
			if s == nil {
				return "", fmt.Errorf("sprint %s: %w", name, ErrNotFound)
			}
			sprintIDs[key(projectID, name)] = s.ID
			return s.ID, nil
		}

		// 2. New tasks
		for _, st := range plan.Tasks {
			t := st.Task
			if st.SprintName != "" {
				id, err := resolve(t.ProjectID, st.SprintName)
				if err != nil {
					return fmt.Errorf("failed to resolve sprint for task %s: %w", t.Title, err)
				}
				t.SprintID = &id
			}
			if err := db.createTask(ctx, tx, t); err != nil {
				return fmt.Errorf("failed to create staged task %s: %w", t.Title, err)
			}
		}

		// 3. Moves
		for _, m := range plan.Moves {
			if m.SprintID == "" {
				t, err := db.getTask(ctx, tx, m.TaskID)
				if err != nil {
					return err
				}
				if t == nil {
					return fmt.Errorf("task %s: %w", m.TaskID, ErrNotFound)
				}
				id, err := resolve(t.ProjectID, m.SprintName)
				if err != nil {
					return fmt.Errorf("failed to resolve sprint for task %s: %w", m.TaskID, err)
				}
				m.SprintID = id
			}
			sprintID := m.SprintID
			if err := db.moveTaskToSprint(ctx, tx, m.TaskID, &sprintID); err != nil {
				return fmt.Errorf("failed to move staged task %s: %w", m.TaskID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	db.triggerChange(ctx, "sprints", sessionID)
	return plan, nil
}

func (db *DB) getSprintByName(ctx context.Context, exec executor, projectID, name string) (*models.Sprint, error) {
	query := `SELECT ` + sprintColumns + ` FROM sprints WHERE project_id = ? AND name = ? ORDER BY start_date DESC LIMIT 1`
	s, err := scanSprint(exec.QueryRowContext(ctx, query, projectID, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sprint by name: %w", err)
	}
	return s, nil
}
