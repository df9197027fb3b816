package cmds

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/algoclash/judge-api/judge-api/internal/audit"
	"github.com/algoclash/judge-api/judge-api/internal/models"
	"github.com/algoclash/judge-api/judge-api/internal/types"
)

var (
	outboxListStage string
	outboxListLimit int
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and repair the submission outbox",
}

type outboxRow struct {
	ID           string  `json:"id"`
	SubmissionID string  `json:"submission_id"`
	Stage        string  `json:"stage"`
	Status       string  `json:"status"`
	AttemptCount int     `json:"attempt_count"`
	LastError    string  `json:"last_error,omitempty"`
	FinalizedOn  *string `json:"finalized_on,omitempty"`
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outbox rows, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		db = db.WithContext(cmd.Context())

		query := db.Model(&models.SubmissionOutbox{}).
			Order("created_at DESC, id DESC").
			Limit(outboxListLimit)

		if outboxListStage != "" {
			stage, err := stageFromName(outboxListStage)
			if err != nil {
				return err
			}

			query = query.Where("stage = ?", stage)
		}

		var items []models.SubmissionOutbox
		if err := query.Find(&items).Error; err != nil {
			return fmt.Errorf("failed to list outbox rows: %w", err)
		}

		encoder := json.NewEncoder(os.Stdout)
		for _, item := range items {
			row := outboxRow{
				ID:           item.ID.String(),
				SubmissionID: item.SubmissionID.String(),
				Stage:        item.Stage.String(),
				Status:       item.Status.String(),
				AttemptCount: item.AttemptCount,
				LastError:    item.LastError,
			}
			if item.FinalizedOn.Valid {
				finalized := item.FinalizedOn.V.UTC().Format("2006-01-02T15:04:05Z")
				row.FinalizedOn = &finalized
			}

			if err := encoder.Encode(row); err != nil {
				return err
			}
		}

		return nil
	},
}

var outboxRequeueCmd = &cobra.Command{
	Use:   "requeue <outbox-id>",
	Short: "Clone a failed outbox row into a fresh pipeline entry point",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid outbox id: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		db = db.WithContext(cmd.Context())

		var row models.SubmissionOutbox
		if err := db.First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("outbox row %s not found", id)
			}

			return err
		}

		if row.Stage != types.OutboxStageFailed || !row.FinalizedOn.Valid {
			return fmt.Errorf(
				"outbox row %s is %s/%s, only finalized failed rows can be requeued",
				id, row.Stage, row.Status,
			)
		}

		fresh := models.NewOutboxForSubmission(row.SubmissionID)
		if err := db.Create(fresh).Error; err != nil {
			return fmt.Errorf("failed to create replacement outbox row: %w", err)
		}

		submissionID := row.SubmissionID.String()
		audit.LogOutboxRequeued(
			audit.Context{SubmissionID: &submissionID},
			fresh.ID.String(),
		)

		fmt.Println(fresh.ID.String())
		return nil
	},
}

func stageFromName(name string) (types.OutboxStage, error) {
	for _, stage := range []types.OutboxStage{
		types.OutboxStageInitialized,
		types.OutboxStagePollInitialization,
		types.OutboxStageExecuteSubmission,
		types.OutboxStagePollJudge0Result,
		types.OutboxStageCompleted,
		types.OutboxStageFailed,
	} {
		if stage.String() == name {
			return stage, nil
		}
	}

	return 0, fmt.Errorf("unknown stage name: %s", name)
}

func init() {
	outboxListCmd.Flags().
		StringVar(&outboxListStage, "stage", "", "only show rows at this stage")
	outboxListCmd.Flags().
		IntVar(&outboxListLimit, "limit", 50, "maximum rows to print")

	outboxCmd.AddCommand(outboxListCmd)
	outboxCmd.AddCommand(outboxRequeueCmd)
}
