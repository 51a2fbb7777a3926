package transfer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/log"
)

// ImportMentor replays an exported mentor into this deployment: the
// metadata import runs as one GraphQL mutation, then every answer whose
// media still points at the source deployment is copied over. Per-answer
// failures are recorded on the import task and do not stop the rest of the
// migration.
func (t *Transferrer) ImportMentor(ctx context.Context, mentor string, mentorJSON, replacedMentorDataChanges json.RawMessage) error {
	if err := t.Metadata.ImportTaskUpdate(ctx, clients.ImportTaskUpdateRequest{
		Mentor:        mentor,
		GraphQLUpdate: &clients.GraphQLUpdate{Status: clients.ImportStatusInProgress},
	}); err != nil {
		return fmt.Errorf("error starting import task: %w", err)
	}

	answers, err := t.Metadata.MentorImport(ctx, mentor, mentorJSON, replacedMentorDataChanges)
	if err != nil {
		if updateErr := t.Metadata.ImportTaskUpdate(ctx, clients.ImportTaskUpdateRequest{
			Mentor:        mentor,
			GraphQLUpdate: &clients.GraphQLUpdate{Status: clients.ImportStatusFailed, ErrorMessage: err.Error()},
		}); updateErr != nil {
			log.LogNoRequestID("error recording import failure", "mentor", mentor, "error", updateErr)
		}
		return fmt.Errorf("mentor import mutation failed: %w", err)
	}
	if err := t.Metadata.ImportTaskUpdate(ctx, clients.ImportTaskUpdateRequest{
		Mentor:        mentor,
		GraphQLUpdate: &clients.GraphQLUpdate{Status: clients.ImportStatusDone},
	}); err != nil {
		return fmt.Errorf("error recording import progress: %w", err)
	}

	var migrations []clients.AnswerMediaMigration
	for _, answer := range answers {
		if answer.HasUntransferredMedia {
			migrations = append(migrations, clients.AnswerMediaMigration{
				Question: answer.Question.ID,
				Status:   clients.ImportStatusQueued,
			})
		}
	}
	if err := t.Metadata.ImportTaskUpdate(ctx, clients.ImportTaskUpdateRequest{
		Mentor: mentor,
		S3VideoMigration: &clients.S3VideoMigration{
			Status:                clients.ImportStatusInProgress,
			AnswerMediaMigrations: migrations,
		},
	}); err != nil {
		return fmt.Errorf("error seeding media migrations: %w", err)
	}

	for _, answer := range answers {
		if !answer.HasUntransferredMedia {
			continue
		}
		question := answer.Question.ID
		update := clients.AnswerMediaMigration{Question: question, Status: clients.ImportStatusDone}
		if err := t.TransferAnswer(ctx, mentor, question, ""); err != nil {
			log.LogNoRequestID("answer media migration failed", "mentor", mentor, "question", question, "error", err)
			update.Status = clients.ImportStatusFailed
			update.ErrorMessage = err.Error()
		}
		if err := t.Metadata.ImportTaskUpdate(ctx, clients.ImportTaskUpdateRequest{
			Mentor:                   mentor,
			AnswerMediaMigrateUpdate: &update,
		}); err != nil {
			log.LogNoRequestID("error recording media migration result", "mentor", mentor, "question", question, "error", err)
		}
	}

	if err := t.Metadata.ImportTaskUpdate(ctx, clients.ImportTaskUpdateRequest{
		Mentor:           mentor,
		S3VideoMigration: &clients.S3VideoMigration{Status: clients.ImportStatusDone},
	}); err != nil {
		return fmt.Errorf("error finishing media migration: %w", err)
	}
	return nil
}
