package metrics

import (
	"database/sql"
	"time"

	"github.com/golang/glog"
)

const stageEventTableName = "upload_stage_event"

// StageRecorder emits one high-cardinality row per finished pipeline stage
// to a Postgres database, for offline analysis the aggregated Prometheus
// metrics cannot support. A nil receiver or nil db disables recording.
type StageRecorder struct {
	db *sql.DB
}

func NewStageRecorder(db *sql.DB) *StageRecorder {
	return &StageRecorder{db: db}
}

// RecordStage writes the row in the background; the worker loop must not
// block on the metrics database.
func (r *StageRecorder) RecordStage(mentor, question, stage, taskID string, duration time.Duration, stageErr error) {
	if r == nil || r.db == nil {
		return
	}
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				glog.Errorf("panic writing to metrics database err=%s stage=%s", rec, stage)
			}
		}()
		errMsg := ""
		if stageErr != nil {
			errMsg = stageErr.Error()
		}
		insertDynStmt := `insert into "` + stageEventTableName + `"(
		"timestamp_ms",
		"mentor",
		"question",
		"stage",
		"task_id",
		"duration_ms",
		"success",
		"error"
		) values($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err := r.db.Exec(
			insertDynStmt,
			time.Now().UnixMilli(),
			mentor,
			question,
			stage,
			taskID,
			duration.Milliseconds(),
			stageErr == nil,
			errMsg,
		)
		if err != nil {
			glog.Errorf("error writing to metrics database err=%s stage=%s", err, stage)
		}
	}()
}
