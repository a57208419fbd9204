package mljob

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
	"github.com/aiqojo/sf-ml-test/internal/warehouse"
)

// remoteJob reads a job service's state through SQL and its stage directory.
type remoteJob struct {
	id    warehouse.Name
	stage string
	db    warehouse.Querier
	files warehouse.StageFiles
}

func (j *remoteJob) ID() string { return j.id.String() }

func (j *remoteJob) Status(ctx context.Context) (Status, error) {
	rows, err := warehouse.QueryMaps(ctx, j.db, "DESCRIBE SERVICE "+j.id.String())
	if err != nil {
		if apperrors.Classify(err) == apperrors.ErrNotFound {
			return StatusUnknown, fmt.Errorf("%w: %v", apperrors.NotFound("job", j.id.String()), err)
		}
		return StatusUnknown, fmt.Errorf("failed to describe job %s: %w", j.id, err)
	}
	if len(rows) == 0 {
		return StatusUnknown, apperrors.NotFound("job", j.id.String())
	}
	return ParseStatus(rows[0].String("status")), nil
}

func (j *remoteJob) Logs(ctx context.Context) (string, error) {
	var logs sql.NullString
	err := j.db.QueryRowContext(ctx, "SELECT SYSTEM$GET_SERVICE_LOGS(?, 0, ?)", j.id.String(), ContainerName).Scan(&logs)
	if err != nil {
		return "", fmt.Errorf("failed to get logs for job %s: %w", j.id, err)
	}
	return logs.String, nil
}

func (j *remoteJob) Result(ctx context.Context) (*Result, error) {
	var buf bytes.Buffer
	p := warehouse.StagePath(j.stage, j.id.Object, OutputDir, ResultFileName)
	if err := j.files.Get(ctx, p, &buf); err != nil {
		return nil, fmt.Errorf("failed to fetch result of job %s: %w", j.id, err)
	}
	if buf.Len() == 0 {
		return nil, apperrors.NotFound("result file", p)
	}

	var res Result
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		return nil, fmt.Errorf("failed to decode result of job %s: %w", j.id, err)
	}
	return &res, nil
}
