package monitor

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/afero"

	"github.com/aiqojo/sf-ml-test/internal/config"
	"github.com/aiqojo/sf-ml-test/internal/mljob"
)

const testJobID = "MLJOB_0123456789ABCDEF0123456789ABCDEF"

// mockClient serves GetJob from a fixed job or error and records lookups.
type mockClient struct {
	job     mljob.Job
	err     error
	lookups []string
}

func (c *mockClient) SubmitDirectory(ctx context.Context, opts mljob.SubmitOptions) (mljob.Job, error) {
	return nil, errors.New("not implemented")
}

func (c *mockClient) GetJob(ctx context.Context, id string) (mljob.Job, error) {
	c.lookups = append(c.lookups, id)
	return c.job, c.err
}

var testParams = config.SessionParams{Role: "ML_ENGINEER", Database: "AI_ML", Schema: "ML"}

func grantRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"created_on", "privilege", "granted_on", "name", "granted_to", "grantee_name"}).
		AddRow("2025-01-01", "USAGE", "DATABASE", "AI_ML", "ROLE", "ML_ENGINEER").
		AddRow("2025-01-01", "CREATE SERVICE", "SCHEMA", "AI_ML.ML", "ROLE", "ML_ENGINEER")
}

func TestDiagnose_JobFoundSkipsSQLProbes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	var out bytes.Buffer
	m := newTestMonitor(&out, afero.NewMemMapFs(), time.Second)

	mock.ExpectQuery(`SHOW GRANTS TO ROLE ML_ENGINEER`).WillReturnRows(grantRows())

	logs := strings.Repeat("x", 5000) + "END"
	client := &mockClient{job: &mockJob{
		id:       "AI_ML.ML." + testJobID,
		statuses: []mljob.Status{mljob.StatusFailed},
		logs:     logs,
	}}

	submitErr := &mljob.SubmitError{
		JobID: "AI_ML.ML." + testJobID,
		Op:    "execute job service",
		Err:   errors.New("Job service failed to start"),
	}
	d := m.DiagnoseJobFailure(context.Background(), submitErr, db, client, testParams)

	if d.JobID != "AI_ML.ML."+testJobID {
		t.Errorf("unexpected job id %s", d.JobID)
	}
	if !d.JobFound || d.JobStatus != mljob.StatusFailed {
		t.Errorf("expected job found with FAILED, got %+v", d)
	}
	if len([]rune(d.LogTail)) != DiagnoseLogTailChars || !strings.HasSuffix(d.LogTail, "END") {
		t.Errorf("expected a %d character log tail", DiagnoseLogTailChars)
	}
	if !d.HasCreateService {
		t.Error("expected CREATE SERVICE grant to be found")
	}
	if d.History != nil || d.HistoryErr != "" || d.ContainerLogsErr != "" {
		t.Errorf("expected SQL fallbacks to be skipped, got %+v", d)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
	if !strings.Contains(out.String(), "Job exists! Status: FAILED") {
		t.Errorf("expected printed diagnosis, got:\n%s", out.String())
	}
}

func TestDiagnose_PermissionErrorWithFallbackProbes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	var out bytes.Buffer
	m := newTestMonitor(&out, afero.NewMemMapFs(), time.Second)

	mock.ExpectQuery(`SHOW GRANTS TO ROLE ML_ENGINEER`).
		WillReturnRows(sqlmock.NewRows([]string{"privilege", "granted_on", "name"}).AddRow("USAGE", "SCHEMA", "AI_ML.ML"))
	mock.ExpectQuery(regexp.QuoteMeta(`SNOWFLAKE.SPCS.GET_JOB_HISTORY(`)).
		WithArgs(testJobID).
		WillReturnRows(sqlmock.NewRows([]string{"name", "status", "message", "created_time", "completed_time"}).
			AddRow(testJobID, "FAILED", "Insufficient privileges to operate on schema", "2025-01-01 10:00", nil))
	mock.ExpectQuery(regexp.QuoteMeta(`TABLE(AI_ML.ML.` + testJobID + `!SPCS_GET_LOGS(`)).
		WillReturnError(errors.New("SQL access control error: Insufficient privileges to operate on service"))

	client := &mockClient{err: errors.New("job does not exist")}
	cause := errors.New("SQL access control error: Insufficient privileges to operate on schema 'ML' for job " + testJobID)

	d := m.DiagnoseJobFailure(context.Background(), cause, db, client, testParams)

	if d.Category != "permission" {
		t.Errorf("expected permission category, got %s", d.Category)
	}
	if d.GrantHint != "GRANT CREATE SERVICE ON SCHEMA AI_ML.ML TO ROLE ML_ENGINEER;" {
		t.Errorf("unexpected grant hint %q", d.GrantHint)
	}
	if d.HasCreateService {
		t.Error("expected missing CREATE SERVICE grant")
	}
	if d.JobID != testJobID || len(client.lookups) != 1 {
		t.Errorf("expected job id from error text and one lookup, got %s, %v", d.JobID, client.lookups)
	}
	if d.History == nil || d.History.Status != "FAILED" {
		t.Errorf("expected history entry, got %+v", d.History)
	}
	if !d.NeedMonitor {
		t.Error("expected MONITOR privilege hint")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Permission error detected!",
		"Required: GRANT CREATE SERVICE ON SCHEMA AI_ML.ML TO ROLE ML_ENGINEER;",
		"Failed to get job via API: job does not exist",
		"Status: FAILED",
		"Need MONITOR privilege to read logs",
		"Compute → Jobs → " + testJobID,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output, got:\n%s", want, got)
		}
	}
}

func TestDiagnose_ContainerLogRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	var out bytes.Buffer
	m := newTestMonitor(&out, afero.NewMemMapFs(), time.Second)

	mock.ExpectQuery(`SHOW GRANTS TO ROLE ML_ENGINEER`).WillReturnRows(grantRows())
	mock.ExpectQuery(regexp.QuoteMeta(`GET_JOB_HISTORY`)).
		WithArgs(testJobID).
		WillReturnRows(sqlmock.NewRows([]string{"name", "status"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SPCS_GET_LOGS`)).
		WillReturnRows(sqlmock.NewRows([]string{"TIMESTAMP", "LOG"}).
			AddRow("2025-01-01 10:00:02", "ModuleNotFoundError: No module named 'sklearn'").
			AddRow("2025-01-01 10:00:01", "starting"))

	d := m.DiagnoseJobFailure(context.Background(), errors.New("job "+testJobID+" failed"), db, &mockClient{err: errors.New("gone")}, testParams)

	if d.History != nil {
		t.Errorf("expected no history entry, got %+v", d.History)
	}
	if len(d.ContainerLogs) != 2 || d.ContainerLogs[0].Message != "ModuleNotFoundError: No module named 'sklearn'" {
		t.Errorf("unexpected container logs %+v", d.ContainerLogs)
	}
	if !strings.Contains(out.String(), "Job not found in history yet") {
		t.Errorf("expected history notice, got:\n%s", out.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDiagnose_NoJobID(t *testing.T) {
	var out bytes.Buffer
	m := newTestMonitor(&out, afero.NewMemMapFs(), time.Second)

	client := &mockClient{}
	d := m.DiagnoseJobFailure(context.Background(), errors.New("Incorrect username or password was specified."), nil, client, config.SessionParams{})

	if d.Category != "authentication" {
		t.Errorf("expected authentication category, got %s", d.Category)
	}
	if d.JobID != "" || len(client.lookups) != 0 {
		t.Errorf("expected no job probes, got %+v", d)
	}
	if d.GrantHint != "" {
		t.Errorf("expected no grant hint for non-permission errors")
	}
}
