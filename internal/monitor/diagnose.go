package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
	"github.com/aiqojo/sf-ml-test/internal/config"
	"github.com/aiqojo/sf-ml-test/internal/mljob"
	"github.com/aiqojo/sf-ml-test/internal/warehouse"
)

var jobIDPattern = regexp.MustCompile(`MLJOB_[0-9A-F]{32}`)

const (
	jobHistoryQuery = `SELECT name, status, message, created_time, completed_time
FROM TABLE(SNOWFLAKE.SPCS.GET_JOB_HISTORY(
    created_time_start => DATEADD('hour', -6, CURRENT_TIMESTAMP()),
    result_limit => 100
))
WHERE name = ?
ORDER BY created_time DESC
LIMIT 1`

	containerLogsQuery = `SELECT *
FROM TABLE(%s!SPCS_GET_LOGS(
    START_TIME => DATEADD('hour', -6, CURRENT_TIMESTAMP())
))
ORDER BY timestamp DESC
LIMIT 50`
)

// Diagnosis is what the failure probes found. Fields ending in Err hold the
// error of a probe that could not run.
type Diagnosis struct {
	Error    string
	Category string

	// Set for permission errors
	GrantHint string

	Role             string
	Schema           string
	GrantsChecked    bool
	HasCreateService bool
	GrantsErr        string

	JobID string

	// Job lookup through the job API
	JobFound  bool
	JobStatus mljob.Status
	LogTail   string
	LookupErr string
	LogsErr   string

	// SQL fallbacks when the lookup fails
	History          *HistoryEntry
	HistoryErr       string
	ContainerLogs    []LogLine
	ContainerLogsErr string
	NeedMonitor      bool
}

// HistoryEntry is the most recent job history row for a job.
type HistoryEntry struct {
	Status    string
	Message   string
	Created   string
	Completed string
}

// LogLine is one container log row.
type LogLine struct {
	Timestamp string
	Message   string
}

// DiagnoseJobFailure runs read-only probes to explain err, prints the findings
// and returns them. The permission probes always run. When the job can be
// looked up through jobs, the SQL history and log probes are skipped. db and
// jobs may be nil, which skips the probes that need them.
func (m *Monitor) DiagnoseJobFailure(ctx context.Context, err error, db warehouse.Querier, jobs mljob.Client, params config.SessionParams) *Diagnosis {
	d := &Diagnosis{
		Error:    errString(err),
		Category: apperrors.Category(err),
		Role:     params.Role,
		Schema:   m.jobSchemaName(params),
	}

	role := params.Role
	if role == "" {
		role = "<role>"
	}
	if d.Category == "permission" {
		d.GrantHint = fmt.Sprintf("GRANT CREATE SERVICE ON SCHEMA %s TO ROLE %s;", d.Schema, role)
	}

	if db != nil {
		m.probeGrants(ctx, db, d)
	}

	d.JobID = extractJobID(err)
	if d.JobID != "" {
		if jobs != nil {
			m.probeJob(ctx, jobs, d)
		} else {
			d.LookupErr = "no job client available"
		}
		if !d.JobFound && db != nil {
			m.probeHistory(ctx, db, d)
			m.probeContainerLogs(ctx, db, d, params)
		}
	}

	m.logger.Info("diagnosed job failure", "category", d.Category, "job_id", d.JobID, "job_found", d.JobFound)
	d.Print(m.out)
	return d
}

func (m *Monitor) jobSchemaName(params config.SessionParams) string {
	db, schema := m.jobLocation(params)
	return warehouse.Name{Database: db, Schema: schema}.String()
}

// jobLocation is the database and schema job services are created in.
func (m *Monitor) jobLocation(params config.SessionParams) (string, string) {
	db, schema := m.jobDatabase, m.jobSchema
	if db == "" {
		db = params.Database
	}
	if schema == "" {
		schema = params.Schema
	}
	return db, schema
}

func (m *Monitor) probeGrants(ctx context.Context, db warehouse.Querier, d *Diagnosis) {
	d.GrantsChecked = true
	role, err := warehouse.ParseName(d.Role)
	if err != nil || role.Schema != "" {
		d.GrantsErr = "session role is not set"
		return
	}

	rows, err := warehouse.QueryMaps(ctx, db, "SHOW GRANTS TO ROLE "+role.String())
	if err != nil {
		d.GrantsErr = err.Error()
		return
	}
	for _, row := range rows {
		if !strings.EqualFold(row.String("privilege"), "CREATE SERVICE") || !strings.EqualFold(row.String("granted_on"), "SCHEMA") {
			continue
		}
		if strings.EqualFold(strings.ReplaceAll(row.String("name"), `"`, ""), d.Schema) {
			d.HasCreateService = true
			return
		}
	}
}

func (m *Monitor) probeJob(ctx context.Context, jobs mljob.Client, d *Diagnosis) {
	job, err := jobs.GetJob(ctx, d.JobID)
	if err != nil {
		d.LookupErr = err.Error()
		return
	}
	d.JobFound = true

	if d.JobStatus, err = job.Status(ctx); err != nil {
		d.LookupErr = err.Error()
	}
	logs, err := job.Logs(ctx)
	if err != nil {
		d.LogsErr = err.Error()
		return
	}
	d.LogTail, _ = Tail(logs, DiagnoseLogTailChars)
}

func (m *Monitor) probeHistory(ctx context.Context, db warehouse.Querier, d *Diagnosis) {
	rows, err := warehouse.QueryMaps(ctx, db, jobHistoryQuery, mljob.ShortID(d.JobID))
	if err != nil {
		d.HistoryErr = err.Error()
		return
	}
	if len(rows) == 0 {
		return
	}
	status := rows[0].String("status")
	if status == "" {
		status = string(mljob.StatusUnknown)
	}
	d.History = &HistoryEntry{
		Status:    status,
		Message:   rows[0].String("message"),
		Created:   rows[0].String("created_time"),
		Completed: rows[0].String("completed_time"),
	}
}

func (m *Monitor) probeContainerLogs(ctx context.Context, db warehouse.Querier, d *Diagnosis, params config.SessionParams) {
	name, err := warehouse.ParseName(d.JobID)
	if err != nil {
		d.ContainerLogsErr = err.Error()
		return
	}
	name = name.WithDefaults(m.jobLocation(params))

	rows, err := warehouse.QueryMaps(ctx, db, fmt.Sprintf(containerLogsQuery, name))
	if err != nil {
		d.ContainerLogsErr = err.Error()
		d.NeedMonitor = apperrors.IsPermission(err)
		return
	}
	for _, row := range rows {
		d.ContainerLogs = append(d.ContainerLogs, LogLine{
			Timestamp: row.String("timestamp"),
			Message:   row.String("log"),
		})
	}
}

// extractJobID finds the job id carried by a *mljob.SubmitError or named in the error text.
func extractJobID(err error) string {
	if err == nil {
		return ""
	}
	var se *mljob.SubmitError
	if errors.As(err, &se) && se.JobID != "" {
		return se.JobID
	}
	return jobIDPattern.FindString(err.Error())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Print writes the diagnosis in human-readable form.
func (d *Diagnosis) Print(w io.Writer) {
	msg := d.Error
	if r := []rune(msg); len(r) > 200 {
		msg = string(r[:200]) + "..."
	}
	fmt.Fprintf(w, "\n%s Job creation failed: %s\n", red("✗"), msg)

	if d.GrantHint != "" {
		fmt.Fprintf(w, "\n  %s Permission error detected!\n", yellow("⚠"))
		fmt.Fprintf(w, "  Required: %s\n", d.GrantHint)
	}
	switch {
	case !d.GrantsChecked:
	case d.GrantsErr != "":
		fmt.Fprintf(w, "  Could not check grants: %s\n", d.GrantsErr)
	case d.HasCreateService:
		fmt.Fprintf(w, "  %s Role %s has CREATE SERVICE on %s\n", green("✓"), d.Role, d.Schema)
	default:
		fmt.Fprintf(w, "  %s Role %s lacks CREATE SERVICE on %s\n", red("✗"), d.Role, d.Schema)
	}

	if d.JobID == "" {
		return
	}
	fmt.Fprintf(w, "\n  Job ID: %s\n", d.JobID)

	if d.JobFound {
		fmt.Fprintf(w, "  %s Job exists! Status: %s\n", green("✓"), ColorStatus(d.JobStatus))
		fmt.Fprintln(w, "\n  === Container Logs (tail) ===")
		switch {
		case d.LogsErr != "":
			fmt.Fprintf(w, "  Could not get logs: %s\n", d.LogsErr)
		case d.LogTail == "":
			fmt.Fprintln(w, "  No logs available yet")
		default:
			fmt.Fprintln(w, d.LogTail)
		}
	} else {
		fmt.Fprintf(w, "  %s Failed to get job via API: %s\n", red("✗"), d.LookupErr)

		switch {
		case d.HistoryErr != "":
			fmt.Fprintf(w, "  %s Could not query job history: %s\n", red("✗"), d.HistoryErr)
		case d.History == nil:
			fmt.Fprintln(w, "  Job not found in history yet")
		default:
			fmt.Fprintf(w, "  Status: %s\n", d.History.Status)
			if d.History.Message != "" {
				fmt.Fprintf(w, "  Message: %s\n", d.History.Message)
			}
		}

		switch {
		case d.ContainerLogsErr != "":
			fmt.Fprintf(w, "  %s Could not get container logs: %s\n", red("✗"), d.ContainerLogsErr)
			if d.NeedMonitor {
				fmt.Fprintln(w, "  Need MONITOR privilege to read logs")
			}
		case len(d.ContainerLogs) > 0:
			fmt.Fprintf(w, "\n  === Container Logs (last %d lines) ===\n", len(d.ContainerLogs))
			for _, l := range d.ContainerLogs {
				fmt.Fprintf(w, "  [%s] %s\n", l.Timestamp, l.Message)
			}
		}
	}

	fmt.Fprintf(w, "\n  Check Snowflake UI: Compute → Jobs → %s\n", mljob.ShortID(d.JobID))
}
