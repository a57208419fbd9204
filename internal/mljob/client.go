package mljob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
	"github.com/aiqojo/sf-ml-test/internal/warehouse"
)

// ServiceConfig holds the defaults a Service applies to every job.
type ServiceConfig struct {
	// Database and schema job services are created in
	Database string
	Schema   string
	// Stage used when SubmitOptions.Stage is empty and for jobs looked up by id
	Stage string
	// Container image jobs run in
	RuntimeImage string
	// Warehouse for queries issued from inside the job (optional)
	QueryWarehouse string
}

// Service implements Client on top of a Snowflake session.
type Service struct {
	db     warehouse.Querier
	files  warehouse.StageFiles
	fs     afero.Fs
	cfg    ServiceConfig
	logger *slog.Logger
}

// NewService creates a Service. Payload directories are read from fsys.
func NewService(db warehouse.Querier, files warehouse.StageFiles, fsys afero.Fs, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{db: db, files: files, fs: fsys, cfg: cfg, logger: logger}
}

// SubmitDirectory uploads opts.Dir and starts it as a job service. It submits
// exactly once; failures after the job id is allocated are returned as *SubmitError.
func (s *Service) SubmitDirectory(ctx context.Context, opts SubmitOptions) (Job, error) {
	pool, stage, err := s.validate(opts)
	if err != nil {
		return nil, err
	}

	matcher, err := ReadIgnorePatterns(s.fs, opts.Dir, DefaultIgnorePatterns)
	if err != nil {
		return nil, err
	}
	files, err := CollectPayload(s.fs, opts.Dir, matcher)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload directory: %w", err)
	}
	entrypoint := path.Clean(filepath.ToSlash(opts.Entrypoint))
	if !containsRel(files, entrypoint) {
		return nil, apperrors.Validation("entrypoint", fmt.Sprintf("entrypoint %s is excluded by ignore patterns", entrypoint))
	}

	short := NewJobID()
	id := warehouse.Name{Database: s.cfg.Database, Schema: s.cfg.Schema, Object: short}
	log := s.logger.With("job_id", id.String())
	fail := func(op string, err error) error {
		return &SubmitError{JobID: id.String(), Op: op, Err: err}
	}

	stageDir := warehouse.StagePath(stage.String(), short)
	for _, f := range files {
		if err := s.upload(ctx, f.Path, stageDir+"/"+AppDir+"/"+f.Rel); err != nil {
			return nil, fail("upload payload", err)
		}
	}
	log.Info("uploaded payload", "files", len(files), "stage_dir", stageDir)

	if err := s.files.Put(ctx, bytes.NewReader(LauncherScript()), stageDir+"/"+SystemDir+"/"+LauncherName, true); err != nil {
		return nil, fail("upload launcher", err)
	}
	if len(opts.PipRequirements) > 0 {
		reqs := strings.Join(opts.PipRequirements, "\n") + "\n"
		if err := s.files.Put(ctx, strings.NewReader(reqs), stageDir+"/"+SystemDir+"/requirements.txt", true); err != nil {
			return nil, fail("upload requirements", err)
		}
	}

	spec, err := RenderSpec(SpecParams{
		JobID:      id.String(),
		Image:      s.cfg.RuntimeImage,
		StageDir:   stageDir,
		Entrypoint: entrypoint,
		Args:       opts.Args,
	})
	if err != nil {
		return nil, fail("render spec", err)
	}

	query, err := s.executeStatement(pool, id, spec, opts.ExternalAccessIntegrations)
	if err != nil {
		return nil, fail("build statement", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fail("execute job service", err)
	}
	log.Info("submitted job", "compute_pool", pool.String(), "entrypoint", entrypoint)

	return &remoteJob{id: id, stage: stage.String(), db: s.db, files: s.files}, nil
}

// GetJob returns a handle on an existing job. id may be qualified or a bare
// MLJOB_ name. The job must exist.
func (s *Service) GetJob(ctx context.Context, id string) (Job, error) {
	name, err := warehouse.ParseName(id)
	if err != nil {
		return nil, err
	}
	name = name.WithDefaults(s.cfg.Database, s.cfg.Schema)

	stage, err := s.stageName("")
	if err != nil {
		return nil, err
	}
	job := &remoteJob{id: name, stage: stage.String(), db: s.db, files: s.files}
	if _, err := job.Status(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) validate(opts SubmitOptions) (warehouse.Name, warehouse.Name, error) {
	var none warehouse.Name

	info, err := s.fs.Stat(opts.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return none, none, apperrors.NotFound("directory", opts.Dir)
		}
		return none, none, fmt.Errorf("failed to stat %s: %w", opts.Dir, err)
	}
	if !info.IsDir() {
		return none, none, apperrors.Validation("dir", fmt.Sprintf("%s is not a directory", opts.Dir))
	}

	if opts.Entrypoint == "" {
		return none, none, apperrors.Validation("entrypoint", "entrypoint is required")
	}
	if filepath.IsAbs(opts.Entrypoint) {
		return none, none, apperrors.Validation("entrypoint", "entrypoint must be relative to the directory")
	}
	rel := filepath.Clean(opts.Entrypoint)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return none, none, apperrors.Validation("entrypoint", fmt.Sprintf("entrypoint %s is outside %s", opts.Entrypoint, opts.Dir))
	}
	if ok, _ := afero.Exists(s.fs, filepath.Join(opts.Dir, rel)); !ok {
		return none, none, apperrors.NotFound("entrypoint", filepath.Join(opts.Dir, rel))
	}

	for _, a := range opts.Args {
		if strings.Contains(a, "$$") {
			return none, none, apperrors.Validation("args", "arguments must not contain $$")
		}
	}

	pool, err := warehouse.ParseName(opts.ComputePool)
	if err != nil {
		return none, none, err
	}
	if pool.Schema != "" {
		return none, none, apperrors.Validation("compute_pool", "compute pool names are not schema-qualified")
	}
	stage, err := s.stageName(opts.Stage)
	if err != nil {
		return none, none, err
	}
	return pool, stage, nil
}

func (s *Service) stageName(stage string) (warehouse.Name, error) {
	if stage == "" {
		stage = s.cfg.Stage
	}
	name, err := warehouse.ParseName(strings.TrimPrefix(stage, "@"))
	if err != nil {
		return warehouse.Name{}, err
	}
	return name.WithDefaults(s.cfg.Database, s.cfg.Schema), nil
}

func (s *Service) upload(ctx context.Context, local, stagePath string) error {
	f, err := s.fs.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.files.Put(ctx, f, stagePath, true)
}

func (s *Service) executeStatement(pool, id warehouse.Name, spec string, integrations []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "EXECUTE JOB SERVICE\nIN COMPUTE POOL %s\nFROM SPECIFICATION $$\n%s$$\nNAME = %s\nASYNC = TRUE", pool, spec, id)

	if s.cfg.QueryWarehouse != "" {
		wh, err := warehouse.ParseName(s.cfg.QueryWarehouse)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\nQUERY_WAREHOUSE = %s", wh)
	}
	if len(integrations) > 0 {
		names := make([]string, 0, len(integrations))
		for _, i := range integrations {
			n, err := warehouse.ParseName(i)
			if err != nil {
				return "", err
			}
			names = append(names, n.String())
		}
		fmt.Fprintf(&b, "\nEXTERNAL_ACCESS_INTEGRATIONS = (%s)", strings.Join(names, ", "))
	}
	return b.String(), nil
}

func containsRel(files []PayloadFile, rel string) bool {
	for _, f := range files {
		if f.Rel == rel {
			return true
		}
	}
	return false
}
