package mljob

import (
	_ "embed"
	"fmt"
	"path"

	"gopkg.in/yaml.v3"
)

// Container layout of a job. The job's stage directory is mounted at StageMount.
const (
	ContainerName  = "main"
	StageMount     = "/mnt/job_stage"
	stageVolume    = "stage-volume"
	LauncherName   = "mljob_launcher.py"
	ResultFileName = "mljob_result.json"
)

// Stage subdirectories, relative to the job's stage directory.
const (
	AppDir    = "app"
	SystemDir = "system"
	OutputDir = "output"
)

//go:embed launcher.py
var launcherScript []byte

// LauncherScript returns the Python wrapper that runs the entrypoint and writes the result file.
func LauncherScript() []byte {
	return launcherScript
}

// ServiceSpec is the job service specification document.
type ServiceSpec struct {
	Spec Spec `yaml:"spec"`
}

type Spec struct {
	Containers []Container `yaml:"containers"`
	Volumes    []Volume    `yaml:"volumes"`
}

type Container struct {
	Name         string            `yaml:"name"`
	Image        string            `yaml:"image"`
	Command      []string          `yaml:"command"`
	Env          map[string]string `yaml:"env,omitempty"`
	VolumeMounts []VolumeMount     `yaml:"volumeMounts"`
}

type VolumeMount struct {
	Name      string `yaml:"name"`
	MountPath string `yaml:"mountPath"`
}

type Volume struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

// SpecParams are the inputs to RenderSpec.
type SpecParams struct {
	JobID      string
	Image      string
	StageDir   string // @stage/<job id>
	Entrypoint string // relative to the payload root, slash-separated
	Args       []string
}

// NewServiceSpec builds the specification for a single-container job.
func NewServiceSpec(p SpecParams) ServiceSpec {
	cmd := []string{
		"python",
		path.Join(StageMount, SystemDir, LauncherName),
		path.Join(StageMount, AppDir, p.Entrypoint),
		"--result-path", ResultMountPath(),
		"--",
	}
	cmd = append(cmd, p.Args...)

	return ServiceSpec{Spec: Spec{
		Containers: []Container{{
			Name:    ContainerName,
			Image:   p.Image,
			Command: cmd,
			Env: map[string]string{
				"MLJOB_ID":         p.JobID,
				"PYTHONUNBUFFERED": "1",
			},
			VolumeMounts: []VolumeMount{{Name: stageVolume, MountPath: StageMount}},
		}},
		Volumes: []Volume{{Name: stageVolume, Source: p.StageDir}},
	}}
}

// RenderSpec renders the specification as YAML.
func RenderSpec(p SpecParams) (string, error) {
	out, err := yaml.Marshal(NewServiceSpec(p))
	if err != nil {
		return "", fmt.Errorf("failed to render job spec: %w", err)
	}
	return string(out), nil
}

// ResultMountPath is where the launcher writes the result inside the container.
func ResultMountPath() string {
	return path.Join(StageMount, OutputDir, ResultFileName)
}
