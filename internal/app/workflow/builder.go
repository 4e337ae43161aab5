package workflow

import (
	"encoding/json"
	"fmt"
	"maps"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/pointer"

	"github.com/openctemio/qualitygate/pkg/domain/execution"
	"github.com/openctemio/qualitygate/pkg/validator"
)

const (
	apiVersion   = "argoproj.io/v1alpha1"
	kind         = "Workflow"
	generateName = "qg-run-"
	entrypoint   = "qg-run"
	engineCmd    = "qg-engine run"
)

// Definition is the result of Build.
type Definition struct {
	// Files is the bundle to upload under the run's storage path: the
	// configuration files plus the generated side files.
	Files map[string][]byte
	// Spec is the serialized workflow ready for submission.
	Spec          execution.JobSpec
	Workflow      *Workflow
	Image         string
	SchemaVersion *semver.Version
}

// Build validates opts and produces the job for one run.
// A configuration whose version no image rule accepts yields a *FormatError.
func Build(opts Options) (*Definition, error) {
	if err := validator.New().Validate(opts); err != nil {
		return nil, fmt.Errorf("invalid workflow options: %w", err)
	}

	b := newBuilder(opts)
	steps := []func() error{
		b.loadConfig,
		b.applyCloud,
		b.writeVariables,
		b.materializeEnvironment,
		b.materializeInputs,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return b.build()
}

type stage int

const (
	stageNew stage = iota
	stageConfigured
	stageCloud
	stageVariables
	stageEnvironment
	stageInputs
)

// builder assembles a job in a fixed order of stages.
type builder struct {
	opts  Options
	stage stage

	files   map[string][]byte
	version *semver.Version
	image   string

	documentedEnv map[string]string
	env           []corev1.EnvVar
	inputs        []Artifact
}

func newBuilder(opts Options) *builder {
	return &builder{
		opts:  opts,
		stage: stageNew,
		files: maps.Clone(opts.Files),
	}
}

func (b *builder) advance(from, to stage) error {
	if b.stage != from {
		return fmt.Errorf("%w: at stage %d, expected %d", ErrStageOrder, b.stage, from)
	}
	b.stage = to
	return nil
}

type rootDocument struct {
	Metadata struct {
		Version string `yaml:"version"`
	} `yaml:"metadata"`
}

// loadConfig reads the schema version of the root file and picks the image.
func (b *builder) loadConfig() error {
	if err := b.advance(stageNew, stageConfigured); err != nil {
		return err
	}

	content, ok := b.files[b.opts.RootFile]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingRootFile, b.opts.RootFile)
	}

	var doc rootDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return newFormatError("%s is not a valid YAML document", b.opts.RootFile)
	}
	raw := strings.TrimSpace(doc.Metadata.Version)
	if raw == "" {
		return newFormatError("%s does not declare metadata.version", b.opts.RootFile)
	}
	version, err := semver.NewVersion(raw)
	if err != nil {
		return newFormatError("version %q of %s is not a valid version", raw, b.opts.RootFile)
	}

	for _, rule := range b.opts.Images {
		constraint, err := semver.NewConstraint(rule.Constraint)
		if err != nil {
			return fmt.Errorf("invalid image constraint %q: %w", rule.Constraint, err)
		}
		if constraint.Check(version) {
			b.version = version
			b.image = rule.Image
			return nil
		}
	}
	return newFormatError("configuration version %s is not supported", raw)
}

// applyCloud collects the proxy and CA variables of a private cloud.
func (b *builder) applyCloud() error {
	if err := b.advance(stageConfigured, stageCloud); err != nil {
		return err
	}

	cloud := b.opts.Cloud
	if !cloud.Private {
		return nil
	}

	b.documentedEnv = map[string]string{
		"REQUESTS_CA_BUNDLE":  CABundlePath,
		"SSL_CERT_FILE":       CABundlePath,
		"NODE_EXTRA_CA_CERTS": CABundlePath,
	}
	for name, value := range map[string]string{
		"HTTP_PROXY":  cloud.HTTPProxy,
		"HTTPS_PROXY": cloud.HTTPSProxy,
		"NO_PROXY":    cloud.NoProxy,
	} {
		if value == "" {
			continue
		}
		b.documentedEnv[name] = value
		b.documentedEnv[strings.ToLower(name)] = value
	}
	return nil
}

// writeVariables serializes variables and secrets to their side files.
// A key present in both belongs to the secrets only.
func (b *builder) writeVariables() error {
	if err := b.advance(stageCloud, stageVariables); err != nil {
		return err
	}

	vars := make(map[string]string, len(b.opts.Environment))
	for k, v := range b.opts.Environment {
		if _, secret := b.opts.Secrets[k]; secret {
			continue
		}
		vars[k] = v
	}
	secrets := maps.Clone(b.opts.Secrets)
	if secrets == nil {
		secrets = map[string]string{}
	}

	if err := b.writeJSON(VarsFile, vars); err != nil {
		return err
	}
	if err := b.writeJSON(SecretsFile, secrets); err != nil {
		return err
	}
	if b.documentedEnv != nil {
		return b.writeJSON(DocumentedEnvFile, b.documentedEnv)
	}
	return nil
}

func (b *builder) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	b.files[name] = data
	return nil
}

// materializeEnvironment builds the container environment.
func (b *builder) materializeEnvironment() error {
	if err := b.advance(stageVariables, stageEnvironment); err != nil {
		return err
	}

	b.env = []corev1.EnvVar{
		{Name: "QG_CONFIG_DIR", Value: ConfigDir},
		{Name: "QG_RESULT_DIR", Value: ResultDir},
		{Name: "QG_VARS_FILE", Value: path.Join(ConfigDir, VarsFile)},
		{Name: "QG_SECRETS_FILE", Value: path.Join(ConfigDir, SecretsFile)},
	}
	for _, name := range slices.Sorted(maps.Keys(b.documentedEnv)) {
		b.env = append(b.env, corev1.EnvVar{Name: name, Value: b.documentedEnv[name]})
	}
	return nil
}

var artifactNameRegex = regexp.MustCompile(`[^a-z0-9]+`)

// materializeInputs declares one input artifact per bundle file.
func (b *builder) materializeInputs() error {
	if err := b.advance(stageEnvironment, stageInputs); err != nil {
		return err
	}

	used := make(map[string]int)
	for _, name := range slices.Sorted(maps.Keys(b.files)) {
		artifactName := strings.Trim(artifactNameRegex.ReplaceAllString(strings.ToLower(name), "-"), "-")
		if artifactName == "" {
			artifactName = "file"
		}
		used[artifactName]++
		if n := used[artifactName]; n > 1 {
			artifactName = fmt.Sprintf("%s-%d", artifactName, n)
		}

		b.inputs = append(b.inputs, Artifact{
			Name: artifactName,
			Path: path.Join(ConfigDir, name),
			S3:   &S3Artifact{Key: b.opts.StoragePath + "/" + name},
		})
	}
	return nil
}

func (b *builder) build() (*Definition, error) {
	if b.stage != stageInputs {
		return nil, fmt.Errorf("%w: build at stage %d", ErrStageOrder, b.stage)
	}

	command := engineCmd
	if b.opts.Selector != nil {
		command += " " + b.opts.Selector.String()
	}

	pullPolicy := b.opts.PullPolicy
	if pullPolicy == "" {
		pullPolicy = corev1.PullIfNotPresent
	}

	wf := &Workflow{
		APIVersion: apiVersion,
		Kind:       kind,
		Metadata: metav1.ObjectMeta{
			GenerateName: generateName,
			Namespace:    b.opts.Namespace,
			Labels:       maps.Clone(b.opts.Labels),
		},
		Spec: WorkflowSpec{
			Entrypoint:            entrypoint,
			ActiveDeadlineSeconds: pointer.Int64(int64(b.opts.Timeout.Seconds())),
			Templates: []Template{{
				Name:   entrypoint,
				Inputs: Artifacts{Artifacts: b.inputs},
				Outputs: Artifacts{Artifacts: []Artifact{
					outputArtifact("evidence", EvidenceFile, EvidenceKey(b.opts.StoragePath)),
					outputArtifact("result", ResultFile, ResultKey(b.opts.StoragePath)),
				}},
				Container: &corev1.Container{
					Name:            "main",
					Image:           b.image,
					ImagePullPolicy: pullPolicy,
					Command:         []string{"sh", "-c"},
					Args:            []string{command},
					Env:             b.env,
					WorkingDir:      ConfigDir,
				},
			}},
		},
	}
	if b.opts.Cloud.Private && b.opts.Cloud.PullSecret != "" {
		wf.Spec.ImagePullSecrets = []corev1.LocalObjectReference{{Name: b.opts.Cloud.PullSecret}}
	}

	body, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}

	return &Definition{
		Files:         b.files,
		Spec:          execution.JobSpec{Namespace: b.opts.Namespace, Workflow: body},
		Workflow:      wf,
		Image:         b.image,
		SchemaVersion: b.version,
	}, nil
}

func outputArtifact(name, file, key string) Artifact {
	return Artifact{
		Name:    name,
		Path:    path.Join(ResultDir, file),
		S3:      &S3Artifact{Key: key},
		Archive: &ArchiveStrategy{None: &NoneStrategy{}},
	}
}
