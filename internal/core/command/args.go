package command

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// Variables
// =============================================================================

// Variable is a service environment variable. Value never serializes.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"-"`
}

// =============================================================================
// Argument Builders
// =============================================================================

// DeployArgs builds `up` arguments that build and deploy the service and block
// until the provider reports the outcome.
func DeployArgs(service, environment string) []string {
	return []string{"--service", service, "--environment", environment, "--ci"}
}

// RedeployArgs builds `redeploy` arguments that roll the service back to a
// previously built artifact without rebuilding.
func RedeployArgs(service, providerDeploymentID string) []string {
	return []string{"--service", service, "--deployment", providerDeploymentID, "--yes"}
}

// RestartArgs builds `restart` arguments.
func RestartArgs(service string) []string {
	return []string{"--service", service, "--yes"}
}

// StatusArgs builds `status` arguments.
func StatusArgs() []string {
	return []string{"--json"}
}

// VariableSetArgs builds `variable set` arguments. skipDeploy stops the provider
// from redeploying on its own; the orchestrator decides when to redeploy.
func VariableSetArgs(service, environment string, vars []Variable, skipDeploy bool) []string {
	args := make([]string, 0, len(vars)+6)
	args = append(args, "set")
	for _, v := range vars {
		args = append(args, v.Name+"="+v.Value)
	}
	args = append(args, "--service", service, "--environment", environment)
	if skipDeploy {
		args = append(args, "--skip-deploys")
	}
	return args
}

// VariableDeleteArgs builds `variable delete` arguments.
func VariableDeleteArgs(service, environment, name string) []string {
	return []string{"delete", name, "--service", service, "--environment", environment}
}

// VariableListArgs builds `variable list` arguments with JSON output.
func VariableListArgs(service, environment string) []string {
	return []string{"list", "--service", service, "--environment", environment, "--json"}
}

// DomainAddArgs builds `domain` arguments. An empty hostname asks the provider
// to generate one.
func DomainAddArgs(service, hostname string) []string {
	if hostname == "" {
		return []string{"--service", service}
	}
	return []string{hostname, "--service", service}
}

// DomainRemoveArgs builds `domain remove` arguments.
func DomainRemoveArgs(service, hostname string) []string {
	return []string{"remove", hostname, "--service", service}
}

// LogsArgs builds `logs` arguments for one provider deployment.
func LogsArgs(providerDeploymentID string, build bool) []string {
	args := []string{"--deployment", providerDeploymentID}
	if build {
		args = append(args, "--build")
	}
	return args
}

// AddServiceArgs builds `add` arguments. Databases and caches are provisioned
// from a provider template named by engine.
func AddServiceArgs(name, serviceType, engine string) []string {
	switch serviceType {
	case "database":
		if engine == "" {
			engine = "postgres"
		}
		return []string{"--database", engine}
	case "cache":
		if engine == "" {
			engine = "redis"
		}
		return []string{"--database", engine}
	}
	return []string{"--service", name}
}

// =============================================================================
// Output Parsers
// =============================================================================

// DeployOutput is what the orchestrator extracts from `up`/`redeploy` output.
type DeployOutput struct {
	ProviderDeploymentID string
	URL                  string
}

var (
	deploymentIDLine = regexp.MustCompile(`(?i)deployment(?:\s+id)?\s*[:=]\s*([A-Za-z0-9][A-Za-z0-9-]{5,63})`)
	deploymentIDLink = regexp.MustCompile(`[?&]id=([A-Za-z0-9][A-Za-z0-9-]{5,63})`)
	urlLine          = regexp.MustCompile(`(?i)(url|domain|live at|available at)`)
	httpsURL         = regexp.MustCompile(`https://[^\s"'<>]+`)
)

// ParseDeployOutput scans CLI output for the provider deployment id and the
// public URL. Missing values are left empty.
func ParseDeployOutput(stdout string) DeployOutput {
	var out DeployOutput
	for _, line := range splitLines(stdout) {
		if out.ProviderDeploymentID == "" {
			if m := deploymentIDLine.FindStringSubmatch(line); m != nil {
				out.ProviderDeploymentID = m[1]
			} else if m := deploymentIDLink.FindStringSubmatch(line); m != nil {
				out.ProviderDeploymentID = m[1]
			}
		}
		if out.URL == "" && urlLine.MatchString(line) && !strings.Contains(line, "?id=") {
			if u := httpsURL.FindString(line); u != "" {
				out.URL = strings.TrimRight(u, ".,;")
			}
		}
	}
	return out
}

// ParseVariableNames decodes `variable list --json` output and returns the
// sorted variable names. Values are discarded.
func ParseVariableNames(stdout string) ([]string, error) {
	var vars map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &vars); err != nil {
		return nil, fmt.Errorf("parse variable list: %w", err)
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}
